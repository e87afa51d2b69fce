package telegram

import (
	"time"

	"github.com/gotd/td/tg"
)

// ChatKind classifies a dialog peer. Closed set, resolved by ClassifyPeer.
type ChatKind string

const (
	KindPrivate    ChatKind = "private"
	KindGroup      ChatKind = "group"
	KindSupergroup ChatKind = "supergroup"
	KindChannel    ChatKind = "channel"
	KindUnknown    ChatKind = "unknown"
)

// Message is a parsed telegram message.
type Message struct {
	ID        int                  // message id (unique within chat)
	ChatID    int64                // marked chat id of the originating chat
	ChatTitle string               // originating chat title, if known
	Text      string               // text or caption
	Date      time.Time            // creation timestamp, UTC
	TopicID   *int                 // forum topic id (nil outside forums)
	Media     tg.MessageMediaClass // nil when the message has no media
}

// HasCopyableContent reports whether the message can be re-sent as a new
// message when a native forward is rejected.
func (m Message) HasCopyableContent() bool {
	return m.Media != nil || m.Text != ""
}

// Dialog is one entry of the account's dialog list.
type Dialog struct {
	ChatID  int64
	Title   string
	Kind    ChatKind
	IsForum bool
}

// Topic is a forum topic.
type Topic struct {
	ID    int
	Title string
}

// ClassifyPeer maps a dialog entity onto the closed chat-kind set.
// The forum flag is only meaningful for supergroups.
func ClassifyPeer(entity tg.PeerClass, users map[int64]*tg.User, chats map[int64]tg.ChatClass) (ChatKind, bool) {
	switch peer := entity.(type) {
	case *tg.PeerUser:
		if _, ok := users[peer.UserID]; ok {
			return KindPrivate, false
		}
	case *tg.PeerChat:
		if _, ok := chats[peer.ChatID]; ok {
			return KindGroup, false
		}
	case *tg.PeerChannel:
		if ch, ok := chats[peer.ChannelID].(*tg.Channel); ok {
			if ch.Megagroup {
				return KindSupergroup, ch.Forum
			}
			return KindChannel, false
		}
	}
	return KindUnknown, false
}
