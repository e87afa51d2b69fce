// Package telegram provides the MTProto transport adapter for the
// forwarder: dialog listing, windowed message streaming, forwarding and
// destination maintenance, all rate-limit- and retry-aware.
package telegram

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tg-forwarder/internal/cursor"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/retry"
)

const channelMarkOffset = int64(1000000000000)

// historyBatchSize is the page size for history requests (API max is 100).
const historyBatchSize = 100

// peerInfo caches everything needed to address and describe one chat.
type peerInfo struct {
	input   tg.InputPeerClass
	title   string
	kind    ChatKind
	isForum bool
}

// Client wraps the gotgproto client with the high-level operations the
// forwarder needs. All API calls go through the rate limiter and the
// retry primitive.
type Client struct {
	proto   *gotgproto.Client
	limiter *RateLimiter
	log     *logger.Logger

	peers         map[int64]peerInfo
	dialogsLoaded bool
}

// NewClient creates a client wrapper around an authorized gotgproto client.
func NewClient(proto *gotgproto.Client) *Client {
	return &Client{
		proto:   proto,
		limiter: DefaultRateLimiter(),
		log:     logger.Get(),
		peers:   make(map[int64]peerInfo),
	}
}

// Close stops the underlying client.
func (c *Client) Close() {
	if c.proto != nil {
		c.proto.Stop()
	}
}

func (c *Client) api() *tg.Client {
	return c.proto.API()
}

// invoke runs one API call under the rate limiter and retry policy.
// FLOOD_WAIT hints additionally pause the limiter for subsequent calls.
func (c *Client) invoke(ctx context.Context, op func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return retry.Do(ctx, retry.DefaultPolicy(), func() error {
		err := op()
		if err != nil {
			if wait, ok := retry.FloodWait(err); ok {
				seconds := int(wait / time.Second)
				c.log.Warn().Int("wait_seconds", seconds).Msg("telegram: FLOOD_WAIT, pausing")
				c.limiter.SetFloodWait(seconds)
			}
		}
		return err
	})
}

// ListDialogs returns the account's dialogs in listing order and fills
// the peer cache as a side effect.
func (c *Client) ListDialogs(ctx context.Context) ([]Dialog, error) {
	var out []Dialog

	offsetPeer := tg.InputPeerClass(&tg.InputPeerEmpty{})
	offsetID := 0
	offsetDate := 0

	for {
		var resp tg.MessagesDialogsClass
		err := c.invoke(ctx, func() error {
			var callErr error
			resp, callErr = c.api().MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      historyBatchSize,
			})
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("get dialogs: %w", err)
		}

		var dialogs []tg.DialogClass
		var messages []tg.MessageClass
		var users []tg.UserClass
		var chats []tg.ChatClass
		more := false

		switch d := resp.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages, users, chats = d.Dialogs, d.Messages, d.Users, d.Chats
		case *tg.MessagesDialogsSlice:
			dialogs, messages, users, chats = d.Dialogs, d.Messages, d.Users, d.Chats
			more = len(dialogs) >= historyBatchSize
		default:
			return out, nil
		}

		c.indexPeers(users, chats)
		userIndex, chatIndex := indexEntities(users, chats)

		for _, dc := range dialogs {
			dialog, ok := dc.(*tg.Dialog)
			if !ok {
				continue
			}
			chatID := markedID(dialog.Peer)
			kind, isForum := ClassifyPeer(dialog.Peer, userIndex, chatIndex)
			info := c.peers[chatID]
			out = append(out, Dialog{
				ChatID:  chatID,
				Title:   info.title,
				Kind:    kind,
				IsForum: isForum,
			})
		}

		if !more || len(dialogs) == 0 {
			break
		}
		last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
		if !ok {
			break
		}
		offsetID = last.TopMessage
		offsetDate = topMessageDate(messages, last.Peer, last.TopMessage)
		if info, ok := c.peers[markedID(last.Peer)]; ok {
			offsetPeer = info.input
		} else {
			offsetPeer = &tg.InputPeerEmpty{}
		}
	}

	c.dialogsLoaded = true
	return out, nil
}

// ListForumTopics lists topics for a forum supergroup, up to limit.
func (c *Client) ListForumTopics(ctx context.Context, chatID int64, limit int) ([]Topic, error) {
	channel, err := c.resolveChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var resp *tg.MessagesForumTopics
	err = c.invoke(ctx, func() error {
		var callErr error
		resp, callErr = c.api().MessagesGetForumTopics(ctx, &tg.MessagesGetForumTopicsRequest{
			Peer: &tg.InputPeerChannel{
				ChannelID:  channel.ChannelID,
				AccessHash: channel.AccessHash,
			},
			Limit: limit,
		})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("get forum topics: %w", err)
	}

	var topics []Topic
	for _, t := range resp.Topics {
		topic, ok := t.(*tg.ForumTopic)
		if !ok {
			continue
		}
		topics = append(topics, Topic{ID: topic.ID, Title: topic.Title})
	}
	return topics, nil
}

// IterMessagesSince streams messages of a chat (optionally scoped to a
// forum topic) bounded below by the fetch window, oldest to newest.
// A non-nil error from fn stops the stream and is returned as-is.
func (c *Client) IterMessagesSince(ctx context.Context, chatID int64, topicID *int, window cursor.FetchWindow, fn func(Message) error) error {
	peer, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return err
	}
	title := c.peers[chatID].title

	lastID := 0
	if window.MinID != nil {
		lastID = *window.MinID
	}
	offsetDate := 0
	if window.MinID == nil && window.Since != nil {
		offsetDate = int(window.Since.UTC().Unix())
	}

	for {
		var raw []tg.MessageClass
		err := c.invoke(ctx, func() error {
			var callErr error
			raw, callErr = c.historyPage(ctx, peer, topicID, lastID, offsetDate)
			return callErr
		})
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}
		offsetDate = 0

		batch := parseMessages(raw, chatID, title)
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID < batch[j].ID })

		progressed := false
		for _, msg := range batch {
			if msg.ID <= lastID {
				continue
			}
			lastID = msg.ID
			progressed = true
			if window.Since != nil && msg.Date.Before(*window.Since) {
				continue
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		if !progressed {
			return nil
		}
	}
}

// IterRecentMessages streams up to limit of the chat's newest messages,
// newest first. Used for topic-id inference on forums.
func (c *Client) IterRecentMessages(ctx context.Context, chatID int64, limit int, fn func(Message) error) error {
	peer, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return err
	}
	title := c.peers[chatID].title

	offsetID := 0
	seen := 0
	for seen < limit {
		var raw []tg.MessageClass
		err := c.invoke(ctx, func() error {
			var callErr error
			var resp tg.MessagesMessagesClass
			resp, callErr = c.api().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:     peer,
				OffsetID: offsetID,
				Limit:    historyBatchSize,
			})
			if callErr != nil {
				return callErr
			}
			raw = extractMessages(resp)
			return nil
		})
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}

		batch := parseMessages(raw, chatID, title)
		if len(batch) == 0 {
			return nil
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i].ID > batch[j].ID })
		for _, msg := range batch {
			if err := fn(msg); err != nil {
				return err
			}
			seen++
			if seen >= limit {
				return nil
			}
			offsetID = msg.ID
		}
	}
	return nil
}

// ForwardMessage natively forwards a message into the destination chat.
func (c *Client) ForwardMessage(ctx context.Context, destinationChatID int64, msg Message) error {
	from, err := c.resolvePeer(ctx, msg.ChatID)
	if err != nil {
		return err
	}
	to, err := c.resolvePeer(ctx, destinationChatID)
	if err != nil {
		return err
	}
	return c.invoke(ctx, func() error {
		_, callErr := c.api().MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: from,
			ToPeer:   to,
			ID:       []int{msg.ID},
			RandomID: []int64{rand.Int63()},
		})
		return callErr
	})
}

// CopyMessage re-sends the message's media and/or text as a new message.
func (c *Client) CopyMessage(ctx context.Context, destinationChatID int64, msg Message) error {
	to, err := c.resolvePeer(ctx, destinationChatID)
	if err != nil {
		return err
	}

	if media := inputMediaFrom(msg.Media); media != nil {
		return c.invoke(ctx, func() error {
			_, callErr := c.api().MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
				Peer:     to,
				Media:    media,
				Message:  msg.Text,
				RandomID: rand.Int63(),
			})
			return callErr
		})
	}
	if msg.Text == "" {
		return fmt.Errorf("message %d has no copyable content", msg.ID)
	}
	return c.invoke(ctx, func() error {
		_, callErr := c.api().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     to,
			Message:  msg.Text,
			RandomID: rand.Int63(),
		})
		return callErr
	})
}

// SendTextMessage sends a plain text message to a chat.
func (c *Client) SendTextMessage(ctx context.Context, chatID int64, text string) error {
	peer, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return err
	}
	return c.invoke(ctx, func() error {
		_, callErr := c.api().MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  text,
			RandomID: rand.Int63(),
		})
		return callErr
	})
}

// DeleteAllMessages deletes every message in a chat, in batches, and
// returns how many were deleted.
func (c *Client) DeleteAllMessages(ctx context.Context, chatID int64) (int, error) {
	peer, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	prevTop := -1
	for {
		var ids []int
		err := c.invoke(ctx, func() error {
			resp, callErr := c.api().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
				Peer:  peer,
				Limit: historyBatchSize,
			})
			if callErr != nil {
				return callErr
			}
			ids = ids[:0]
			for _, m := range extractMessages(resp) {
				switch msg := m.(type) {
				case *tg.Message:
					ids = append(ids, msg.ID)
				case *tg.MessageService:
					ids = append(ids, msg.ID)
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("get history: %w", err)
		}
		if len(ids) == 0 {
			return deleted, nil
		}
		if ids[0] == prevTop {
			// some messages cannot be deleted (e.g. service messages in
			// channels we don't own); stop instead of spinning
			return deleted, nil
		}
		prevTop = ids[0]

		err = c.invoke(ctx, func() error {
			return c.deleteMessages(ctx, peer, ids)
		})
		if err != nil {
			return deleted, fmt.Errorf("delete messages: %w", err)
		}
		deleted += len(ids)
	}
}

func (c *Client) deleteMessages(ctx context.Context, peer tg.InputPeerClass, ids []int) error {
	if channel, ok := peer.(*tg.InputPeerChannel); ok {
		_, err := c.api().ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{
				ChannelID:  channel.ChannelID,
				AccessHash: channel.AccessHash,
			},
			ID: ids,
		})
		return err
	}
	_, err := c.api().MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		Revoke: true,
		ID:     ids,
	})
	return err
}

// historyPage fetches one ascending page: the messages immediately newer
// than offsetID (or offsetDate on the first page of a time-bound window).
func (c *Client) historyPage(ctx context.Context, peer tg.InputPeerClass, topicID *int, offsetID, offsetDate int) ([]tg.MessageClass, error) {
	if topicID != nil {
		resp, err := c.api().MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
			Peer:       peer,
			MsgID:      *topicID, // the topic id is its root message id
			OffsetID:   offsetID,
			OffsetDate: offsetDate,
			AddOffset:  -historyBatchSize,
			Limit:      historyBatchSize,
		})
		if err != nil {
			return nil, err
		}
		return extractMessages(resp), nil
	}
	resp, err := c.api().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:       peer,
		OffsetID:   offsetID,
		OffsetDate: offsetDate,
		AddOffset:  -historyBatchSize,
		Limit:      historyBatchSize,
	})
	if err != nil {
		return nil, err
	}
	return extractMessages(resp), nil
}

// resolvePeer maps a marked chat id to an input peer, loading the dialog
// list once on demand to learn access hashes.
func (c *Client) resolvePeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	if info, ok := c.peers[chatID]; ok {
		return info.input, nil
	}
	if !c.dialogsLoaded {
		if _, err := c.ListDialogs(ctx); err != nil {
			return nil, err
		}
		if info, ok := c.peers[chatID]; ok {
			return info.input, nil
		}
	}
	return nil, fmt.Errorf("unknown chat %d: not present in account dialogs", chatID)
}

func (c *Client) resolveChannel(ctx context.Context, chatID int64) (*tg.InputPeerChannel, error) {
	peer, err := c.resolvePeer(ctx, chatID)
	if err != nil {
		return nil, err
	}
	channel, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("chat %d is not a channel", chatID)
	}
	return channel, nil
}

// indexPeers records input peers and display titles for every entity in a
// dialogs response, keyed by marked chat id.
func (c *Client) indexPeers(users []tg.UserClass, chats []tg.ChatClass) {
	for _, uc := range users {
		user, ok := uc.(*tg.User)
		if !ok {
			continue
		}
		c.peers[user.ID] = peerInfo{
			input: &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
			title: userTitle(user),
			kind:  KindPrivate,
		}
	}
	for _, cc := range chats {
		switch chat := cc.(type) {
		case *tg.Chat:
			c.peers[-chat.ID] = peerInfo{
				input: &tg.InputPeerChat{ChatID: chat.ID},
				title: chat.Title,
				kind:  KindGroup,
			}
		case *tg.Channel:
			kind := KindChannel
			if chat.Megagroup {
				kind = KindSupergroup
			}
			c.peers[-channelMarkOffset-chat.ID] = peerInfo{
				input:   &tg.InputPeerChannel{ChannelID: chat.ID, AccessHash: chat.AccessHash},
				title:   chat.Title,
				kind:    kind,
				isForum: chat.Forum,
			}
		}
	}
}

// markedID converts a peer reference into the Bot-API-style marked id
// used in configuration and listings.
func markedID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -channelMarkOffset - p.ChannelID
	}
	return 0
}

func userTitle(user *tg.User) string {
	parts := make([]string, 0, 2)
	if user.FirstName != "" {
		parts = append(parts, user.FirstName)
	}
	if user.LastName != "" {
		parts = append(parts, user.LastName)
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return user.Username
}

func indexEntities(users []tg.UserClass, chats []tg.ChatClass) (map[int64]*tg.User, map[int64]tg.ChatClass) {
	userIndex := make(map[int64]*tg.User, len(users))
	for _, uc := range users {
		if user, ok := uc.(*tg.User); ok {
			userIndex[user.ID] = user
		}
	}
	chatIndex := make(map[int64]tg.ChatClass, len(chats))
	for _, cc := range chats {
		switch chat := cc.(type) {
		case *tg.Chat:
			chatIndex[chat.ID] = chat
		case *tg.Channel:
			chatIndex[chat.ID] = chat
		}
	}
	return userIndex, chatIndex
}

func extractMessages(resp tg.MessagesMessagesClass) []tg.MessageClass {
	switch h := resp.(type) {
	case *tg.MessagesMessages:
		return h.Messages
	case *tg.MessagesMessagesSlice:
		return h.Messages
	case *tg.MessagesChannelMessages:
		return h.Messages
	}
	return nil
}

func parseMessages(raw []tg.MessageClass, chatID int64, chatTitle string) []Message {
	out := make([]Message, 0, len(raw))
	for _, mc := range raw {
		if m := parseMessage(mc, chatID, chatTitle); m != nil {
			out = append(out, *m)
		}
	}
	return out
}

// parseMessage converts one history entry. Service messages (joins, pins)
// become textless entries: they never match a keyword, but their ids must
// keep pagination and cursors moving, or a page full of them would end a
// scan with newer messages still pending.
func parseMessage(mc tg.MessageClass, chatID int64, chatTitle string) *Message {
	switch msg := mc.(type) {
	case *tg.Message:
		media := msg.Media
		if _, empty := media.(*tg.MessageMediaEmpty); empty {
			media = nil
		}
		return &Message{
			ID:        msg.ID,
			ChatID:    chatID,
			ChatTitle: chatTitle,
			Text:      msg.Message,
			Date:      time.Unix(int64(msg.Date), 0).UTC(),
			TopicID:   parseTopicID(msg.ReplyTo),
			Media:     media,
		}
	case *tg.MessageService:
		return &Message{
			ID:        msg.ID,
			ChatID:    chatID,
			ChatTitle: chatTitle,
			Date:      time.Unix(int64(msg.Date), 0).UTC(),
			TopicID:   parseTopicID(msg.ReplyTo),
		}
	}
	return nil
}

func parseTopicID(reply tg.MessageReplyHeaderClass) *int {
	header, ok := reply.(*tg.MessageReplyHeader)
	if !ok || !header.ForumTopic {
		return nil
	}
	tid := header.ReplyToMsgID
	if top, ok := header.GetReplyToTopID(); ok {
		tid = top
	}
	return &tid
}

// topMessageDate finds the date of a dialog's top message for pagination.
func topMessageDate(messages []tg.MessageClass, peer tg.PeerClass, topMessage int) int {
	want := markedID(peer)
	for _, mc := range messages {
		switch m := mc.(type) {
		case *tg.Message:
			if m.ID == topMessage && markedID(m.PeerID) == want {
				return m.Date
			}
		case *tg.MessageService:
			if m.ID == topMessage && markedID(m.PeerID) == want {
				return m.Date
			}
		}
	}
	return 0
}

// inputMediaFrom converts message media into re-sendable input media.
// Returns nil for media kinds that cannot be re-sent by reference.
func inputMediaFrom(media tg.MessageMediaClass) tg.InputMediaClass {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return &tg.InputMediaPhoto{
			ID: &tg.InputPhoto{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
			},
		}
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return &tg.InputMediaDocument{
			ID: &tg.InputDocument{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			},
		}
	}
	return nil
}
