package telegram

import (
	"context"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/require"
)

func TestMarkedID(t *testing.T) {
	tests := []struct {
		name string
		peer tg.PeerClass
		want int64
	}{
		{"user keeps raw id", &tg.PeerUser{UserID: 777}, 777},
		{"chat is negated", &tg.PeerChat{ChatID: 12345}, -12345},
		{"channel gets the mark offset", &tg.PeerChannel{ChannelID: 1111}, -1000000001111},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, markedID(tt.peer))
		})
	}
}

func TestClassifyPeer(t *testing.T) {
	users := map[int64]*tg.User{7: {ID: 7}}
	chats := map[int64]tg.ChatClass{
		10: &tg.Chat{ID: 10},
		20: &tg.Channel{ID: 20, Megagroup: true},
		21: &tg.Channel{ID: 21, Megagroup: true, Forum: true},
		30: &tg.Channel{ID: 30, Broadcast: true},
	}

	tests := []struct {
		name      string
		peer      tg.PeerClass
		wantKind  ChatKind
		wantForum bool
	}{
		{"private", &tg.PeerUser{UserID: 7}, KindPrivate, false},
		{"basic group", &tg.PeerChat{ChatID: 10}, KindGroup, false},
		{"supergroup", &tg.PeerChannel{ChannelID: 20}, KindSupergroup, false},
		{"forum supergroup", &tg.PeerChannel{ChannelID: 21}, KindSupergroup, true},
		{"broadcast channel", &tg.PeerChannel{ChannelID: 30}, KindChannel, false},
		{"unresolvable", &tg.PeerUser{UserID: 404}, KindUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, forum := ClassifyPeer(tt.peer, users, chats)
			require.Equal(t, tt.wantKind, kind)
			require.Equal(t, tt.wantForum, forum)
		})
	}
}

func TestParseMessage(t *testing.T) {
	t.Run("plain message", func(t *testing.T) {
		msg := parseMessage(&tg.Message{
			ID:      42,
			Message: "hello",
			Date:    1717236000,
		}, -100, "Some chat")

		require.NotNil(t, msg)
		require.Equal(t, 42, msg.ID)
		require.Equal(t, int64(-100), msg.ChatID)
		require.Equal(t, "Some chat", msg.ChatTitle)
		require.Equal(t, "hello", msg.Text)
		require.Equal(t, time.Unix(1717236000, 0).UTC(), msg.Date)
		require.Nil(t, msg.TopicID)
		require.Nil(t, msg.Media)
	})

	t.Run("forum topic from reply header", func(t *testing.T) {
		header := &tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 15}
		msg := parseMessage(&tg.Message{ID: 1, ReplyTo: header}, -100, "")
		require.NotNil(t, msg.TopicID)
		require.Equal(t, 15, *msg.TopicID)
	})

	t.Run("nested reply keeps the topic root", func(t *testing.T) {
		header := &tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 99}
		header.SetReplyToTopID(15)
		msg := parseMessage(&tg.Message{ID: 1, ReplyTo: header}, -100, "")
		require.NotNil(t, msg.TopicID)
		require.Equal(t, 15, *msg.TopicID)
	})

	t.Run("empty media collapses to nil", func(t *testing.T) {
		msg := parseMessage(&tg.Message{ID: 1, Media: &tg.MessageMediaEmpty{}}, -100, "")
		require.Nil(t, msg.Media)
		require.False(t, msg.HasCopyableContent())
	})

	t.Run("service messages keep ids flowing", func(t *testing.T) {
		msg := parseMessage(&tg.MessageService{ID: 50, Date: 1717236000}, -100, "")
		require.NotNil(t, msg, "a page of only service messages must still advance pagination")
		require.Equal(t, 50, msg.ID)
		require.Empty(t, msg.Text)
		require.False(t, msg.HasCopyableContent())
	})

	t.Run("service message in a forum topic", func(t *testing.T) {
		header := &tg.MessageReplyHeader{ForumTopic: true, ReplyToMsgID: 15}
		msg := parseMessage(&tg.MessageService{ID: 51, ReplyTo: header}, -100, "")
		require.NotNil(t, msg.TopicID)
		require.Equal(t, 15, *msg.TopicID)
	})
}

func TestParseMessages_ServiceOnlyPage(t *testing.T) {
	raw := []tg.MessageClass{
		&tg.MessageService{ID: 101, Date: 1717236000},
		&tg.MessageService{ID: 102, Date: 1717236060},
		&tg.MessageEmpty{ID: 103},
	}

	batch := parseMessages(raw, -100, "Busy group")
	require.Len(t, batch, 2, "service entries must survive parsing so a scan never stops on them")
	require.Equal(t, 101, batch[0].ID)
	require.Equal(t, 102, batch[1].ID)
}

func TestHasCopyableContent(t *testing.T) {
	require.True(t, Message{Text: "x"}.HasCopyableContent())
	require.True(t, Message{Media: &tg.MessageMediaPhoto{}}.HasCopyableContent())
	require.False(t, Message{}.HasCopyableContent())
}

func TestInputMediaFrom(t *testing.T) {
	t.Run("photo", func(t *testing.T) {
		media := inputMediaFrom(&tg.MessageMediaPhoto{
			Photo: &tg.Photo{ID: 1, AccessHash: 2, FileReference: []byte{3}},
		})
		photo, ok := media.(*tg.InputMediaPhoto)
		require.True(t, ok)
		ref, ok := photo.ID.(*tg.InputPhoto)
		require.True(t, ok)
		require.Equal(t, int64(1), ref.ID)
		require.Equal(t, int64(2), ref.AccessHash)
	})

	t.Run("document", func(t *testing.T) {
		media := inputMediaFrom(&tg.MessageMediaDocument{
			Document: &tg.Document{ID: 5, AccessHash: 6},
		})
		doc, ok := media.(*tg.InputMediaDocument)
		require.True(t, ok)
		ref, ok := doc.ID.(*tg.InputDocument)
		require.True(t, ok)
		require.Equal(t, int64(5), ref.ID)
	})

	t.Run("unsupported kinds", func(t *testing.T) {
		require.Nil(t, inputMediaFrom(&tg.MessageMediaGeo{}))
		require.Nil(t, inputMediaFrom(&tg.MessageMediaPhoto{})) // deleted photo
	})
}

func TestUserTitle(t *testing.T) {
	require.Equal(t, "Ada Lovelace", userTitle(&tg.User{FirstName: "Ada", LastName: "Lovelace"}))
	require.Equal(t, "Ada", userTitle(&tg.User{FirstName: "Ada"}))
	require.Equal(t, "ada_l", userTitle(&tg.User{Username: "ada_l"}))
}

func TestRateLimiter_FloodWait(t *testing.T) {
	limiter := NewRateLimiter(1000, 1000)
	limiter.SetFloodWait(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded, "flood wait must block past the context deadline")
}

func TestRateLimiter_PassesWhenIdle(t *testing.T) {
	limiter := NewRateLimiter(1000, 1000)
	require.NoError(t, limiter.Wait(context.Background()))
}
