package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// topicInferenceDepth is how many recent messages to scan when a forum
// refuses to list its topics directly.
const topicInferenceDepth = 200

// ListChats renders the account's dialogs, with topic ids for forums, as
// tab-separated lines ready for printing. The output feeds config
// authoring: the chat and topic ids are the ones sources are keyed by.
func ListChats(ctx context.Context, transport Transport) ([]string, error) {
	dialogs, err := transport.ListDialogs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}

	var lines []string
	for _, dialog := range dialogs {
		lines = append(lines, fmt.Sprintf("CHAT\t%d\t%s\t%s", dialog.ChatID, dialog.Kind, dialog.Title))
		if !dialog.IsForum {
			continue
		}

		topics, err := transport.ListForumTopics(ctx, dialog.ChatID, 100)
		if err != nil {
			logger.Get().Warn().Int64("chat_id", dialog.ChatID).Err(err).Msg("unable to fetch forum topics")
			topics = nil
		}
		if len(topics) > 0 {
			for _, topic := range topics {
				lines = append(lines, fmt.Sprintf("TOPIC\t%d\t%d\t%s", dialog.ChatID, topic.ID, topic.Title))
			}
			continue
		}

		for _, topicID := range inferTopicIDs(ctx, transport, dialog.ChatID) {
			lines = append(lines, fmt.Sprintf("TOPIC_HINT\t%d\t%d", dialog.ChatID, topicID))
		}
	}
	return lines, nil
}

// inferTopicIDs extracts topic ids from recent messages when the topic
// listing itself is unavailable.
func inferTopicIDs(ctx context.Context, transport Transport, chatID int64) []int {
	seen := make(map[int]struct{})
	err := transport.IterRecentMessages(ctx, chatID, topicInferenceDepth, func(msg telegram.Message) error {
		if msg.TopicID != nil {
			seen[*msg.TopicID] = struct{}{}
		}
		return nil
	})
	if err != nil {
		logger.Get().Warn().Int64("chat_id", chatID).Err(err).Msg("topic inference scan failed")
	}

	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
