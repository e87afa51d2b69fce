// Package runner orchestrates a forwarding run: destination pre-clean,
// sequential source scans, and a single atomic cursor persistence at the
// end.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tg-forwarder/internal/config"
	"github.com/blockedby/tg-forwarder/internal/cursor"
	"github.com/blockedby/tg-forwarder/internal/forwarder"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/matcher"
	"github.com/blockedby/tg-forwarder/internal/storage"
	"github.com/blockedby/tg-forwarder/internal/telegram"
)

// ErrPreCleanFailed indicates the mandatory destination pre-clean did not
// complete. Fatal: no source is processed and no cursor is written.
var ErrPreCleanFailed = errors.New("destination chat pre-clean failed")

// Transport is the chat-platform capability the runner drives. Satisfied
// by telegram.Client; tests substitute a mock.
type Transport interface {
	ListDialogs(ctx context.Context) ([]telegram.Dialog, error)
	ListForumTopics(ctx context.Context, chatID int64, limit int) ([]telegram.Topic, error)
	IterMessagesSince(ctx context.Context, chatID int64, topicID *int, window cursor.FetchWindow, fn func(telegram.Message) error) error
	IterRecentMessages(ctx context.Context, chatID int64, limit int, fn func(telegram.Message) error) error
	ForwardMessage(ctx context.Context, destinationChatID int64, msg telegram.Message) error
	CopyMessage(ctx context.Context, destinationChatID int64, msg telegram.Message) error
	SendTextMessage(ctx context.Context, chatID int64, text string) error
	DeleteAllMessages(ctx context.Context, chatID int64) (int, error)
}

// SourceStats are per-run counters for one source. Surfaced to the
// caller and logs only, never persisted.
type SourceStats struct {
	ChatID    int64
	TopicID   *int
	Scanned   int
	Matched   int
	Forwarded int
	Errors    []string
}

// RunSummary aggregates per-source statistics for one run.
type RunSummary struct {
	Sources []SourceStats
}

// RunSources processes all configured sources sequentially and persists
// advanced cursors in one atomic write. Per-source failures are isolated;
// duplicate identities and a failed pre-clean abort the whole run.
func RunSources(ctx context.Context, transport Transport, cfg *config.Config) (*RunSummary, error) {
	log := logger.Get()
	runID := uuid.New()

	if err := storage.EnsureUniqueSources(cfg.Sources); err != nil {
		return nil, err
	}

	deleted, err := transport.DeleteAllMessages(ctx, cfg.DestinationChatID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreCleanFailed, err)
	}
	log.Info().
		Stringer("run_id", runID).
		Int64("destination_chat_id", cfg.DestinationChatID).
		Int("deleted", deleted).
		Int("sources", len(cfg.Sources)).
		Msg("run started, destination pre-cleaned")

	summary := &RunSummary{}
	cursorUpdates := make(map[config.SourceKey]cursor.State)

	for _, source := range cfg.Sources {
		stats := SourceStats{ChatID: source.ChatID, TopicID: source.TopicID}

		update, err := processSource(ctx, transport, cfg.DestinationChatID, source, &stats)
		if err != nil {
			// isolation boundary: the failure stays with this source
			stats.Errors = append(stats.Errors, err.Error())
			log.Error().
				Stringer("run_id", runID).
				Int64("chat_id", source.ChatID).
				Err(err).
				Msg("source processing failed")
		} else if update != nil {
			cursorUpdates[source.Key()] = *update
		}

		summary.Sources = append(summary.Sources, stats)
		logSourceSummary(log, runID, stats)
	}

	if len(cursorUpdates) > 0 {
		storage.ApplyCursorUpdates(cfg.Doc, cursorUpdates)
		if err := storage.AtomicWriteYAML(cfg.Path, cfg.Doc); err != nil {
			return summary, fmt.Errorf("persist cursors: %w", err)
		}
		log.Info().Stringer("run_id", runID).Int("cursors", len(cursorUpdates)).Msg("cursors persisted")
	}

	log.Info().Stringer("run_id", runID).Msg("run finished")
	return summary, nil
}

// processSource scans one source oldest to newest, forwarding matches and
// tracking the maxima that become the next cursor. Message-level failures
// accumulate in stats; only stream-level failures escape to the caller.
func processSource(ctx context.Context, transport Transport, destinationChatID int64, source config.Source, stats *SourceStats) (*cursor.State, error) {
	log := logger.Get()
	window := cursor.ComputeFetchWindow(source.Cursor)
	keywords := matcher.NormalizeKeywords(source.Keywords)

	var maxMessageID *int
	var maxTimestamp *time.Time
	headerSent := false

	err := transport.IterMessagesSince(ctx, source.ChatID, source.TopicID, window, func(msg telegram.Message) error {
		stats.Scanned++
		if msg.ID > 0 && (maxMessageID == nil || msg.ID > *maxMessageID) {
			id := msg.ID
			maxMessageID = &id
		}
		if !msg.Date.IsZero() && (maxTimestamp == nil || msg.Date.After(*maxTimestamp)) {
			date := msg.Date
			maxTimestamp = &date
		}

		keyword, matched := matcher.MatchMessage(msg.Text, keywords)
		if !matched {
			return nil
		}
		stats.Matched++
		log.Debug().
			Int64("chat_id", source.ChatID).
			Int("message_id", msg.ID).
			Str("keyword", keyword).
			Msg("message matched")

		if !headerSent {
			header := sourceHeader(source, msg)
			if err := transport.SendTextMessage(ctx, destinationChatID, header); err != nil {
				log.Warn().Int64("chat_id", source.ChatID).Err(err).Msg("source header send failed")
				stats.Errors = append(stats.Errors, fmt.Sprintf("source_header_error=%v", err))
			}
			headerSent = true
		}

		result := forwarder.ForwardWithFallback(ctx, transport, destinationChatID, msg)
		if result.OK() {
			stats.Forwarded++
		} else if result.Err != "" {
			log.Warn().
				Int64("chat_id", source.ChatID).
				Int("message_id", msg.ID).
				Str("error", result.Err).
				Msg("forward failed")
			stats.Errors = append(stats.Errors, fmt.Sprintf("message_id=%d error=%s", msg.ID, result.Err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if maxMessageID == nil && maxTimestamp == nil {
		return nil, nil
	}
	return &cursor.State{LastMessageID: maxMessageID, LastTimestamp: maxTimestamp}, nil
}

// sourceHeader builds the one-time header identifying a source: the
// configured name, else the originating chat's title, else its id.
func sourceHeader(source config.Source, msg telegram.Message) string {
	title := source.ChatName
	if title == "" {
		title = msg.ChatTitle
	}
	if title == "" {
		title = fmt.Sprintf("%d", source.ChatID)
	}
	return fmt.Sprintf("Source chat: %s", title)
}

func logSourceSummary(log *logger.Logger, runID uuid.UUID, stats SourceStats) {
	event := log.Info().
		Stringer("run_id", runID).
		Int64("chat_id", stats.ChatID).
		Int("scanned", stats.Scanned).
		Int("matched", stats.Matched).
		Int("forwarded", stats.Forwarded).
		Int("errors", len(stats.Errors))
	if stats.TopicID != nil {
		event = event.Int("topic_id", *stats.TopicID)
	}
	event.Msg("source summary")
}
