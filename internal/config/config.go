// Package config loads the forwarder's YAML configuration and process
// settings. The parsed document tree is retained so cursor persistence can
// rewrite only the fields it owns, leaving everything else intact.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blockedby/tg-forwarder/internal/cursor"
	"github.com/blockedby/tg-forwarder/internal/logger"
	"github.com/blockedby/tg-forwarder/internal/matcher"
)

// DefaultFileName is resolved under the user's home directory when no
// --config override is given.
const DefaultFileName = ".tg-forwarder.yaml"

// SourceKey identifies a source by (chat, topic). HasTopic distinguishes
// an explicit topic id from an unscoped source, so `topic_id: 0` and no
// topic at all are different identities.
type SourceKey struct {
	ChatID   int64
	TopicID  int
	HasTopic bool
}

// Source is one configured (chat, optional topic) pair to scan.
type Source struct {
	ChatID   int64
	TopicID  *int
	ChatName string
	Keywords []string
	Cursor   cursor.State
}

// Key returns the source identity used for duplicate detection and cursor
// aggregation.
func (s Source) Key() SourceKey {
	key := SourceKey{ChatID: s.ChatID}
	if s.TopicID != nil {
		key.TopicID = *s.TopicID
		key.HasTopic = true
	}
	return key
}

// Config is the parsed configuration plus the raw document it came from.
type Config struct {
	DestinationChatID int64
	Sources           []Source

	// Doc is the original YAML document tree. Persistence mutates only
	// the cursor field of matching source entries in this tree.
	Doc  *yaml.Node
	Path string
}

// ResolvePath expands the config path override, falling back to the
// default location in the user's home directory.
func ResolvePath(override string) (string, error) {
	if override != "" {
		if after, ok := expandHome(override); ok {
			return after, nil
		}
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

func expandHome(path string) (string, bool) {
	if len(path) < 2 || path[0] != '~' || path[1] != '/' {
		return path, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path, false
	}
	return filepath.Join(home, path[2:]), true
}

// Load reads, parses and validates the configuration at the given path
// (empty means the default location).
func Load(pathOverride string) (*Config, error) {
	path, err := ResolvePath(pathOverride)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	warnOnPermissions(path)

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse parses and validates a raw YAML config document.
func Parse(data []byte) (*Config, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("config is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config root must be a mapping")
	}

	var raw rawConfig
	if err := root.Decode(&raw); err != nil {
		return nil, err
	}
	if raw.DestinationChatID == nil {
		return nil, fmt.Errorf("config requires integer 'destination_chat_id'")
	}
	if raw.Sources == nil {
		return nil, fmt.Errorf("config requires a 'sources' list")
	}

	sources := make([]Source, 0, len(*raw.Sources))
	for idx, item := range *raw.Sources {
		src, err := item.toSource(idx)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	return &Config{
		DestinationChatID: *raw.DestinationChatID,
		Sources:           sources,
		Doc:               &doc,
	}, nil
}

type rawConfig struct {
	DestinationChatID *int64       `yaml:"destination_chat_id"`
	Sources           *[]rawSource `yaml:"sources"`
}

type rawSource struct {
	ChatID   *int64    `yaml:"chat_id"`
	TopicID  *int      `yaml:"topic_id"`
	ChatName string    `yaml:"chat_name"`
	Keywords *[]string `yaml:"keywords"`
	Cursor   yaml.Node `yaml:"cursor"`
}

func (r rawSource) toSource(idx int) (Source, error) {
	if r.ChatID == nil {
		return Source{}, fmt.Errorf("source[%d] requires integer 'chat_id'", idx)
	}
	if r.Keywords == nil {
		return Source{}, fmt.Errorf("source[%d].keywords must be a list of strings", idx)
	}
	keywords := matcher.NormalizeKeywords(*r.Keywords)
	if len(keywords) == 0 {
		return Source{}, fmt.Errorf("source[%d].keywords must contain at least one non-empty keyword", idx)
	}
	return Source{
		ChatID:   *r.ChatID,
		TopicID:  r.TopicID,
		ChatName: r.ChatName,
		Keywords: keywords,
		Cursor:   ParseCursorNode(&r.Cursor, fmt.Sprintf("source[%d].cursor", idx)),
	}, nil
}

// ParseCursorNode leniently parses a cursor mapping. Invalid fields are
// logged and ignored so a hand-edited config never aborts a run over a
// stale cursor value.
func ParseCursorNode(node *yaml.Node, context string) cursor.State {
	log := logger.Get()
	if node == nil || node.IsZero() {
		return cursor.State{}
	}
	if node.Kind != yaml.MappingNode {
		log.Warn().Str("field", context).Msg("config: cursor is not a mapping, ignoring")
		return cursor.State{}
	}

	var raw struct {
		LastMessageID yaml.Node `yaml:"last_message_id"`
		LastTimestamp yaml.Node `yaml:"last_timestamp"`
	}
	if err := node.Decode(&raw); err != nil {
		log.Warn().Str("field", context).Err(err).Msg("config: unreadable cursor, ignoring")
		return cursor.State{}
	}

	var state cursor.State
	if !raw.LastMessageID.IsZero() {
		var id int
		if err := raw.LastMessageID.Decode(&id); err == nil {
			state.LastMessageID = &id
		} else {
			log.Warn().Str("field", context+".last_message_id").Msg("config: invalid value, ignoring")
		}
	}
	if !raw.LastTimestamp.IsZero() {
		var value string
		if err := raw.LastTimestamp.Decode(&value); err != nil {
			log.Warn().Str("field", context+".last_timestamp").Msg("config: invalid value, ignoring")
		} else if ts, err := ParseTimestamp(value); err != nil {
			log.Warn().Str("field", context+".last_timestamp").Msg("config: invalid value, ignoring")
		} else {
			state.LastTimestamp = &ts
		}
	}
	return state
}

// ParseTimestamp parses an ISO-8601 timestamp, assuming UTC when no zone
// is given, and normalizes the result to UTC.
func ParseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// warnOnPermissions flags configs readable by group or world. The file
// holds chat ids and scan progress, not secrets, so this is a warning.
func warnOnPermissions(path string) {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		logger.Get().Warn().
			Str("path", path).
			Str("mode", info.Mode().Perm().String()).
			Msg("config: file permissions are broad, consider chmod 600")
	}
}
