// Package storage persists cursor updates back into the configuration
// document atomically, without regressing progress already recorded.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blockedby/tg-forwarder/internal/config"
	"github.com/blockedby/tg-forwarder/internal/cursor"
)

// ErrDuplicateSource indicates two sources share the same (chat, topic)
// identity. Fatal configuration error.
var ErrDuplicateSource = errors.New("duplicate source configuration")

// EnsureUniqueSources rejects configurations where two sources share the
// same (chat_id, topic_id) identity.
func EnsureUniqueSources(sources []config.Source) error {
	seen := make(map[config.SourceKey]struct{}, len(sources))
	for _, source := range sources {
		key := source.Key()
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: chat_id=%d topic_id=%d", ErrDuplicateSource, key.ChatID, key.TopicID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// ApplyCursorUpdates merges cursor deltas into the raw document tree.
// Only the cursor field of matching source entries is touched; every
// other field, the entry order and any comments survive the rewrite.
// Each merge follows the no-regression rule of cursor.Merge.
func ApplyCursorUpdates(doc *yaml.Node, updates map[config.SourceKey]cursor.State) {
	root := documentRoot(doc)
	if root == nil {
		return
	}
	sources := mappingValue(root, "sources")
	if sources == nil || sources.Kind != yaml.SequenceNode {
		return
	}

	for _, entry := range sources.Content {
		if entry.Kind != yaml.MappingNode {
			continue
		}
		chatID, ok := intValue(entry, "chat_id")
		if !ok {
			continue
		}
		key := config.SourceKey{ChatID: chatID}
		if topicID, ok := intValue(entry, "topic_id"); ok {
			key.TopicID = int(topicID)
			key.HasTopic = true
		}
		update, ok := updates[key]
		if !ok {
			continue
		}

		existing := config.ParseCursorNode(mappingValue(entry, "cursor"), fmt.Sprintf("source chat_id=%d", chatID))
		merged := cursor.Merge(existing, update)
		if merged.Equal(existing) {
			continue
		}
		setMappingValue(entry, "cursor", cursorNode(merged))
	}
}

// AtomicWriteYAML serializes the document and writes it durably: the
// bytes go to a temp file in the target directory, are fsynced, and the
// temp file is renamed over the destination. A crash mid-write leaves the
// prior version intact.
func AtomicWriteYAML(path string, doc *yaml.Node) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

func documentRoot(doc *yaml.Node) *yaml.Node {
	if doc == nil {
		return nil
	}
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return nil
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil
	}
	return root
}

// mappingValue returns the value node for key in a mapping, or nil.
func mappingValue(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// setMappingValue replaces the value for key, appending the pair if the
// key is not present yet.
func setMappingValue(mapping *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content[i+1] = value
			return
		}
	}
	mapping.Content = append(mapping.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		value,
	)
}

func intValue(mapping *yaml.Node, key string) (int64, bool) {
	node := mappingValue(mapping, key)
	if node == nil || node.Kind != yaml.ScalarNode {
		return 0, false
	}
	value, err := strconv.ParseInt(node.Value, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func cursorNode(state cursor.State) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if state.LastMessageID != nil {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "last_message_id"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(*state.LastMessageID)},
		)
	}
	if state.LastTimestamp != nil {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "last_timestamp"},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: state.LastTimestamp.UTC().Format(time.RFC3339)},
		)
	}
	return node
}
