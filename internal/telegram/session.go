package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/session"
)

// ConvertSession converts gotd session data into the gotgproto storage
// form. gotgproto keeps the raw JSON bytes of session.Data in its
// storage.Session record.
func ConvertSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}
	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    raw,
	}, nil
}
