package telegram

import (
	"errors"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"

	"github.com/blockedby/tg-forwarder/internal/config"
)

// ErrNotAuthorized indicates the configured session cannot act on the
// account. Fatal: the run must not start without a working session.
var ErrNotAuthorized = errors.New("telegram session is not authorized")

// NewClientFromSettings builds an authorized client from environment
// settings. A session string (in-memory) takes precedence; otherwise a
// sqlite-backed persistent session file is used.
func NewClientFromSettings(settings *config.Settings) (*Client, error) {
	if settings.TGApiID == 0 || settings.TGApiHash == "" {
		return nil, fmt.Errorf("TG_API_ID and TG_API_HASH are required")
	}

	var session sessionMaker.SessionConstructor
	switch {
	case settings.TGSessionString != "":
		session = sessionMaker.StringSession(settings.TGSessionString)
	case settings.TGSessionFile != "":
		session = sessionMaker.SqlSession(sqlite.Open(settings.TGSessionFile))
	default:
		return nil, fmt.Errorf("%w: set TG_SESSION_STRING or TG_SESSION_FILE", ErrNotAuthorized)
	}

	inMemory := settings.TGSessionString != ""
	proto, err := gotgproto.NewClient(
		settings.TGApiID,
		settings.TGApiHash,
		gotgproto.ClientTypePhone(""), // empty phone: session only, never interactive
		&gotgproto.ClientOpts{
			Session:          session,
			DisableCopyright: true,
			InMemory:         inMemory,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	if proto.Self == nil || proto.Self.ID == 0 {
		proto.Stop()
		return nil, ErrNotAuthorized
	}

	return NewClient(proto), nil
}
