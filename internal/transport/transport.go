// Package transport connects sessions to a chat platform.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/joebot/botmaster/internal/bus"
)

var (
	// ErrUnauthorized means the credential was rejected. Retrying cannot help.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrClosed is returned when sending on a closed connection.
	ErrClosed = errors.New("connection closed")
)

// Conn is an authenticated connection: an inbound event stream plus a
// reply path. The Events channel is closed when the connection ends.
type Conn interface {
	Events() <-chan *bus.Event
	Send(ctx context.Context, r *bus.Reply) error
	Close() error
}

// Dialer exchanges a stored credential payload for a connection.
type Dialer interface {
	Dial(ctx context.Context, authState json.RawMessage) (Conn, error)
}

// tokenAuth is the authState shape used by the bundled transports.
type tokenAuth struct {
	Token string `json:"token"`
}

func parseTokenAuth(authState json.RawMessage) (string, error) {
	var a tokenAuth
	if err := json.Unmarshal(authState, &a); err != nil {
		return "", errors.Join(ErrUnauthorized, err)
	}
	if a.Token == "" {
		return "", errors.Join(ErrUnauthorized, errors.New("authState.token is empty"))
	}
	return a.Token, nil
}
