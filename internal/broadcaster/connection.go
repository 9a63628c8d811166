package broadcaster

import (
	"context"
	"errors"

	"github.com/goevery/relay/pkg/event"
)

var (
	ErrSendBufferFull   = errors.New("connection send buffer is full")
	ErrConnectionClosed = errors.New("connection is closed")
)

// Connection is one live transport session. Send must not block: it either
// queues the event for delivery or fails immediately.
type Connection interface {
	Id() string
	Send(evt event.Event) error
	Close() error
}

type contextKey string

const sessionKey contextKey = "session"

func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey).(*Session)

	return session, ok
}
