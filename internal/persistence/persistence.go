package persistence

import (
	"context"

	"github.com/goevery/relay/pkg/event"
)

// Engine is the persistence collaborator. The relay pings it at startup and,
// when journaling is enabled, saves the events it broadcasts through a
// Journal. Nothing is ever read back from it.
type Engine interface {
	Setup(ctx context.Context) error
	Ping(ctx context.Context) error
	Save(ctx context.Context, request SaveRequest) error
}

type Source string

const (
	SourceBridge    Source = "bridge"
	SourceTransport Source = "transport"
)

type SaveRequest struct {
	Channel    string
	Event      event.Event
	Source     Source
	Recipients int
}
