package broadcaster

import (
	"sync"

	"github.com/goevery/relay/pkg/event"
)

type fakeConnection struct {
	id string

	mu       sync.Mutex
	received []event.Event
	sendErr  error
	closed   bool
}

func newFakeConnection(id string) *fakeConnection {
	return &fakeConnection{id: id}
}

func (c *fakeConnection) Id() string {
	return c.id
}

func (c *fakeConnection) Send(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}

	c.received = append(c.received, evt)

	return nil
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	return nil
}

func (c *fakeConnection) Received() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]event.Event(nil), c.received...)
}
