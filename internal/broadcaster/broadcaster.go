package broadcaster

import (
	"sync"

	"github.com/goevery/relay/pkg/event"
	"go.uber.org/zap"
)

type Broadcaster interface {
	Broadcast(channel string, evt event.Event) Report
}

type DeliveryFailure struct {
	ConnectionId string
	Err          error
}

// Report summarizes one fan-out. Failures never abort delivery to the other
// members of the channel.
type Report struct {
	Channel    string
	Kind       event.Kind
	Recipients int
	Delivered  int
	Failures   []DeliveryFailure
}

func (r Report) Failed() int {
	return len(r.Failures)
}

type RoomBroadcaster struct {
	logger   *zap.Logger
	registry Registry

	// serializes fan-outs so every member queues events in invocation order
	mu sync.Mutex
}

func NewRoomBroadcaster(logger *zap.Logger, registry Registry) *RoomBroadcaster {
	return &RoomBroadcaster{
		logger:   logger,
		registry: registry,
	}
}

func (b *RoomBroadcaster) Broadcast(channel string, evt event.Event) Report {
	encoded, encodeErr := evt.Encode()
	if encodeErr != nil {
		b.logger.Error("failed to encode event",
			zap.String("channel", channel),
			zap.String("event", string(evt.Kind)),
			zap.Error(encodeErr))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	members := b.registry.MembersOf(channel)

	report := Report{
		Channel:    channel,
		Kind:       evt.Kind,
		Recipients: len(members),
	}

	for _, connection := range members {
		err := encodeErr
		if err == nil {
			err = connection.Send(encoded)
		}
		if err != nil {
			b.logger.Warn("failed to deliver event",
				zap.String("channel", channel),
				zap.String("event", string(evt.Kind)),
				zap.String("connectionId", connection.Id()),
				zap.Error(err))

			report.Failures = append(report.Failures, DeliveryFailure{
				ConnectionId: connection.Id(),
				Err:          err,
			})

			continue
		}

		report.Delivered++
	}

	b.logger.Debug("event broadcast",
		zap.String("channel", channel),
		zap.String("event", string(evt.Kind)),
		zap.Int("recipients", report.Recipients),
		zap.Int("delivered", report.Delivered))

	return report
}
