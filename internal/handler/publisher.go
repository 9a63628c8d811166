package handler

import (
	"github.com/goevery/relay/internal/broadcaster"
	"github.com/goevery/relay/internal/persistence"
	"github.com/goevery/relay/pkg/event"
	"go.uber.org/zap"
)

// Recorder takes published events for the journal. Record must not block.
type Recorder interface {
	Record(request persistence.SaveRequest) bool
}

// Publisher fans an event out to its channel and then hands it to the
// journal, if any. Journaling never delays or fails a publish.
type Publisher struct {
	logger      *zap.Logger
	broadcaster broadcaster.Broadcaster
	recorder    Recorder
}

func NewPublisher(
	logger *zap.Logger,
	broadcaster broadcaster.Broadcaster,
	recorder Recorder,
) *Publisher {
	return &Publisher{
		logger,
		broadcaster,
		recorder,
	}
}

func (p *Publisher) Publish(channel string, evt event.Event, source persistence.Source) broadcaster.Report {
	report := p.broadcaster.Broadcast(channel, evt)

	if p.recorder == nil {
		return report
	}

	recorded := p.recorder.Record(persistence.SaveRequest{
		Channel:    channel,
		Event:      evt,
		Source:     source,
		Recipients: report.Recipients,
	})
	if !recorded {
		p.logger.Warn("journal queue full, event not journaled",
			zap.String("channel", channel),
			zap.String("event", string(evt.Kind)))
	}

	return report
}
