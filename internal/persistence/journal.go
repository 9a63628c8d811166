package persistence

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultJournalQueueSize = 1024
	journalSaveTimeout      = 2 * time.Second
)

// Journal writes events to an Engine from a single background worker, so
// publishers never wait on storage. Requests arriving while the queue is full
// are dropped.
type Journal struct {
	logger *zap.Logger
	engine Engine

	queue chan SaveRequest
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewJournal(logger *zap.Logger, engine Engine, queueSize int) *Journal {
	if queueSize <= 0 {
		queueSize = DefaultJournalQueueSize
	}

	j := &Journal{
		logger: logger,
		engine: engine,
		queue:  make(chan SaveRequest, queueSize),
		done:   make(chan struct{}),
	}

	go j.run()

	return j
}

// Record queues request without blocking. It reports false when the request
// was dropped.
func (j *Journal) Record(request SaveRequest) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.closed {
		return false
	}

	select {
	case j.queue <- request:
		return true
	default:
		return false
	}
}

// Close stops accepting requests and waits for the queued ones to be saved.
func (j *Journal) Close() {
	j.mu.Lock()
	if !j.closed {
		j.closed = true
		close(j.queue)
	}
	j.mu.Unlock()

	<-j.done
}

func (j *Journal) run() {
	defer close(j.done)

	for request := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalSaveTimeout)
		err := j.engine.Save(ctx, request)
		cancel()

		if err != nil {
			j.logger.Error("failed to journal event",
				zap.String("channel", request.Channel),
				zap.String("event", string(request.Event.Kind)),
				zap.Error(err))
		}
	}
}
