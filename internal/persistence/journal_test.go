package persistence_test

import (
	"errors"
	"testing"
	"time"

	"github.com/goevery/relay/internal/persistence"
	"github.com/goevery/relay/internal/persistence/persistencetest"
	"github.com/goevery/relay/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func saveRequest(t *testing.T, messageId string) persistence.SaveRequest {
	t.Helper()

	evt, err := event.New("req-1", &event.MessageDeleted{Id: messageId})
	require.NoError(t, err)

	return persistence.SaveRequest{
		Channel: "req-1",
		Event:   evt,
		Source:  persistence.SourceBridge,
	}
}

func TestJournal(t *testing.T) {
	t.Run("saves queued requests in order", func(t *testing.T) {
		engine := persistencetest.NewMockEngine(t)
		journal := persistence.NewJournal(zap.NewNop(), engine, 8)

		var saved []string
		engine.On("Save", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				request := args.Get(1).(persistence.SaveRequest)
				saved = append(saved, request.Event.Payload.(*event.MessageDeleted).Id)
			}).
			Return(nil).Times(3)

		for _, id := range []string{"m1", "m2", "m3"} {
			assert.True(t, journal.Record(saveRequest(t, id)))
		}

		journal.Close()

		assert.Equal(t, []string{"m1", "m2", "m3"}, saved)
	})

	t.Run("save failures are only logged", func(t *testing.T) {
		engine := persistencetest.NewMockEngine(t)
		journal := persistence.NewJournal(zap.NewNop(), engine, 8)

		engine.On("Save", mock.Anything, mock.Anything).Return(errors.New("mongo down")).Twice()

		assert.True(t, journal.Record(saveRequest(t, "m1")))
		assert.True(t, journal.Record(saveRequest(t, "m2")))

		journal.Close()
	})

	t.Run("full queue drops without blocking", func(t *testing.T) {
		engine := persistencetest.NewMockEngine(t)
		release := make(chan time.Time)

		engine.On("Save", mock.Anything, mock.Anything).
			WaitUntil(release).
			Return(nil)

		journal := persistence.NewJournal(zap.NewNop(), engine, 1)

		accepted := 0
		for range 10 {
			if journal.Record(saveRequest(t, "m1")) {
				accepted++
			}
		}

		close(release)
		journal.Close()

		assert.Less(t, accepted, 10)
		assert.GreaterOrEqual(t, accepted, 1)
		engine.AssertNumberOfCalls(t, "Save", accepted)
	})

	t.Run("closed journal rejects requests", func(t *testing.T) {
		journal := persistence.NewJournal(zap.NewNop(), persistencetest.NewMockEngine(t), 1)
		journal.Close()
		journal.Close()

		assert.False(t, journal.Record(saveRequest(t, "m1")))
	})
}
