package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/goevery/relay/internal/handler"
	"github.com/goevery/relay/pkg/event"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketServer(t *testing.T) {
	t.Run("joined client receives broadcast", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)

		join(t, c1, 1, "req-1")

		evt, err := event.New("req-1", &event.NewMessage{Id: "m1", Action: "message_posted", Description: "hi"})
		require.NoError(t, err)

		report := stack.broadcaster.Broadcast("req-1", evt)
		assert.Equal(t, 1, report.Delivered)

		notification := read(t, c1)
		assert.Equal(t, "newMessage", notification.Method)

		var payload event.NewMessage
		require.NoError(t, json.Unmarshal(notification.Params, &payload))
		assert.Equal(t, "m1", payload.Id)
		assert.Equal(t, "req-1", payload.RequestId)

		expectSilence(t, c1)
	})

	t.Run("sender is included in fan-out", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)
		c2 := stack.dial(t)

		join(t, c1, 1, "req-1")
		join(t, c2, 1, "req-1")

		send(t, c1, `{"method":"sendMessage","params":{"requestId":"req-1","action":"message_posted","description":"hi"}}`)

		for _, conn := range []*websocket.Conn{c1, c2} {
			notification := read(t, conn)
			assert.Equal(t, "newMessage", notification.Method)

			var payload event.NewMessage
			require.NoError(t, json.Unmarshal(notification.Params, &payload))
			assert.Equal(t, "req-1", payload.RequestId)
			assert.Equal(t, "message_posted", payload.Action)
			assert.Equal(t, "hi", payload.Description)
			assert.NotEmpty(t, payload.Id)
			assert.False(t, payload.CreatedAt.IsZero())
		}
	})

	t.Run("disconnect without leave cleans up", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)

		join(t, c1, 1, "req-1")
		require.True(t, stack.registry.HasChannel("req-1"))

		require.NoError(t, c1.Close())

		assert.Eventually(t, func() bool {
			return stack.registry.ConnectionCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
		assert.False(t, stack.registry.HasChannel("req-1"))

		evt, err := event.New("req-1", &event.MessageDeleted{Id: "m1"})
		require.NoError(t, err)

		report := stack.broadcaster.Broadcast("req-1", evt)
		assert.Equal(t, 0, report.Recipients)
	})

	t.Run("update, delete and leave", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)
		c2 := stack.dial(t)

		join(t, c1, 1, "req-1")
		join(t, c2, 1, "req-1")

		send(t, c2, `{"method":"updateMessage","params":{"requestId":"req-1","messageId":"m1","description":"edited"}}`)

		updated := read(t, c1)
		assert.Equal(t, "messageUpdated", updated.Method)
		assert.JSONEq(t, `{"id":"m1","request_id":"req-1","description":"edited"}`, string(updated.Params))
		read(t, c2)

		send(t, c1, `{"id":2,"method":"leaveRequest","params":{"requestId":"req-1"}}`)
		leaveResponse := read(t, c1)
		assert.Equal(t, 2, leaveResponse.RequestId)
		assert.Nil(t, leaveResponse.Error)

		send(t, c2, `{"id":2,"method":"deleteMessage","params":{"requestId":"req-1","messageId":"m1"}}`)

		deleted := read(t, c2)
		if deleted.RequestId != 0 {
			deleted = read(t, c2)
		}
		assert.Equal(t, "messageDeleted", deleted.Method)
		assert.JSONEq(t, `{"id":"m1","request_id":"req-1"}`, string(deleted.Params))

		expectSilence(t, c1)
	})

	t.Run("reply carries result", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)

		send(t, c1, `{"id":7,"method":"heartbeat"}`)

		response := read(t, c1)
		assert.Equal(t, 7, response.RequestId)
		require.NotNil(t, response.Result)

		var heartbeat handler.HeartbeatResponse
		require.NoError(t, json.Unmarshal(*response.Result, &heartbeat))
		assert.False(t, heartbeat.Timestamp.IsZero())
	})

	t.Run("command errors", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)

		send(t, c1, `{"id":1,"method":"joinRequest","params":{"requestId":""}}`)
		response := read(t, c1)
		require.NotNil(t, response.Error)
		assert.Equal(t, "InvalidArgument", string(response.Error.Code))

		send(t, c1, `{"id":2,"method":"joinRequest"}`)
		response = read(t, c1)
		require.NotNil(t, response.Error)
		assert.Equal(t, "InvalidArgument", string(response.Error.Code))

		send(t, c1, `{"id":3,"method":"shout","params":{}}`)
		response = read(t, c1)
		require.NotNil(t, response.Error)
		assert.Equal(t, "NotFound", string(response.Error.Code))

		send(t, c1, `{"method":"shout","params":{}}`)
		expectSilence(t, c1)
	})

	t.Run("malformed frames", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)

		send(t, c1, "invalid-json")
		response := read(t, c1)
		require.NotNil(t, response.Error)
		assert.Equal(t, "ParseError", string(response.Error.Code))

		// the connection survives a single malformed frame
		join(t, c1, 1, "req-1")

		for range maxParseErrors {
			send(t, c1, "invalid-json")
		}

		require.NoError(t, c1.SetReadDeadline(time.Now().Add(5*time.Second)))
		var err error
		for err == nil {
			_, _, err = c1.ReadMessage()
		}
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNoStatusReceived))

		assert.Eventually(t, func() bool {
			return stack.registry.ConnectionCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("rejected origin", func(t *testing.T) {
		stack := newTestStack(t, nil, false)

		header := http.Header{}
		header.Set("Origin", "https://evil.example")

		_, resp, err := websocket.DefaultDialer.Dial(stack.wsURL, header)

		assert.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("allowed origin", func(t *testing.T) {
		stack := newTestStack(t, nil, false)

		header := http.Header{}
		header.Set("Origin", "http://localhost:3000")

		conn, _, err := websocket.DefaultDialer.Dial(stack.wsURL, header)
		require.NoError(t, err)
		defer conn.Close()

		assert.Eventually(t, func() bool {
			return stack.registry.ConnectionCount() == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("shutdown closes sessions", func(t *testing.T) {
		stack := newTestStack(t, nil, false)
		c1 := stack.dial(t)
		join(t, c1, 1, "req-1")

		stack.wsServer.Shutdown()

		require.NoError(t, c1.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err := c1.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway))

		assert.Eventually(t, func() bool {
			return stack.registry.ConnectionCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
	})
}
