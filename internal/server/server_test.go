package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/goevery/relay/internal/auth"
	"github.com/goevery/relay/internal/broadcaster"
	"github.com/goevery/relay/internal/handler"
	"github.com/goevery/relay/internal/ierr"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testStack struct {
	registry    *broadcaster.InMemoryRegistry
	broadcaster *broadcaster.RoomBroadcaster
	wsServer    *WebSocketServer
	server      *httptest.Server
	wsURL       string
}

func newTestStack(t *testing.T, authenticator *auth.Authenticator, strictEvents bool) *testStack {
	t.Helper()

	logger := zap.NewNop()
	registry := broadcaster.NewInMemoryRegistry(logger)
	lifecycle := broadcaster.NewLifecycle(logger, registry)
	roomBroadcaster := broadcaster.NewRoomBroadcaster(logger, registry)
	publisher := handler.NewPublisher(logger, roomBroadcaster, nil)
	validator := handler.NewRequestIdValidator()

	router := NewRouter(
		logger,
		handler.NewHeartbeatHandler(),
		handler.NewJoinHandler(validator, registry),
		handler.NewLeaveHandler(validator, registry),
		handler.NewSendMessageHandler(validator, publisher),
		handler.NewUpdateMessageHandler(validator, publisher),
		handler.NewDeleteMessageHandler(validator, publisher),
	)

	originChecker := NewOriginChecker([]string{"http://localhost:3000"})
	upgrader := &websocket.Upgrader{CheckOrigin: originChecker.Check}

	wsServer := NewWebSocketServer(logger, upgrader, lifecycle, router, 16)
	restServer := NewRESTServer(
		logger,
		handler.NewBridgeHandler(logger, validator, publisher, strictEvents),
		handler.NewHealthHandler(registry),
		authenticator,
	)

	mainRouter := mux.NewRouter()
	mainRouter.NotFoundHandler = http.HandlerFunc(NotFound)
	mainRouter.MethodNotAllowedHandler = http.HandlerFunc(NotFound)
	wsServer.Register(mainRouter, "/ws")
	restServer.Register(mainRouter)

	server := httptest.NewServer(originChecker.CORS(mainRouter))
	t.Cleanup(func() {
		wsServer.Shutdown()
		server.Close()
	})

	u, _ := url.Parse(server.URL)
	u.Scheme = "ws"
	u.Path = "/ws"

	return &testStack{
		registry:    registry,
		broadcaster: roomBroadcaster,
		wsServer:    wsServer,
		server:      server,
		wsURL:       u.String(),
	}
}

type frame struct {
	RequestId int              `json:"requestId"`
	Method    string           `json:"method"`
	Params    json.RawMessage  `json:"params"`
	Result    *json.RawMessage `json:"result"`
	Error     *ierr.Error      `json:"error"`
}

func (s *testStack) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func send(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()

	var f frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&f))

	return f
}

// join sends a joinRequest with an id and waits for its acknowledgment, so
// the membership is in place when it returns.
func join(t *testing.T, conn *websocket.Conn, id int, requestId string) {
	t.Helper()

	raw, _ := json.Marshal(map[string]any{
		"id":     id,
		"method": "joinRequest",
		"params": map[string]string{"requestId": requestId},
	})
	send(t, conn, string(raw))

	response := read(t, conn)
	require.Equal(t, id, response.RequestId)
	require.Nil(t, response.Error)
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))

	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var netErr interface{ Timeout() bool }
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())
}
