package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goevery/relay/internal/broadcaster"
	"github.com/goevery/relay/internal/handler"
	"github.com/goevery/relay/internal/ierr"
	"github.com/goevery/relay/pkg/event"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameBytes  = 64 * 1024
	maxParseErrors = 5
)

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	lifecycle      *broadcaster.Lifecycle
	router         *Router
	sendBufferSize int
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	lifecycle *broadcaster.Lifecycle,
	router *Router,
	sendBufferSize int,
) *WebSocketServer {
	if sendBufferSize <= 0 {
		sendBufferSize = 64
	}

	return &WebSocketServer{
		logger,
		upgrader,
		lifecycle,
		router,
		sendBufferSize,
	}
}

func (s *WebSocketServer) Register(router *mux.Router, path string) {
	router.HandleFunc(path, s.serve).Methods(http.MethodGet)
}

// Shutdown closes every live session. It is meant to be registered with
// http.Server.RegisterOnShutdown, since hijacked connections are not closed
// by the server itself.
func (s *WebSocketServer) Shutdown() {
	s.lifecycle.CloseAll()
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connection := newWebSocketConnection(gonanoid.Must(), conn, s.sendBufferSize)
	logger := s.logger.With(
		zap.String("connectionId", connection.Id()),
		zap.String("clientIp", clientIp(r)))

	session := s.lifecycle.Open(connection)

	logger.Info("websocket connection established")

	go connection.writePump(logger)

	s.readLoop(broadcaster.WithSession(r.Context(), session), logger, session, connection)

	session.Disconnect()
	connection.shutdown()

	logger.Info("websocket connection closed")
}

// readLoop processes the commands of one connection in arrival order until
// the transport fails or closes.
func (s *WebSocketServer) readLoop(
	ctx context.Context,
	logger *zap.Logger,
	session *broadcaster.Session,
	connection *webSocketConnection,
) {
	conn := connection.conn

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	parseErrors := 0

	for session.Active() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logger.Debug("websocket read failed", zap.Error(err))
			}

			return
		}

		var request handler.Request
		err = json.Unmarshal(data, &request)
		if err == nil && request.Method == "" {
			err = errors.New("missing method")
		}

		if err != nil {
			parseErrors++

			response := request.ReplyWithError(ierr.New(ierr.ErrorCodeParseError, errors.New("invalid frame")))
			connection.enqueue(response)

			if parseErrors >= maxParseErrors {
				logger.Warn("too many malformed frames, closing connection")
				return
			}

			continue
		}

		parseErrors = 0

		if response := s.router.RouteRequest(ctx, request); response != nil {
			connection.enqueue(*response)
		}
	}
}

type webSocketConnection struct {
	id   string
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan any
	closed bool
}

func newWebSocketConnection(id string, conn *websocket.Conn, sendBufferSize int) *webSocketConnection {
	return &webSocketConnection{
		id:   id,
		conn: conn,
		send: make(chan any, sendBufferSize),
	}
}

func (c *webSocketConnection) Id() string {
	return c.id
}

func (c *webSocketConnection) Send(evt event.Event) error {
	params, err := evt.Params()
	if err != nil {
		return err
	}

	return c.enqueue(handler.NewNotification(string(evt.Kind), &params))
}

// enqueue never blocks. A full buffer means the client is not keeping up, so
// the transport is closed and the read loop runs the normal cleanup.
func (c *webSocketConnection) enqueue(frame any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return broadcaster.ErrConnectionClosed
	}

	select {
	case c.send <- frame:
		return nil
	default:
		go c.closeWith(websocket.CloseTryAgainLater, "send buffer full")

		return broadcaster.ErrSendBufferFull
	}
}

func (c *webSocketConnection) Close() error {
	return c.closeWith(websocket.CloseGoingAway, "server shutting down")
}

func (c *webSocketConnection) closeWith(code int, reason string) error {
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))

	return c.conn.Close()
}

// shutdown stops the write pump. No frame is accepted afterwards.
func (c *webSocketConnection) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}

func (c *webSocketConnection) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(frame); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func clientIp(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")

		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
