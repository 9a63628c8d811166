package broadcaster

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Lifecycle owns the registry entries of every live session: it registers a
// connection when its transport opens and purges all of its memberships
// exactly once when the transport goes away.
type Lifecycle struct {
	logger   *zap.Logger
	registry Registry

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewLifecycle(logger *zap.Logger, registry Registry) *Lifecycle {
	return &Lifecycle{
		logger:   logger,
		registry: registry,
		sessions: make(map[string]*Session),
	}
}

type Session struct {
	lifecycle  *Lifecycle
	connection Connection

	state atomic.Int32
	once  sync.Once
}

func (l *Lifecycle) Open(connection Connection) *Session {
	session := &Session{
		lifecycle:  l,
		connection: connection,
	}
	session.state.Store(int32(StateConnecting))

	l.mu.Lock()
	l.sessions[connection.Id()] = session
	l.mu.Unlock()

	l.registry.Add(connection)
	session.state.Store(int32(StateConnected))

	l.logger.Debug("session connected", zap.String("connectionId", connection.Id()))

	return session
}

// CloseAll closes the transport of every live session. Each session is still
// torn down by its own transport loop calling Disconnect.
func (l *Lifecycle) CloseAll() {
	l.mu.Lock()
	sessions := make([]*Session, 0, len(l.sessions))
	for _, session := range l.sessions {
		sessions = append(sessions, session)
	}
	l.mu.Unlock()

	for _, session := range sessions {
		if err := session.connection.Close(); err != nil {
			l.logger.Debug("failed to close connection",
				zap.String("connectionId", session.connection.Id()),
				zap.Error(err))
		}
	}
}

func (l *Lifecycle) SessionCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.sessions)
}

func (s *Session) Connection() Connection {
	return s.connection
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Active() bool {
	return s.State() == StateConnected
}

// Disconnect moves the session to its terminal state. Only the first call has
// any effect.
func (s *Session) Disconnect() {
	s.once.Do(func() {
		s.state.Store(int32(StateDisconnected))

		l := s.lifecycle
		l.registry.RemoveConnection(s.connection.Id())

		l.mu.Lock()
		delete(l.sessions, s.connection.Id())
		l.mu.Unlock()

		l.logger.Debug("session disconnected", zap.String("connectionId", s.connection.Id()))
	})
}
