package broadcaster

import (
	"sync"

	"go.uber.org/zap"
)

type Registry interface {
	Add(connection Connection)
	Join(channel string, connection Connection)
	Leave(channel string, connectionId string)
	RemoveConnection(connectionId string)
	MembersOf(channel string) []Connection
	ConnectionCount() int
}

type InMemoryRegistry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections          map[string]Connection
	connectionsByChannel map[string]map[string]struct{}
	channelsByConnection map[string]map[string]struct{}
}

func NewInMemoryRegistry(
	logger *zap.Logger,
) *InMemoryRegistry {
	return &InMemoryRegistry{
		logger:               logger,
		connections:          make(map[string]Connection),
		connectionsByChannel: make(map[string]map[string]struct{}),
		channelsByConnection: make(map[string]map[string]struct{}),
	}
}

func (r *InMemoryRegistry) Add(connection Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(connection)
}

func (r *InMemoryRegistry) Join(channel string, connection Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(connection)

	if _, ok := r.connectionsByChannel[channel]; !ok {
		r.connectionsByChannel[channel] = make(map[string]struct{})
		r.logger.Debug("channel opened", zap.String("channel", channel))
	}

	r.connectionsByChannel[channel][connection.Id()] = struct{}{}
	r.channelsByConnection[connection.Id()][channel] = struct{}{}
}

func (r *InMemoryRegistry) Leave(channel string, connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connectionChannels, ok := r.channelsByConnection[connectionId]
	if !ok {
		return
	}

	if _, ok := connectionChannels[channel]; !ok {
		return
	}

	delete(connectionChannels, channel)

	channelConnections, ok := r.connectionsByChannel[channel]
	if !ok {
		panic("inconsistent state: channel not found in connectionsByChannel")
	}

	delete(channelConnections, connectionId)
	if len(channelConnections) == 0 {
		r.deleteChannelLocked(channel)
	}
}

func (r *InMemoryRegistry) RemoveConnection(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.connections[connectionId]; !ok {
		return
	}

	connectionChannels, ok := r.channelsByConnection[connectionId]
	if !ok {
		panic("inconsistent state: connection not found in channelsByConnection")
	}

	for channel := range connectionChannels {
		channelConnections, ok := r.connectionsByChannel[channel]
		if !ok {
			panic("inconsistent state: channel not found in connectionsByChannel")
		}

		delete(channelConnections, connectionId)
		if len(channelConnections) == 0 {
			r.deleteChannelLocked(channel)
		}
	}

	delete(r.channelsByConnection, connectionId)
	delete(r.connections, connectionId)
}

// MembersOf returns a snapshot of the channel members. The slice is owned by
// the caller and is never observed by the registry again.
func (r *InMemoryRegistry) MembersOf(channel string) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectionIds := r.connectionsByChannel[channel]
	members := make([]Connection, 0, len(connectionIds))
	for connectionId := range connectionIds {
		if connection, ok := r.connections[connectionId]; ok {
			members = append(members, connection)
		}
	}

	return members
}

func (r *InMemoryRegistry) ChannelsOf(connectionId string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	channels := make([]string, 0, len(r.channelsByConnection[connectionId]))
	for channel := range r.channelsByConnection[connectionId] {
		channels = append(channels, channel)
	}

	return channels
}

func (r *InMemoryRegistry) HasChannel(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.connectionsByChannel[channel]

	return ok
}

func (r *InMemoryRegistry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connections)
}

func (r *InMemoryRegistry) ChannelCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connectionsByChannel)
}

// IMPORTANT: It must be called only when a write lock is already held.
func (r *InMemoryRegistry) addLocked(connection Connection) {
	if _, ok := r.connections[connection.Id()]; ok {
		return
	}

	r.connections[connection.Id()] = connection
	r.channelsByConnection[connection.Id()] = make(map[string]struct{})
}

// IMPORTANT: It must be called only when a write lock is already held.
func (r *InMemoryRegistry) deleteChannelLocked(channel string) {
	delete(r.connectionsByChannel, channel)
	r.logger.Debug("channel closed", zap.String("channel", channel))
}
