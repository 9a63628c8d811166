package handler

import "time"

const StatusHealthy = "healthy"

type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
	Channels    int       `json:"channels"`
}

type Counter interface {
	ConnectionCount() int
	ChannelCount() int
}

type HealthHandler struct {
	counter Counter
}

func NewHealthHandler(counter Counter) *HealthHandler {
	return &HealthHandler{
		counter,
	}
}

func (h *HealthHandler) Handle() HealthResponse {
	return HealthResponse{
		Status:      StatusHealthy,
		Timestamp:   time.Now().UTC(),
		Connections: h.counter.ConnectionCount(),
		Channels:    h.counter.ChannelCount(),
	}
}

type HeartbeatResponse struct {
	Timestamp time.Time `json:"timestamp"`
}

type HeartbeatHandlerInterface interface {
	Handle() HeartbeatResponse
}

type HeartbeatHandler struct{}

func NewHeartbeatHandler() *HeartbeatHandler {
	return &HeartbeatHandler{}
}

func (h *HeartbeatHandler) Handle() HeartbeatResponse {
	return HeartbeatResponse{
		Timestamp: time.Now(),
	}
}
