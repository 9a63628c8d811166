package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/goevery/relay/internal/auth"
	"github.com/goevery/relay/internal/ierr"
	"github.com/goevery/relay/internal/persistence"
	"github.com/goevery/relay/pkg/event"
	"go.uber.org/zap"
)

// BridgeRequest is what the backend application posts to inject an event.
// channel and payload are accepted as aliases of requestId and messageData.
type BridgeRequest struct {
	RequestId   string          `json:"requestId"`
	Channel     string          `json:"channel,omitempty"`
	Event       string          `json:"event"`
	MessageData json.RawMessage `json:"messageData"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

func (r BridgeRequest) channel() string {
	if r.RequestId != "" {
		return r.RequestId
	}

	return r.Channel
}

func (r BridgeRequest) data() json.RawMessage {
	if len(r.MessageData) > 0 {
		return r.MessageData
	}

	return r.Payload
}

type BridgeResponse struct {
	Success bool `json:"success"`
}

type BridgeHandlerInterface interface {
	Handle(ctx context.Context, req BridgeRequest) (BridgeResponse, error)
}

type BridgeHandler struct {
	logger             *zap.Logger
	requestIdValidator *RequestIdValidator
	publisher          *Publisher
	strictEvents       bool
}

func NewBridgeHandler(
	logger *zap.Logger,
	requestIdValidator *RequestIdValidator,
	publisher *Publisher,
	strictEvents bool,
) *BridgeHandler {
	return &BridgeHandler{
		logger,
		requestIdValidator,
		publisher,
		strictEvents,
	}
}

func (h *BridgeHandler) Handle(ctx context.Context, req BridgeRequest) (BridgeResponse, error) {
	channel := req.channel()

	err := h.requestIdValidator.Validate(channel)
	if err != nil {
		return BridgeResponse{}, err
	}

	if authentication, ok := auth.AuthenticationFromContext(ctx); ok {
		if !authentication.IsPublisher() {
			return BridgeResponse{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("caller not authorized to publish events"))
		}

		if !authentication.IsAuthorized(channel) {
			return BridgeResponse{},
				ierr.New(ierr.ErrorCodePermissionDenied, errors.New("caller not authorized to publish to this channel"))
		}
	}

	evt, err := event.Decode(req.Event, req.data(), channel, h.strictEvents)
	if err != nil {
		return BridgeResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	if !evt.Kind.Known() {
		h.logger.Info("relaying event of unknown kind",
			zap.String("channel", channel),
			zap.String("event", string(evt.Kind)))
	}

	h.publisher.Publish(channel, evt, persistence.SourceBridge)

	return BridgeResponse{
		Success: true,
	}, nil
}
