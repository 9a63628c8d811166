package handler

import (
	"context"
	"time"

	"github.com/goevery/relay/internal/ierr"
	"github.com/goevery/relay/internal/persistence"
	"github.com/goevery/relay/pkg/event"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

type SendMessageRequest struct {
	RequestId   string          `json:"requestId"`
	Action      string          `json:"action"`
	Description string          `json:"description"`
	EntityType  string          `json:"entity_type,omitempty"`
	Metadata    *event.Metadata `json:"metadata,omitempty"`
}

type PublishResponse struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
}

type SendMessageResponse struct {
	PublishResponse
	Message *event.NewMessage `json:"message"`
}

type SendMessageHandlerInterface interface {
	Handle(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error)
}

type SendMessageHandler struct {
	requestIdValidator *RequestIdValidator
	publisher          *Publisher
}

func NewSendMessageHandler(requestIdValidator *RequestIdValidator, publisher *Publisher) *SendMessageHandler {
	return &SendMessageHandler{
		requestIdValidator,
		publisher,
	}
}

func (h *SendMessageHandler) Handle(ctx context.Context, req SendMessageRequest) (SendMessageResponse, error) {
	if _, err := activeSession(ctx); err != nil {
		return SendMessageResponse{}, err
	}

	err := h.requestIdValidator.Validate(req.RequestId)
	if err != nil {
		return SendMessageResponse{}, err
	}

	message := &event.NewMessage{
		Id:          gonanoid.Must(),
		RequestId:   req.RequestId,
		Action:      req.Action,
		Description: req.Description,
		EntityType:  req.EntityType,
		Metadata:    req.Metadata,
		CreatedAt:   time.Now().UTC(),
	}

	evt, err := event.New(req.RequestId, message)
	if err != nil {
		return SendMessageResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	report := h.publisher.Publish(req.RequestId, evt, persistence.SourceTransport)

	return SendMessageResponse{
		PublishResponse: PublishResponse{report.Recipients, report.Delivered},
		Message:         message,
	}, nil
}

type UpdateMessageRequest struct {
	RequestId   string `json:"requestId"`
	MessageId   string `json:"messageId"`
	Description string `json:"description"`
}

type UpdateMessageHandlerInterface interface {
	Handle(ctx context.Context, req UpdateMessageRequest) (PublishResponse, error)
}

type UpdateMessageHandler struct {
	requestIdValidator *RequestIdValidator
	publisher          *Publisher
}

func NewUpdateMessageHandler(requestIdValidator *RequestIdValidator, publisher *Publisher) *UpdateMessageHandler {
	return &UpdateMessageHandler{
		requestIdValidator,
		publisher,
	}
}

func (h *UpdateMessageHandler) Handle(ctx context.Context, req UpdateMessageRequest) (PublishResponse, error) {
	if _, err := activeSession(ctx); err != nil {
		return PublishResponse{}, err
	}

	err := h.requestIdValidator.Validate(req.RequestId)
	if err != nil {
		return PublishResponse{}, err
	}

	evt, err := event.New(req.RequestId, &event.MessageUpdated{
		Id:          req.MessageId,
		RequestId:   req.RequestId,
		Description: req.Description,
	})
	if err != nil {
		return PublishResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	report := h.publisher.Publish(req.RequestId, evt, persistence.SourceTransport)

	return PublishResponse{report.Recipients, report.Delivered}, nil
}

type DeleteMessageRequest struct {
	RequestId string `json:"requestId"`
	MessageId string `json:"messageId"`
}

type DeleteMessageHandlerInterface interface {
	Handle(ctx context.Context, req DeleteMessageRequest) (PublishResponse, error)
}

type DeleteMessageHandler struct {
	requestIdValidator *RequestIdValidator
	publisher          *Publisher
}

func NewDeleteMessageHandler(requestIdValidator *RequestIdValidator, publisher *Publisher) *DeleteMessageHandler {
	return &DeleteMessageHandler{
		requestIdValidator,
		publisher,
	}
}

func (h *DeleteMessageHandler) Handle(ctx context.Context, req DeleteMessageRequest) (PublishResponse, error) {
	if _, err := activeSession(ctx); err != nil {
		return PublishResponse{}, err
	}

	err := h.requestIdValidator.Validate(req.RequestId)
	if err != nil {
		return PublishResponse{}, err
	}

	evt, err := event.New(req.RequestId, &event.MessageDeleted{
		Id:        req.MessageId,
		RequestId: req.RequestId,
	})
	if err != nil {
		return PublishResponse{}, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	report := h.publisher.Publish(req.RequestId, evt, persistence.SourceTransport)

	return PublishResponse{report.Recipients, report.Delivered}, nil
}
