package handler

import (
	"context"
	"errors"

	"github.com/goevery/relay/internal/broadcaster"
	"github.com/goevery/relay/internal/ierr"
)

type JoinRequest struct {
	RequestId string `json:"requestId"`
}

type JoinResponse struct {
	Success   bool   `json:"success"`
	RequestId string `json:"requestId"`
}

type JoinHandlerInterface interface {
	Handle(ctx context.Context, req JoinRequest) (JoinResponse, error)
}

type JoinHandler struct {
	requestIdValidator *RequestIdValidator
	registry           broadcaster.Registry
}

func NewJoinHandler(
	requestIdValidator *RequestIdValidator,
	registry broadcaster.Registry,
) *JoinHandler {
	return &JoinHandler{
		requestIdValidator,
		registry,
	}
}

func (h *JoinHandler) Handle(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	err := h.requestIdValidator.Validate(req.RequestId)
	if err != nil {
		return JoinResponse{}, err
	}

	session, err := activeSession(ctx)
	if err != nil {
		return JoinResponse{}, err
	}

	h.registry.Join(req.RequestId, session.Connection())

	return JoinResponse{
		Success:   true,
		RequestId: req.RequestId,
	}, nil
}

type LeaveRequest struct {
	RequestId string `json:"requestId"`
}

type LeaveResponse struct {
	Success bool `json:"success"`
}

type LeaveHandlerInterface interface {
	Handle(ctx context.Context, req LeaveRequest) (LeaveResponse, error)
}

type LeaveHandler struct {
	requestIdValidator *RequestIdValidator
	registry           broadcaster.Registry
}

func NewLeaveHandler(
	requestIdValidator *RequestIdValidator,
	registry broadcaster.Registry,
) *LeaveHandler {
	return &LeaveHandler{
		requestIdValidator,
		registry,
	}
}

func (h *LeaveHandler) Handle(ctx context.Context, req LeaveRequest) (LeaveResponse, error) {
	err := h.requestIdValidator.Validate(req.RequestId)
	if err != nil {
		return LeaveResponse{}, err
	}

	session, err := activeSession(ctx)
	if err != nil {
		return LeaveResponse{}, err
	}

	h.registry.Leave(req.RequestId, session.Connection().Id())

	return LeaveResponse{
		Success: true,
	}, nil
}

func activeSession(ctx context.Context) (*broadcaster.Session, error) {
	session, ok := broadcaster.SessionFromContext(ctx)
	if !ok {
		return nil, errors.New("session not found in context")
	}

	if !session.Active() {
		return nil, ierr.New(ierr.ErrorCodePermissionDenied, errors.New("session is "+session.State().String()))
	}

	return session, nil
}
