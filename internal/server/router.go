package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/goevery/relay/internal/handler"
	"github.com/goevery/relay/internal/ierr"
	"go.uber.org/zap"
)

type Router struct {
	logger *zap.Logger

	heartbeatHandler     handler.HeartbeatHandlerInterface
	joinHandler          handler.JoinHandlerInterface
	leaveHandler         handler.LeaveHandlerInterface
	sendMessageHandler   handler.SendMessageHandlerInterface
	updateMessageHandler handler.UpdateMessageHandlerInterface
	deleteMessageHandler handler.DeleteMessageHandlerInterface
}

func NewRouter(
	logger *zap.Logger,
	heartbeatHandler handler.HeartbeatHandlerInterface,
	joinHandler handler.JoinHandlerInterface,
	leaveHandler handler.LeaveHandlerInterface,
	sendMessageHandler handler.SendMessageHandlerInterface,
	updateMessageHandler handler.UpdateMessageHandlerInterface,
	deleteMessageHandler handler.DeleteMessageHandlerInterface,
) *Router {
	return &Router{
		logger,
		heartbeatHandler,
		joinHandler,
		leaveHandler,
		sendMessageHandler,
		updateMessageHandler,
		deleteMessageHandler,
	}
}

// RouteRequest runs one command to completion and returns the frame to send
// back, if the command expects one. A panicking handler is answered with an
// internal error; the connection is left open.
func (r *Router) RouteRequest(ctx context.Context, request handler.Request) (response *handler.Response) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.logger.Error("panic in command handler",
				zap.String("method", request.Method),
				zap.Any("panic", recovered))

			response = r.reply(request, nil, fmt.Errorf("panic: %v", recovered))
		}
	}()

	result, err := r.Handle(ctx, request)

	return r.reply(request, result, err)
}

func (r *Router) reply(request handler.Request, result any, err error) *handler.Response {
	if err != nil {
		mapped := r.mapError(err)

		if !request.ReplyExpected() {
			r.logger.Warn("command failed",
				zap.String("method", request.Method),
				zap.String("code", string(mapped.Code)),
				zap.String("reason", mapped.Message))

			return nil
		}

		response := request.ReplyWithError(mapped)

		return &response
	}

	if !request.ReplyExpected() {
		return nil
	}

	rawJson, err := json.Marshal(result)
	if err != nil {
		response := request.ReplyWithError(r.mapError(err))

		return &response
	}

	payload := json.RawMessage(rawJson)
	response := request.Reply(&payload)

	return &response
}

func (r *Router) Handle(ctx context.Context, request handler.Request) (any, error) {
	switch request.Method {
	case "heartbeat":
		return r.heartbeatHandler.Handle(), nil
	case "joinRequest":
		var joinReq handler.JoinRequest
		if err := decodeParams(request.Params, &joinReq); err != nil {
			return nil, err
		}

		return r.joinHandler.Handle(ctx, joinReq)
	case "leaveRequest":
		var leaveReq handler.LeaveRequest
		if err := decodeParams(request.Params, &leaveReq); err != nil {
			return nil, err
		}

		return r.leaveHandler.Handle(ctx, leaveReq)
	case "sendMessage":
		var sendReq handler.SendMessageRequest
		if err := decodeParams(request.Params, &sendReq); err != nil {
			return nil, err
		}

		return r.sendMessageHandler.Handle(ctx, sendReq)
	case "updateMessage":
		var updateReq handler.UpdateMessageRequest
		if err := decodeParams(request.Params, &updateReq); err != nil {
			return nil, err
		}

		return r.updateMessageHandler.Handle(ctx, updateReq)
	case "deleteMessage":
		var deleteReq handler.DeleteMessageRequest
		if err := decodeParams(request.Params, &deleteReq); err != nil {
			return nil, err
		}

		return r.deleteMessageHandler.Handle(ctx, deleteReq)
	default:
		return nil, ierr.New(ierr.ErrorCodeNotFound, errors.New("method not found: "+request.Method))
	}
}

func (r *Router) mapError(err error) ierr.Error {
	var handlerErr ierr.Error
	if errors.As(err, &handlerErr) {
		return handlerErr
	}

	r.logger.Error("error in command handler", zap.Error(err))

	return ierr.New(ierr.ErrorCodeInternal, errors.New("internal error"))
}

func decodeParams(params *json.RawMessage, v any) error {
	if params == nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("missing params"))
	}

	if err := json.Unmarshal(*params, v); err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid params: "+err.Error()))
	}

	return nil
}
