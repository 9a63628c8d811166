package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/goevery/relay/internal/auth"
	"github.com/goevery/relay/internal/handler"
	"github.com/goevery/relay/internal/ierr"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const maxBridgeBodyBytes = 1 << 20

type ErrorResponse struct {
	Error string `json:"error"`
}

type RESTServer struct {
	logger *zap.Logger

	bridgeHandler handler.BridgeHandlerInterface
	healthHandler *handler.HealthHandler
	authenticator *auth.Authenticator
}

func NewRESTServer(
	logger *zap.Logger,
	bridgeHandler handler.BridgeHandlerInterface,
	healthHandler *handler.HealthHandler,
	authenticator *auth.Authenticator,
) *RESTServer {
	return &RESTServer{
		logger,
		bridgeHandler,
		healthHandler,
		authenticator,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/health", s.health).Methods(http.MethodGet)

	bridge := s.authenticate(http.HandlerFunc(s.bridge))
	router.Handle("/bridge", bridge).Methods(http.MethodPost)
	router.Handle("/api/broadcast", bridge).Methods(http.MethodPost)
}

func (s *RESTServer) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.healthHandler.Handle())
}

func (s *RESTServer) bridge(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBridgeBodyBytes))
	if err != nil {
		s.logger.Warn("failed to read bridge request", zap.Error(err))
		writeError(w, http.StatusBadRequest)
		return
	}

	var bridgeRequest handler.BridgeRequest
	err = json.Unmarshal(body, &bridgeRequest)
	if err != nil {
		s.logger.Warn("malformed bridge request", zap.Error(err))
		writeError(w, http.StatusBadRequest)
		return
	}

	bridgeResponse, err := s.bridgeHandler.Handle(r.Context(), bridgeRequest)
	if err != nil {
		code := ierr.CodeOf(err)
		if code == ierr.ErrorCodeInternal {
			s.logger.Error("failed to handle bridge request", zap.Error(err))
		} else {
			s.logger.Warn("rejected bridge request",
				zap.String("code", string(code)),
				zap.Error(err))
		}

		writeError(w, ierr.HTTPStatus(code))
		return
	}

	writeJSON(w, http.StatusOK, bridgeResponse)
}

func (s *RESTServer) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authenticator == nil || !s.authenticator.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		authentication, err := s.authenticator.AuthenticateBearer(r.Header.Get("Authorization"))
		if err != nil {
			s.logger.Warn("unauthenticated bridge request", zap.Error(err))
			writeError(w, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuthentication(r.Context(), authentication)))
	})
}

// NotFound answers every unrouted request, including known paths called with
// the wrong method.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound)
}

func writeError(w http.ResponseWriter, status int) {
	var message string
	switch status {
	case http.StatusBadRequest:
		message = "Invalid request"
	case http.StatusUnauthorized:
		message = "Unauthorized"
	case http.StatusForbidden:
		message = "Forbidden"
	case http.StatusNotFound:
		message = "Not found"
	default:
		message = "Internal error"
	}

	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(body)
}
