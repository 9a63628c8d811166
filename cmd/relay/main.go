package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/relay/internal/auth"
	"github.com/goevery/relay/internal/broadcaster"
	"github.com/goevery/relay/internal/handler"
	"github.com/goevery/relay/internal/persistence"
	"github.com/goevery/relay/internal/persistence/mongodb"
	"github.com/goevery/relay/internal/server"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const storePingTimeout = 10 * time.Second

type App struct {
	logger          *zap.Logger
	settings        Settings
	originChecker   *server.OriginChecker
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

// NewApp wires the relay. journal may be nil, in which case published events
// are not journaled.
func NewApp(logger *zap.Logger, settings Settings, journal *persistence.Journal) *App {
	originChecker := server.NewOriginChecker(settings.AllowedOrigins())
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	authenticator := auth.NewAuthenticator(settings.BridgeJWTSecret, settings.BridgeAPIKeys())

	requestIdValidator := handler.NewRequestIdValidator()
	registry := broadcaster.NewInMemoryRegistry(logger)
	lifecycle := broadcaster.NewLifecycle(logger, registry)
	roomBroadcaster := broadcaster.NewRoomBroadcaster(logger, registry)

	var recorder handler.Recorder
	if journal != nil {
		recorder = journal
	}
	publisher := handler.NewPublisher(logger, roomBroadcaster, recorder)

	router := server.NewRouter(
		logger,
		handler.NewHeartbeatHandler(),
		handler.NewJoinHandler(requestIdValidator, registry),
		handler.NewLeaveHandler(requestIdValidator, registry),
		handler.NewSendMessageHandler(requestIdValidator, publisher),
		handler.NewUpdateMessageHandler(requestIdValidator, publisher),
		handler.NewDeleteMessageHandler(requestIdValidator, publisher),
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		lifecycle,
		router,
		settings.SendBufferSize,
	)
	restServer := server.NewRESTServer(
		logger,
		handler.NewBridgeHandler(logger, requestIdValidator, publisher, settings.BridgeStrictEvents),
		handler.NewHealthHandler(registry),
		authenticator,
	)

	if !authenticator.Enabled() {
		logger.Warn("bridge authentication disabled, the bridge must not be reachable from untrusted networks")
	}

	return &App{
		logger,
		settings,
		originChecker,
		websocketServer,
		restServer,
	}
}

func (a *App) setup(ctx context.Context) error {
	a.startHttpServer(ctx)

	return nil
}

func (a *App) handler() http.Handler {
	root := mux.NewRouter()
	root.NotFoundHandler = http.HandlerFunc(server.NotFound)
	root.MethodNotAllowedHandler = http.HandlerFunc(server.NotFound)

	router := root
	if a.settings.BasePath != "" {
		router = root.PathPrefix(a.settings.BasePath).Subrouter()
		router.NotFoundHandler = root.NotFoundHandler
		router.MethodNotAllowedHandler = root.MethodNotAllowedHandler
	}

	a.websocketServer.Register(router, a.settings.WebSocketPath)
	a.restServer.Register(router)

	return a.originChecker.CORS(root)
}

func (a *App) startHttpServer(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	httpServer := &http.Server{
		Addr:              address,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(a.websocketServer.Shutdown)

	a.logger.Info("starting http server",
		zap.String("address", address),
		zap.String("websocketPath", a.settings.BasePath+a.settings.WebSocketPath),
		zap.Strings("allowedOrigins", a.originChecker.AllowedOrigins()))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), a.settings.ShutdownTimeout())
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http server shutdown failed",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

// openJournal checks that the store answers and, when journaling is enabled,
// prepares it and starts the journal writer. It returns a nil journal when
// journaling is disabled.
func openJournal(
	ctx context.Context,
	logger *zap.Logger,
	engine persistence.Engine,
	settings Settings,
) (*persistence.Journal, error) {
	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()

	err := engine.Ping(pingCtx)
	if err != nil {
		return nil, fmt.Errorf("persistence store unreachable: %w", err)
	}

	if !settings.JournalEnabled {
		return nil, nil
	}

	err = engine.Setup(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to set up event journal: %w", err)
	}

	return persistence.NewJournal(logger, engine, settings.JournalQueueSize), nil
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(fmt.Errorf("failed to parse settings from environment: %w", err))
	}

	logger, err := buildZapLogger(settings.LogEncoding, settings.LogLevel)
	if err != nil {
		panic(fmt.Errorf("failed to build logger: %w", err))
	}
	defer logger.Sync()

	err = settings.Validate()
	if err != nil {
		logger.Fatal("invalid settings", zap.Error(err))
	}

	mongoClient, err := mongodb.Connect(settings.MongoDBURI)
	if err != nil {
		logger.Fatal("failed to connect to mongodb", zap.Error(err))
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := mongoClient.Disconnect(disconnectCtx); err != nil {
			logger.Warn("failed to disconnect from mongodb", zap.Error(err))
		}
	}()

	engine := mongodb.NewPersistenceEngine(mongoClient, settings.Database(), settings.JournalTTL())

	journal, err := openJournal(ctx, logger, engine, settings)
	if err != nil {
		logger.Fatal("failed to open persistence store", zap.Error(err))
	}
	if journal != nil {
		defer journal.Close()
	}

	logger.Info("connected to mongodb",
		zap.String("database", settings.Database()),
		zap.Bool("journalEnabled", journal != nil))

	app := NewApp(logger, settings, journal)

	err = app.setup(ctx)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}
}
