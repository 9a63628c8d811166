package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/goevery/relay/internal/persistence/mongodb"
)

type Settings struct {
	Port          int    `env:"PORT,default=3001"`
	BasePath      string `env:"BASE_PATH"`
	WebSocketPath string `env:"WEBSOCKET_PATH,default=/api/socketio"`

	AllowedOriginList string `env:"ALLOWED_ORIGINS"`
	FrontendURL       string `env:"FRONTEND_URL,default=http://localhost:3000"`

	MongoDBURI      string `env:"MONGODB_URI,default=mongodb://localhost:27017/aneerequests"`
	MongoDBDatabase string `env:"MONGODB_DATABASE"`
	JournalEnabled   bool   `env:"JOURNAL_ENABLED,default=false"`
	JournalTTLValue  string `env:"JOURNAL_TTL,default=120h"`
	JournalQueueSize int    `env:"JOURNAL_QUEUE_SIZE,default=1024"`

	BridgeAPIKeyList   string `env:"BRIDGE_API_KEYS"`
	BridgeJWTSecret    string `env:"BRIDGE_JWT_SECRET"`
	BridgeStrictEvents bool   `env:"BRIDGE_STRICT_EVENTS,default=false"`

	SendBufferSize       int    `env:"SEND_BUFFER_SIZE,default=64"`
	ShutdownTimeoutValue string `env:"SHUTDOWN_TIMEOUT,default=30s"`

	LogEncoding string `env:"LOG_ENCODING,default=console"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`
}

func (s Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", s.Port)
	}

	if s.BasePath != "" && !strings.HasPrefix(s.BasePath, "/") {
		return fmt.Errorf("BASE_PATH must start with a slash: %q", s.BasePath)
	}

	if !strings.HasPrefix(s.WebSocketPath, "/") {
		return fmt.Errorf("WEBSOCKET_PATH must start with a slash: %q", s.WebSocketPath)
	}

	if s.SendBufferSize <= 0 {
		return fmt.Errorf("invalid SEND_BUFFER_SIZE %d", s.SendBufferSize)
	}

	journalTTL, err := time.ParseDuration(s.JournalTTLValue)
	if err != nil {
		return fmt.Errorf("invalid JOURNAL_TTL: %w", err)
	}

	if journalTTL < time.Second {
		return fmt.Errorf("JOURNAL_TTL must be at least one second: %s", s.JournalTTLValue)
	}

	if s.JournalQueueSize <= 0 {
		return fmt.Errorf("invalid JOURNAL_QUEUE_SIZE %d", s.JournalQueueSize)
	}

	if _, err := time.ParseDuration(s.ShutdownTimeoutValue); err != nil {
		return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return nil
}

// AllowedOrigins falls back to the frontend and the known deployments when
// ALLOWED_ORIGINS is not set.
func (s Settings) AllowedOrigins() []string {
	if origins := splitList(s.AllowedOriginList); len(origins) > 0 {
		return origins
	}

	return []string{s.FrontendURL, "http://localhost:3000", "https://app.aneeverse.com"}
}

func (s Settings) BridgeAPIKeys() []string {
	return splitList(s.BridgeAPIKeyList)
}

func (s Settings) Database() string {
	if s.MongoDBDatabase != "" {
		return s.MongoDBDatabase
	}

	return mongodb.DatabaseFromURI(s.MongoDBURI)
}

func (s Settings) JournalTTL() time.Duration {
	ttl, _ := time.ParseDuration(s.JournalTTLValue)
	return ttl
}

func (s Settings) ShutdownTimeout() time.Duration {
	timeout, _ := time.ParseDuration(s.ShutdownTimeoutValue)
	return timeout
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}
