// Package producer is the client the backend application uses to push change
// notifications into the relay through its ingestion bridge.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goevery/relay/internal/auth"
	"github.com/goevery/relay/pkg/event"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTimeout = 5 * time.Second
	tokenLifetime  = 5 * time.Minute
)

var ErrBroadcastFailed = errors.New("broadcast failed")

type Producer interface {
	BroadcastNewMessage(ctx context.Context, requestId string, message event.NewMessage) error
	BroadcastMessageUpdate(ctx context.Context, requestId string, messageId string, description string) error
	BroadcastMessageDeletion(ctx context.Context, requestId string, messageId string) error
	BroadcastRequestUpdate(ctx context.Context, requestId string, field string, value any) error
}

type Option func(*Client)

func WithAPIKey(apiKey string) Option {
	return func(c *Client) {
		c.apiKey = apiKey
	}
}

// WithSigningSecret makes the client sign a short lived token per call
// instead of sending a static api key.
func WithSigningSecret(subject string, secret string) Option {
	return func(c *Client) {
		c.subject = subject
		c.secret = []byte(secret)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

type Client struct {
	bridgeURL  string
	httpClient *http.Client

	apiKey  string
	subject string
	secret  []byte
}

var _ Producer = (*Client)(nil)

// NewClient returns a client posting to the bridge endpoint of the relay at
// baseURL, for example http://localhost:3001.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		bridgeURL:  strings.TrimRight(baseURL, "/") + "/bridge",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type bridgeRequest struct {
	RequestId   string        `json:"requestId"`
	Event       event.Kind    `json:"event"`
	MessageData event.Payload `json:"messageData"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) BroadcastNewMessage(ctx context.Context, requestId string, message event.NewMessage) error {
	return c.Broadcast(ctx, requestId, &message)
}

func (c *Client) BroadcastMessageUpdate(ctx context.Context, requestId string, messageId string, description string) error {
	return c.Broadcast(ctx, requestId, &event.MessageUpdated{
		Id:          messageId,
		Description: description,
	})
}

func (c *Client) BroadcastMessageDeletion(ctx context.Context, requestId string, messageId string) error {
	return c.Broadcast(ctx, requestId, &event.MessageDeleted{
		Id: messageId,
	})
}

func (c *Client) BroadcastRequestUpdate(ctx context.Context, requestId string, field string, value any) error {
	return c.Broadcast(ctx, requestId, &event.RequestUpdated{
		Field: field,
		Value: value,
	})
}

// Broadcast validates payload locally and posts it to the bridge. A relay
// that is down or rejects the event yields an error wrapping
// ErrBroadcastFailed; callers usually log it and carry on.
func (c *Client) Broadcast(ctx context.Context, requestId string, payload event.Payload) error {
	evt, err := event.New(requestId, payload)
	if err != nil {
		return err
	}

	body, err := json.Marshal(bridgeRequest{
		RequestId:   requestId,
		Event:       evt.Kind,
		MessageData: evt.Payload,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.bridgeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	authorization, err := c.authorization()
	if err != nil {
		return err
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var errResp errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&errResp)

	return fmt.Errorf("%w: status %d: %s", ErrBroadcastFailed, resp.StatusCode, errResp.Error)
}

func (c *Client) authorization() (string, error) {
	if c.apiKey != "" {
		return "Bearer " + c.apiKey, nil
	}

	if len(c.secret) == 0 {
		return "", nil
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.subject,
			Audience:  jwt.ClaimStrings{auth.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
		Scope: []string{auth.ScopePublish},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", err
	}

	return "Bearer " + signed, nil
}
