package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/goevery/relay/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

const Audience = "relay"

const ScopePublish = "publish"

type Claims struct {
	jwt.RegisteredClaims
	AuthorizedChannels []string `json:"authorizedChannels,omitempty"`
	Scope              []string `json:"scope,omitempty"`
}

type Authentication struct {
	Subject            string
	AuthorizedChannels []string
	Scope              []string
	IsAdmin            bool
}

func (a *Authentication) IsPublisher() bool {
	return slices.Contains(a.Scope, ScopePublish)
}

// IsAuthorized reports whether the caller may publish to channel. Tokens
// without an authorizedChannels claim may publish anywhere.
func (a *Authentication) IsAuthorized(channel string) bool {
	if a.Subject == "" {
		return false
	}

	if a.IsAdmin || len(a.AuthorizedChannels) == 0 {
		return true
	}

	return slices.Contains(a.AuthorizedChannels, channel)
}

type contextKey string

const authenticationKey contextKey = "authentication"

func WithAuthentication(ctx context.Context, auth *Authentication) context.Context {
	return context.WithValue(ctx, authenticationKey, auth)
}

func AuthenticationFromContext(ctx context.Context) (*Authentication, bool) {
	auth, ok := ctx.Value(authenticationKey).(*Authentication)
	return auth, ok
}

// Authenticator verifies callers of the ingestion bridge. With no secret and
// no api keys configured it is disabled and the bridge trusts its network.
type Authenticator struct {
	secret    []byte
	apiKeys   []string
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience(Audience),
	)

	keys := make([]string, 0, len(apiKeys))
	for _, key := range apiKeys {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}

	return &Authenticator{
		secret:    []byte(secret),
		apiKeys:   keys,
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) Enabled() bool {
	return len(a.secret) > 0 || len(a.apiKeys) > 0
}

// AuthenticateBearer accepts the value of an Authorization header carrying
// either an api key or a signed token.
func (a *Authenticator) AuthenticateBearer(header string) (*Authentication, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("missing bearer token"))
	}

	token = strings.TrimSpace(token)

	if authentication, err := a.AuthenticateAPIKey(token); err == nil {
		return authentication, nil
	}

	if len(a.secret) == 0 {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
	}

	return a.AuthenticateJWT(token)
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

func (a *Authenticator) AuthenticateJWT(tokenString string) (*Authentication, error) {
	if len(a.secret) == 0 {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("token authentication is not configured"))
	}

	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnauthenticated, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid subject claim"))
	}

	return &Authentication{
		Subject:            subject,
		AuthorizedChannels: claims.AuthorizedChannels,
		Scope:              claims.Scope,
		IsAdmin:            false,
	}, nil
}

func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				Subject: "api",
				Scope:   []string{ScopePublish},
				IsAdmin: true,
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("invalid api key"))
}
