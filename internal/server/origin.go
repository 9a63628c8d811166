package server

import (
	"net/http"
	"slices"
	"strings"
)

// OriginChecker holds the browser origins allowed to open websocket sessions
// and to make cross-origin HTTP calls. Requests without an Origin header come
// from non-browser callers and are always accepted.
type OriginChecker struct {
	allowedOrigins []string
}

func NewOriginChecker(allowedOrigins []string) *OriginChecker {
	origins := make([]string, 0, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" && !slices.Contains(origins, origin) {
			origins = append(origins, origin)
		}
	}

	return &OriginChecker{
		allowedOrigins: origins,
	}
}

func (c *OriginChecker) AllowedOrigins() []string {
	return slices.Clone(c.allowedOrigins)
}

func (c *OriginChecker) Allowed(origin string) bool {
	for _, allowed := range c.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}

	return false
}

func (c *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return c.Allowed(origin)
}

// CORS answers preflight requests for any path and decorates every response
// with the cross-origin headers of allowed origins.
func (c *OriginChecker) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.Allowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
