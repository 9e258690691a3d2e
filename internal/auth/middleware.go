package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Skipper exempts a request from token checks. The binaries use it to
// keep /healthz and /metrics reachable without credentials.
type Skipper func(r *http.Request) bool

// Middleware rejects requests without a valid bearer JWT and makes the
// parsed claims available to the progress handlers via the context.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware with an optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap applies the token check in front of next.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, ErrInvalidToken
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return Parse(token, m.Config)
}
