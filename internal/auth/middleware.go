package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware authenticates HTTP requests with bearer tokens
type Middleware struct {
	jwtManager *JWTManager
	skipAuth   bool // development mode
	logger     *zap.Logger
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(jwtManager *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{jwtManager: jwtManager, skipAuth: skipAuth, logger: logger}
}

var devPrincipal = &Principal{Subject: "dev", Scopes: DefaultScopes}

// HTTPMiddleware rejects requests without a valid token. Websocket stream
// routes may pass the token as ?access_token= since browsers cannot set headers there.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), devPrincipal)))
			return
		}

		var token string
		if h := r.Header.Get("Authorization"); h != "" {
			t, err := ExtractBearerToken(h)
			if err != nil {
				writeUnauthorized(w, "Invalid authorization header")
				return
			}
			token = t
		} else if strings.HasSuffix(r.URL.Path, "/stream") {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			writeUnauthorized(w, "Authorization required")
			return
		}

		p, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			m.logger.Debug("Rejected access token", zap.Error(err), zap.String("path", r.URL.Path))
			writeUnauthorized(w, "Invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireScope wraps next so that only principals holding scope reach it.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			writeUnauthorized(w, "Authorization required")
			return
		}
		if !p.HasScope(scope) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "missing scope " + scope})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}
