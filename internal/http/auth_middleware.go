package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jnoller/racer/pkg/crypto"
	"github.com/jnoller/racer/pkg/jwt"
)

type adminContextKey struct{}

// AdminAuth configures the admin API. An empty JWTSecret leaves admin routes open.
type AdminAuth struct {
	PasswordHash string
	JWTSecret    string
	TokenTTL     time.Duration
}

func (a AdminAuth) enabled() bool {
	return strings.TrimSpace(a.JWTSecret) != ""
}

// requireAdmin rejects requests without a valid admin bearer token.
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !r.admin.enabled() {
			next(w, req)
			return
		}
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil && isWebsocketUpgrade(req) {
			// websocket clients in browsers cannot set headers on the handshake
			token, err = strings.TrimSpace(req.URL.Query().Get("token")), nil
		}
		if err != nil || token == "" {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		claims, err := jwt.Parse(token, r.admin.JWTSecret)
		if err != nil || claims.Scope != jwt.ScopeAdmin {
			r.logger.Warn("admin token rejected", "path", req.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication failed")
			return
		}
		ctx := context.WithValue(req.Context(), adminContextKey{}, claims.Subject)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func (r *Router) handleAdminLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if !r.admin.enabled() || strings.TrimSpace(r.admin.PasswordHash) == "" {
		writeError(w, http.StatusServiceUnavailable, "internal_error", "admin login is not configured")
		return
	}
	var payload struct {
		Password string `json:"password" validate:"required"`
	}
	if err := r.decode(req, &payload); err != nil {
		r.writeFailure(w, req, err)
		return
	}
	if err := crypto.VerifyPassword(r.admin.PasswordHash, payload.Password); err != nil {
		r.logger.Warn("admin login failed", "ip", clientIP(req))
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
		return
	}
	ttl := r.admin.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	token, expires, err := jwt.GenerateToken("admin", jwt.ScopeAdmin, r.admin.JWTSecret, ttl)
	if err != nil {
		r.writeFailure(w, req, err)
		return
	}
	writeOK(w, http.StatusOK, "login successful", "token", map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires.UTC(),
	})
}

type contextSetter interface {
	SetContext(context.Context)
}

func adminFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(adminContextKey{}).(string)
	return subject, ok && subject != ""
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func isWebsocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}
