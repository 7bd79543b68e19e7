package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/JunjieYu95/yukie-mvp-sub000/internal/audit"
	"github.com/JunjieYu95/yukie-mvp-sub000/internal/auth"
	"github.com/JunjieYu95/yukie-mvp-sub000/pkg/models"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

// AuthContextKey is the context key for the authenticated identity.
const AuthContextKey contextKey = "auth_context"

// publicPaths are always reachable without a credential.
var publicPaths = map[string]bool{
	"/health":  true,
	"/version": true,
}

// AuthExtractor validates the bearer credential on /api/v1/* requests and
// attaches the resulting AuthContext. Outcomes are recorded in the audit
// log.
//
// With a nil authenticator (no token secret configured), requests proceed
// as an anonymous wildcard identity. This is for local development only.
type AuthExtractor struct {
	authenticator auth.Authenticator
	auditor       *audit.Logger
}

// NewAuthExtractor creates the auth middleware.
func NewAuthExtractor(authenticator auth.Authenticator, auditor *audit.Logger) *AuthExtractor {
	return &AuthExtractor{authenticator: authenticator, auditor: auditor}
}

// Middleware wraps the next handler.
func (a *AuthExtractor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		requestID := chimw.GetReqID(r.Context())

		var authCtx *models.AuthContext
		if a.authenticator == nil {
			authCtx = &models.AuthContext{
				UserID: "anonymous",
				Scopes: []string{models.ScopeWildcard},
			}
		} else {
			credential := r.Header.Get("Authorization")
			parsed, err := a.authenticator.Authenticate(credential)
			if err != nil {
				a.auditor.LogAuth("", requestID, false, err.Error())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "invalid or missing credential"})
				return
			}
			authCtx = parsed
			a.auditor.LogAuth(authCtx.UserID, requestID, true, "")
		}

		authCtx.RequestID = requestID
		if raw := strings.TrimSpace(r.Header.Get(models.HeaderUTCOffset)); raw != "" {
			if offset, err := strconv.Atoi(raw); err == nil {
				authCtx.UTCOffsetMinutes = offset
			}
		}

		ctx := context.WithValue(r.Context(), AuthContextKey, authCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuth retrieves the authenticated identity from the request context.
func GetAuth(ctx context.Context) (*models.AuthContext, bool) {
	authCtx, ok := ctx.Value(AuthContextKey).(*models.AuthContext)
	return authCtx, ok
}
