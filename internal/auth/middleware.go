package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/crewgate/crewgate/internal/accred"
	"github.com/crewgate/crewgate/internal/middleware"
)

// actorKey is the context key for the authenticated actor.
type actorKey struct{}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (accred.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(accred.Actor)
	return actor, ok
}

// WithActor stores an actor in the context. Exported for handler tests.
func WithActor(ctx context.Context, actor accred.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// Middleware validates the Bearer token on every request and resolves it to
// an actor in the context. Requests without a valid token are rejected with
// 401; role checks happen later in the lifecycle service, not here.
func Middleware(jwtService *JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				middleware.SetErrorCode(r.Context(), "auth_failed")
				w.Header().Set("WWW-Authenticate", `Bearer realm="crewgate"`)
				writeUnauthorized(w, "missing bearer token")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				middleware.SetErrorCode(r.Context(), "auth_failed")
				writeUnauthorized(w, "invalid or expired token")
				return
			}

			actor := accred.Actor{
				ID:   claims.Subject,
				Role: accred.Role(claims.Role),
			}
			ctx := WithActor(r.Context(), actor)
			ctx = middleware.SetActorID(ctx, actor.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeUnauthorized emits the API's standard error envelope. Defined here
// rather than reusing the api package to avoid an import cycle.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	resp := map[string]map[string]string{
		"error": {"code": "auth_failed", "message": message},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode auth error", "error", err)
	}
}
