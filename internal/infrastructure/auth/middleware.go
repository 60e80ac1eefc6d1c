package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const userIDKey contextKey = "user_id"

func WithUserID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDKey).(uuid.UUID)
	return id, ok
}

// AuthMiddleware rejects requests without a valid bearer token that is also
// the user's current session in Redis.
func AuthMiddleware(jwtService *JWTService, sessions *SessionStore, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return authenticate(jwtService, sessions, logger, true)
}

// OptionalAuthMiddleware resolves the user when a token is present and passes
// anonymous requests through.
func OptionalAuthMiddleware(jwtService *JWTService, sessions *SessionStore, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return authenticate(jwtService, sessions, logger, false)
}

func authenticate(jwtService *JWTService, sessions *SessionStore, logger *zerolog.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if required {
					http.Error(w, "authorization header missing", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			claims, err := jwtService.ValidateJWT(tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			// Check token in Redis
			if sessions != nil {
				ok, err := sessions.IsCurrent(r.Context(), claims.UserID, tokenStr)
				if err != nil || !ok {
					logger.Warn().Err(err).Str("user_id", claims.UserID.String()).Msg("invalid or revoked token")
					http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
					return
				}
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.UserID)))
		})
	}
}
