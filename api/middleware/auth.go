package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/mala-backend/api/responses"
	pkgAuth "github.com/angelmondragon/mala-backend/pkg/auth"
	"github.com/angelmondragon/mala-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

// Auth requires a bearer access token and stores the caller as an Actor.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			actor := Actor{
				UserID: claims.EffectiveUserID(),
				Role:   claims.EffectiveRole(),
				Email:  claims.Email,
			}
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithUserID(ctx, actor.UserID)
				ctx = logg.WithActorRole(ctx, actor.Role.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <jwt>" (any case) or a bare token.
func bearerToken(header string) (string, bool) {
	fields := strings.Fields(header)
	switch {
	case len(fields) == 1 && !strings.EqualFold(fields[0], "bearer"):
		return fields[0], true
	case len(fields) == 2 && strings.EqualFold(fields[0], "bearer"):
		return fields[1], true
	}
	return "", false
}
