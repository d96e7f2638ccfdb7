package middleware

import (
	"net/http"
	"slices"

	"github.com/angelmondragon/mala-backend/api/responses"
	"github.com/angelmondragon/mala-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/mala-backend/pkg/errors"
	"github.com/angelmondragon/mala-backend/pkg/logger"
)

// RequireRole rejects callers whose token role is not one of roles. Missing
// authentication is a 401, a known caller with the wrong role a 403.
func RequireRole(logg *logger.Logger, roles ...enums.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ActorFromContext(r.Context())
			switch {
			case actor.UserID == "":
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			case !slices.Contains(roles, actor.Role):
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "role %q not permitted", actor.Role))
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
