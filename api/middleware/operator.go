package middleware

import (
	"net/http"
	"strings"

	"github.com/atlasops/atlasops-backend/api/responses"
	"github.com/atlasops/atlasops-backend/pkg/config"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/security"
)

const opsTokenHeader = "X-Ops-Token"

// Operator admits principals with the operator role and machine callers
// presenting the pre-shared ops token. Runs after Auth on routes where a
// bearer token is present; machine callers skip Auth entirely, so the
// role check falls through to the token.
func Operator(cfg config.OpsConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) == string(enums.PrincipalRoleOperator) {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(r.Header.Get(opsTokenHeader))
			if token == "" || cfg.TokenHash == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator access required"))
				return
			}

			ok, err := security.VerifyToken(token, cfg.TokenHash)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify ops token"))
				return
			}
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "operator access required"))
				return
			}

			ctx := WithRole(r.Context(), string(enums.PrincipalRoleOperator))
			if logg != nil {
				ctx = logg.WithActorRole(ctx, string(enums.PrincipalRoleOperator))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
