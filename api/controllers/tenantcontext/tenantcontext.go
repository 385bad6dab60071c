package tenantcontext

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/api/middleware"
	pkgerrors "github.com/atlasops/atlasops-backend/pkg/errors"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
)

// ResolveTenantID extracts the authenticated tenant from the request context.
func ResolveTenantID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.TenantIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeForbidden, "tenant context required")
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant id")
	}
	return id, nil
}

// ResolveAccountID returns the billing account the caller acts for, when the
// token names one. Nil means the caller operates as the tenant itself.
func ResolveAccountID(r *http.Request) (*uuid.UUID, error) {
	raw := middleware.AccountIDFromContext(r.Context())
	if raw == "" {
		return nil, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id")
	}
	return &id, nil
}

// Actor builds the audit reference attached to outbox events. The principal
// is the acting account when present, otherwise the tenant itself.
func Actor(r *http.Request) *outbox.ActorRef {
	tenantID, err := ResolveTenantID(r)
	if err != nil {
		return nil
	}

	actor := &outbox.ActorRef{
		PrincipalID: tenantID,
		TenantID:    &tenantID,
		Role:        middleware.RoleFromContext(r.Context()),
	}
	if accountID, err := ResolveAccountID(r); err == nil && accountID != nil {
		actor.PrincipalID = *accountID
	}
	return actor
}
