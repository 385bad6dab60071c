package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/atlasops/atlasops-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	TenantID uuid.UUID
	// AccountID names the caller's billing account when the principal acts
	// for one credit account rather than the tenant as a whole.
	AccountID *uuid.UUID
	Role      enums.PrincipalRole
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	TenantID  uuid.UUID           `json:"tenant_id"`
	AccountID *uuid.UUID          `json:"account_id,omitempty"`
	Role      enums.PrincipalRole `json:"role"`
	jwt.RegisteredClaims
}
