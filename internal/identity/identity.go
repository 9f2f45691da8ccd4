// Package identity carries the caller identity through requests and
// centralizes the authorization rules for every pipeline operation.
//
// A caller is always a user acting on behalf of a company. Authorization is
// company-scoped: the shipper company owns the load and the money, the hauler
// company owns the physical work. Token issuance lives in an external auth
// service; this package only verifies and consumes tokens.
package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the caller's role within the marketplace.
type Role string

const (
	RoleShipper Role = "shipper"
	RoleHauler  Role = "hauler"
	RoleDriver  Role = "driver"
	RoleAdmin   Role = "admin"
)

// Valid reports whether the role is one the pipeline knows.
func (r Role) Valid() bool {
	switch r {
	case RoleShipper, RoleHauler, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Identity is the resolved caller of a pipeline operation.
type Identity struct {
	UserID    int64 `json:"user_id"`
	CompanyID int64 `json:"company_id"`
	Role      Role  `json:"role"`
}

// IsAdmin reports whether the caller holds the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == RoleAdmin
}

// ActsFor reports whether the caller belongs to the given company.
func (id Identity) ActsFor(companyID int64) bool {
	return id.CompanyID == companyID
}

// claims is the JWT claim set the external auth service issues.
type claims struct {
	CompanyID int64  `json:"company_id"`
	Role      string `json:"role"`
	jwt.RegisteredClaims
}

// ParseToken verifies an HS256 bearer token and extracts the caller identity.
func ParseToken(tokenString, secret string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}

	var userID int64
	if _, err := fmt.Sscanf(c.Subject, "%d", &userID); err != nil {
		return Identity{}, fmt.Errorf("invalid subject claim: %w", err)
	}

	id := Identity{UserID: userID, CompanyID: c.CompanyID, Role: Role(c.Role)}
	if !id.Role.Valid() {
		return Identity{}, fmt.Errorf("unknown role %q", c.Role)
	}
	return id, nil
}

// SignToken mints an identity token. Used by tests and local tooling; the
// production issuer is the external auth service.
func SignToken(id Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		CompanyID: id.CompanyID,
		Role:      string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprintf("%d", id.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}
