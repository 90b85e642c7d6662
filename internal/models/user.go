package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the roles accepted on practitioner routes.
type UserRole string

const (
	RoleAdmin        UserRole = "ADMIN"
	RolePractitioner UserRole = "PRACTITIONER"
)

// JWTClaims represents the access token payload issued by the identity provider.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// OwnerID is the practitioner every owned record is scoped to: the token subject,
// falling back to the user_id claim.
func (c *JWTClaims) OwnerID() string {
	if c == nil {
		return ""
	}
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
