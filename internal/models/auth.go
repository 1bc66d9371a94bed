package models

import "github.com/golang-jwt/jwt/v5"

// UserRole scopes endpoint access.
type UserRole string

const (
	RoleStudent UserRole = "student"
	RoleAdmin   UserRole = "admin"
)

// JWTClaims is the access-token payload issued by the external auth
// provider. Only verification happens in this service.
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}
