package auth

import (
	"context"
	"slices"
)

// Role is the coarse authorization role of a principal.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains([]Role{RoleCustomer, RoleSeller, RoleAdmin}, r)
}

// Principal is the authenticated actor of a request. It is passed explicitly
// to every core operation.
type Principal struct {
	ID   string
	Role Role
}

func (p Principal) IsAdmin() bool  { return p.Role == RoleAdmin }
func (p Principal) IsSeller() bool { return p.Role == RoleSeller }

// APIKeyInfo holds the identity bound to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Role    Role
}

// Principal returns the actor the key authenticates.
func (k *APIKeyInfo) Principal() Principal {
	return Principal{ID: k.UserID, Role: k.Role}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
