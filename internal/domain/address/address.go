// Package address holds user shipping addresses and the snapshot copied onto
// orders at placement time.
package address

import (
	"context"
	"strings"
	"time"
)

// Address is a shipping address owned by one user. At most one address per
// user is the default.
type Address struct {
	ID         string
	UserID     string
	FullName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	IsDefault  bool
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	DeletedAt  *time.Time
}

// Snapshot is the display copy of an address stored on an order, so that
// later edits never rewrite historical orders.
type Snapshot struct {
	FullName   string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// Snapshot returns the display copy of a.
func (a *Address) Snapshot() Snapshot {
	return Snapshot{
		FullName:   a.FullName,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
	}
}

// String renders the snapshot on one line, skipping empty parts.
func (s Snapshot) String() string {
	parts := make([]string, 0, 7)
	for _, p := range []string{s.FullName, s.Line1, s.Line2, s.City, s.State, s.PostalCode, s.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Repository loads addresses. Get is scoped to the owner: an address that is
// missing, deleted, or owned by someone else yields a not_found error.
type Repository interface {
	Get(ctx context.Context, id, userID string) (*Address, error)
}
