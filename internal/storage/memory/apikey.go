package memory

import (
	"context"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
)

// APIKeys implements auth.Repository.
type APIKeys struct {
	s *Store
}

var _ auth.Repository = (*APIKeys)(nil)

// APIKeys returns the API key view of the store.
func (s *Store) APIKeys() *APIKeys {
	return &APIKeys{s: s}
}

// Put registers a key by its hash.
func (r *APIKeys) Put(ctx context.Context, key auth.APIKeyInfo) error {
	return r.s.write(ctx, func(t *tables) error {
		t.apiKeys[key.KeyHash] = key
		return nil
	})
}

func (r *APIKeys) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var out *auth.APIKeyInfo
	err := r.s.read(ctx, func(t *tables) error {
		key, ok := t.apiKeys[hash]
		if !ok {
			return apperr.NotFound("api key not found")
		}
		out = &key
		return nil
	})
	return out, err
}
