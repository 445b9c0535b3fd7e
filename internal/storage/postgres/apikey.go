package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-marketplace/internal/domain/apperr"
	"github.com/xenking/kart-marketplace/internal/domain/auth"
)

// APIKeys provides API key lookups backed by PostgreSQL.
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
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO api_keys (id, key_hash, name, user_id, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name     = EXCLUDED.name,
			user_id  = EXCLUDED.user_id,
			role     = EXCLUDED.role`,
		key.ID, key.KeyHash, key.Name, key.UserID, string(key.Role))
	if err != nil {
		return fmt.Errorf("putting api key %q: %w", key.Name, err)
	}
	return nil
}

// FindByHash looks up an unrevoked API key by its HMAC-SHA256 hash.
func (r *APIKeys) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		key  auth.APIKeyInfo
		role string
	)
	err := r.s.conn(ctx).QueryRow(ctx, `
		SELECT id, key_hash, name, user_id, role
		FROM api_keys
		WHERE key_hash = $1 AND revoked_at IS NULL`, hash).
		Scan(&key.ID, &key.KeyHash, &key.Name, &key.UserID, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("api key not found")
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	key.Role = auth.Role(role)
	return &key, nil
}
