package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashAPIKey(t *testing.T) {
	pepper := []byte("pepper")

	h1 := HashAPIKey(pepper, "secret")
	h2 := HashAPIKey(pepper, "secret")
	assert.Len(t, h1, 64)
	assert.True(t, EqualHash(h1, h2))

	assert.False(t, EqualHash(h1, HashAPIKey([]byte("other"), "secret")))
	assert.False(t, EqualHash(h1, HashAPIKey(pepper, "Secret")))
	assert.False(t, EqualHash(h1, "not-hex"))
}

func TestRole(t *testing.T) {
	assert.True(t, RoleSeller.Valid())
	assert.False(t, Role("root").Valid())

	key := &APIKeyInfo{UserID: "u1", Role: RoleAdmin}
	p := key.Principal()
	assert.Equal(t, "u1", p.ID)
	assert.True(t, p.IsAdmin())
	assert.False(t, p.IsSeller())
}
