package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	token, err := svc.Issue(Identity{UserID: "u1", Email: "a@example.com", Name: "Alice"})
	require.NoError(t, err)

	id, err := svc.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u1", Email: "a@example.com", Name: "Alice"}, id)
}

func TestVerifyRejects(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	ctx := context.Background()

	_, err := svc.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)

	_, err = svc.Verify(ctx, "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenService("other", time.Hour).Issue(Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	stale := NewTokenService("secret", time.Hour)
	stale.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := stale.Issue(Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = svc.Verify(ctx, expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyAcceptsLegacyClaims(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	legacy := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "legacy-user",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := legacy.SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := svc.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "legacy-user", id.UserID)

	anonymous := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	signed, err = anonymous.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestChain(t *testing.T) {
	a := NewTokenService("a", time.Hour)
	b := NewTokenService("b", time.Hour)
	chain := Chain{a, b}

	token, err := b.Issue(Identity{UserID: "u2"})
	require.NoError(t, err)
	id, err := chain.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.UserID)

	_, err = chain.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)

	stale := NewTokenService("b", time.Hour)
	stale.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := stale.Issue(Identity{UserID: "u2"})
	require.NoError(t, err)
	_, err = chain.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	_, err := TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Bearer abc")
	token, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	r.Header.Set("Authorization", "Token abc")
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrInvalidToken)

	r = httptest.NewRequest("GET", "/ws?token=xyz", nil)
	token, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "xyz", token)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}
