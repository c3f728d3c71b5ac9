package sqlite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsec/oauthd/pkg/auth"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAccessTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	token := &auth.AccessToken{
		ClientID:     "web-app",
		UserID:       "user-1",
		Scope:        []string{"profile", "email"},
		RefreshToken: "ort_paired",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, store.SaveAccessToken(ctx, token))
	assert.True(t, strings.HasPrefix(token.Token, auth.AccessTokenPrefix))
	assert.False(t, token.CreatedAt.IsZero())

	t.Run("round trip", func(t *testing.T) {
		got, err := store.GetAccessToken(ctx, token.Token)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, token.Token, got.Token)
		assert.Equal(t, "web-app", got.ClientID)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, []string{"profile", "email"}, got.Scope)
		assert.Equal(t, "ort_paired", got.RefreshToken)
		assert.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, time.Millisecond)
	})

	t.Run("unknown value resolves to nil", func(t *testing.T) {
		got, err := store.GetAccessToken(ctx, "oat_unknown")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("expired token resolves to nil", func(t *testing.T) {
		expired := &auth.AccessToken{
			ClientID:  "web-app",
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		require.NoError(t, store.SaveAccessToken(ctx, expired))

		got, err := store.GetAccessToken(ctx, expired.Token)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.DeleteAccessToken(ctx, token.Token))
		require.NoError(t, store.DeleteAccessToken(ctx, token.Token))

		got, err := store.GetAccessToken(ctx, token.Token)
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestRefreshTokenConsume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	token := &auth.RefreshToken{
		ClientID:  "web-app",
		UserID:    "user-1",
		Scope:     []string{"profile"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.SaveRefreshToken(ctx, token))
	assert.True(t, strings.HasPrefix(token.Token, auth.RefreshTokenPrefix))

	consumed, err := store.ConsumeRefreshToken(ctx, token.Token)
	require.NoError(t, err)
	require.NotNil(t, consumed)
	assert.Equal(t, "user-1", consumed.UserID)
	assert.Equal(t, []string{"profile"}, consumed.Scope)

	// Second consume loses
	again, err := store.ConsumeRefreshToken(ctx, token.Token)
	require.NoError(t, err)
	assert.Nil(t, again)

	// Expired tokens cannot be consumed
	expired := &auth.RefreshToken{ClientID: "web-app", ExpiresAt: time.Now().Add(-time.Minute)}
	require.NoError(t, store.SaveRefreshToken(ctx, expired))
	got, err := store.ConsumeRefreshToken(ctx, expired.Token)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAuthorizationCodeConsume(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	code := &auth.AuthorizationCode{
		ClientID:    "web-app",
		UserID:      "user-1",
		RedirectURI: "https://app.example.com/callback",
		Scope:       []string{"profile"},
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}
	require.NoError(t, store.SaveAuthorizationCode(ctx, code))
	assert.True(t, strings.HasPrefix(code.Code, auth.AuthorizationCodePrefix))

	got, err := store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://app.example.com/callback", got.RedirectURI)

	consumed, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	require.NotNil(t, consumed)

	// The row is gone; a replay gets nothing
	again, err := store.ConsumeAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Nil(t, again)
	gone, err := store.GetAuthorizationCode(ctx, code.Code)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	live := time.Now().Add(time.Hour)
	dead := time.Now().Add(-time.Minute)

	require.NoError(t, store.SaveAccessToken(ctx, &auth.AccessToken{ClientID: "c", ExpiresAt: live}))
	require.NoError(t, store.SaveAccessToken(ctx, &auth.AccessToken{ClientID: "c", ExpiresAt: dead}))
	require.NoError(t, store.SaveRefreshToken(ctx, &auth.RefreshToken{ClientID: "c", ExpiresAt: dead}))
	require.NoError(t, store.SaveAuthorizationCode(ctx, &auth.AuthorizationCode{ClientID: "c", ExpiresAt: dead}))

	removed, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	// Running again removes nothing
	removed, err = store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestClientsAndUsers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("client round trip", func(t *testing.T) {
		client := &auth.Client{
			ID:           "web-app",
			SecretHash:   "$2a$10$hash",
			RedirectURIs: []string{"https://a.example.com/cb", "https://b.example.com/cb"},
			GrantTypes:   []string{auth.GrantAuthorizationCode, auth.GrantRefreshToken},
		}
		require.NoError(t, store.CreateClient(ctx, client))

		got, err := store.GetClient(ctx, "web-app")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, client.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, client.GrantTypes, got.GrantTypes)
		assert.Equal(t, "$2a$10$hash", got.SecretHash)
	})

	t.Run("unknown client resolves to nil", func(t *testing.T) {
		got, err := store.GetClient(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("user round trip", func(t *testing.T) {
		user := &auth.User{
			ID:           "user-1",
			Email:        "alice@example.com",
			PasswordHash: "$2a$10$hash",
			Enabled:      true,
		}
		require.NoError(t, store.CreateUser(ctx, user))

		got, err := store.GetUserByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "user-1", got.ID)
		assert.True(t, got.Enabled)
	})

	t.Run("duplicate email is rejected", func(t *testing.T) {
		err := store.CreateUser(ctx, &auth.User{ID: "user-2", Email: "alice@example.com"})
		assert.Error(t, err)
	})
}
