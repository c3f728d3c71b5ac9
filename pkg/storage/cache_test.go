package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsec/oauthd/pkg/auth"
)

type countingClientStore struct {
	clients map[string]*auth.Client
	lookups int
}

func (s *countingClientStore) GetClient(ctx context.Context, id string) (*auth.Client, error) {
	s.lookups++
	return s.clients[id], nil
}

func TestClientCache(t *testing.T) {
	ctx := context.Background()

	t.Run("serves repeat lookups from the cache", func(t *testing.T) {
		store := &countingClientStore{clients: map[string]*auth.Client{
			"web-app": {ID: "web-app"},
		}}
		cache, err := NewClientCache(store, 8, nil)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			client, err := cache.GetClient(ctx, "web-app")
			require.NoError(t, err)
			require.NotNil(t, client)
			assert.Equal(t, "web-app", client.ID)
		}
		assert.Equal(t, 1, store.lookups)
	})

	t.Run("does not cache unknown clients", func(t *testing.T) {
		store := &countingClientStore{clients: map[string]*auth.Client{}}
		cache, err := NewClientCache(store, 8, nil)
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			client, err := cache.GetClient(ctx, "ghost")
			require.NoError(t, err)
			assert.Nil(t, client)
		}
		assert.Equal(t, 2, store.lookups)

		// A client registered after the misses is visible immediately
		store.clients["ghost"] = &auth.Client{ID: "ghost"}
		client, err := cache.GetClient(ctx, "ghost")
		require.NoError(t, err)
		require.NotNil(t, client)
	})

	t.Run("evicts beyond the size bound", func(t *testing.T) {
		store := &countingClientStore{clients: map[string]*auth.Client{
			"a": {ID: "a"}, "b": {ID: "b"}, "c": {ID: "c"},
		}}
		cache, err := NewClientCache(store, 2, nil)
		require.NoError(t, err)

		cache.GetClient(ctx, "a")
		cache.GetClient(ctx, "b")
		cache.GetClient(ctx, "c") // evicts a
		cache.GetClient(ctx, "a") // store lookup again

		assert.Equal(t, 4, store.lookups)
	})
}
