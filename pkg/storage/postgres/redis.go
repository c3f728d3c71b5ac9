package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/quillsec/oauthd/pkg/auth"
	"github.com/quillsec/oauthd/pkg/observability"
	"github.com/quillsec/oauthd/pkg/storage"
)

const accessTokenKeyPrefix = "oauthd:at:"

// TokenCache is a Redis read-through cache in front of a TokenStore. Only
// access-token lookups are cached, since the gate resolves a bearer token on
// every protected request; codes and refresh tokens are consumed at most once
// and gain nothing from caching. Revocation deletes through so a revoked
// token never resolves from the cache.
type TokenCache struct {
	auth.TokenStore

	client  *redis.Client
	metrics *observability.Metrics
}

// NewTokenCache connects to Redis per cfg and wraps store. metrics may be nil.
func NewTokenCache(cfg storage.Config, store auth.TokenStore, metrics *observability.Metrics) (*TokenCache, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	opts.DB = cfg.RedisDB
	opts.MaxRetries = cfg.RedisMaxRetries
	opts.PoolSize = cfg.RedisPoolSize

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &TokenCache{TokenStore: store, client: client, metrics: metrics}, nil
}

// NewTokenCacheFromClient wraps an existing Redis client, used by tests
func NewTokenCacheFromClient(client *redis.Client, store auth.TokenStore, metrics *observability.Metrics) *TokenCache {
	return &TokenCache{TokenStore: store, client: client, metrics: metrics}
}

// Client exposes the Redis handle for health checks
func (c *TokenCache) Client() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *TokenCache) Close() error {
	return c.client.Close()
}

// GetAccessToken checks Redis first and falls back to the underlying store.
// Redis failures degrade to the store rather than failing the lookup.
func (c *TokenCache) GetAccessToken(ctx context.Context, value string) (*auth.AccessToken, error) {
	key := accessTokenKeyPrefix + value

	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var token auth.AccessToken
		if jerr := json.Unmarshal(data, &token); jerr == nil {
			if token.IsExpired(time.Now()) {
				// TTL drift; treat as absent and let the entry lapse
				return nil, nil
			}
			c.hit()
			return &token, nil
		}
	}
	c.miss()

	token, err := c.TokenStore.GetAccessToken(ctx, value)
	if err != nil || token == nil {
		return token, err
	}

	if ttl := time.Until(token.ExpiresAt); ttl > 0 {
		if data, jerr := json.Marshal(token); jerr == nil {
			// Best effort; the store remains authoritative
			c.client.Set(ctx, key, data, ttl)
		}
	}
	return token, nil
}

// DeleteAccessToken deletes through the cache before the store so a revoked
// token cannot be served from Redis afterward.
func (c *TokenCache) DeleteAccessToken(ctx context.Context, value string) error {
	if err := c.client.Del(ctx, accessTokenKeyPrefix+value).Err(); err != nil && err != redis.Nil {
		return err
	}
	return c.TokenStore.DeleteAccessToken(ctx, value)
}

func (c *TokenCache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues("access_token").Inc()
	}
}

func (c *TokenCache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.WithLabelValues("access_token").Inc()
	}
}
