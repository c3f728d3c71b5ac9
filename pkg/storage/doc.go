// Package storage provides the persistence backends for the authorization
// core: backend selection config, a SQLite store for single-node deployments,
// a PostgreSQL store for production, an optional Redis read-through cache for
// access-token lookups, an in-process LRU for client records, and the cron
// sweeper that removes expired rows.
package storage
