// Package storage declares the combined persistence contract and its
// configuration. Backends live in the postgres and memory subpackages.
package storage

import (
	"time"

	"github.com/cpike5/gatelink/pkg/accounts"
	"github.com/cpike5/gatelink/pkg/invite"
)

// Store combines the invite and account persistence contracts. A backend
// must implement both because consumption couples them: spending an invite
// and linking its identity happen inside one storage-level transaction.
type Store interface {
	invite.Store
	accounts.Store
}

// Config holds storage backend configuration
type Config struct {
	Type string // "postgres" or "memory"

	// PostgreSQL config
	PostgresURL      string `yaml:"postgres_url"`
	PostgresMaxConns int    `yaml:"postgres_max_conns"`
	PostgresMinConns int    `yaml:"postgres_min_conns"`
	PostgresTimeout  time.Duration `yaml:"postgres_timeout"`

	// Redis config (authorization cache backend)
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
	}
}
