package config

import (
	"fmt"
	"time"
)

// CacheConfig tunes the snapshot caches and the cross-process refresh
// coordination.
type CacheConfig struct {
	// FlagTTL is how long a flag snapshot serves before a refresh is due.
	FlagTTL time.Duration `envconfig:"FLAG_TTL" default:"60s"`

	// ConfigTTL is the TTL for the configuration-entry snapshot.
	ConfigTTL time.Duration `envconfig:"CONFIG_TTL" default:"120s"`

	// DistributedEnabled wires the Redis shared-snapshot layer and the
	// refresh lock. Disabled, each process refreshes straight from the
	// durable store with in-process de-duplication only.
	DistributedEnabled bool `envconfig:"DISTRIBUTED_ENABLED" default:"true"`

	// LockExpiry bounds how long a crashed refresher can hold the
	// distributed lock before it self-expires.
	LockExpiry time.Duration `envconfig:"LOCK_EXPIRY" default:"30s"`
}

// Validate checks the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.FlagTTL < time.Second {
		return fmt.Errorf("cache flag TTL must be at least 1s, got %s", c.FlagTTL)
	}
	if c.ConfigTTL < time.Second {
		return fmt.Errorf("cache config TTL must be at least 1s, got %s", c.ConfigTTL)
	}
	if c.LockExpiry < time.Second {
		return fmt.Errorf("cache lock expiry must be at least 1s, got %s", c.LockExpiry)
	}
	return nil
}
