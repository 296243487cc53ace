package config

import "time"

// CacheConfig defines settings for the availability cache.  When Enabled is
// false, or Backend is redis and no Redis client could be created, the
// cache degrades to a no-op.  Prefix namespaces every key so several
// deployments can share one Redis database.
type CacheConfig struct {
	Enabled  bool          `envconfig:"PARKING_CACHE_ENABLED" default:"true"`
	Backend  string        `envconfig:"PARKING_CACHE_BACKEND" default:"redis"`
	Prefix   string        `envconfig:"PARKING_CACHE_PREFIX" default:"parking"`
	LotsTTL  time.Duration `envconfig:"PARKING_CACHE_LOTS_TTL" default:"60s"`
	SpotsTTL time.Duration `envconfig:"PARKING_CACHE_SPOTS_TTL" default:"30s"`
}
