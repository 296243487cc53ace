package config

// This file defines a Redis client constructor for the application.  Redis
// backs the availability cache and the scheduler lock.  If the server cannot
// be reached during startup the function returns nil and callers degrade
// gracefully by disabling caching and locking.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr        string        `envconfig:"PARKING_REDIS_ADDR" default:"localhost:6379"`
	Password    string        `envconfig:"PARKING_REDIS_PASSWORD"`
	DB          int           `envconfig:"PARKING_REDIS_DB" default:"0"`
	TLS         bool          `envconfig:"PARKING_REDIS_TLS" default:"false"`
	DialTimeout time.Duration `envconfig:"PARKING_REDIS_DIAL_TIMEOUT" default:"2s"`
}

// NewRedisClient instantiates a Redis client and pings it with a short
// timeout.  The returned client is nil if a connection cannot be established.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConf,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
