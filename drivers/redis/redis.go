// Package redis stores cache records in Redis.
package redis

import (
	"context"
	stderr "errors"

	"github.com/redis/go-redis/v9"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/storage"
)

// Config is the connection configuration of the driver.
type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	// Prefix is prepended to every cache key
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

func (c *Config) InitDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}

	if c.Prefix == "" {
		c.Prefix = "httpcache:"
	}
}

type Driver struct {
	client *redis.Client
	prefix string
}

// Opener returns a storage.Opener connecting to the configured server.
func Opener(cfg Config) storage.Opener {
	return func(ctx context.Context) (storage.Driver, error) {
		return Open(ctx, cfg)
	}
}

// Open connects and pings the server.
func Open(ctx context.Context, cfg Config) (*Driver, error) {
	const op = errors.Op("redis_driver_open")

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.E(op, err)
	}

	return &Driver{client: client, prefix: cfg.Prefix}, nil
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := d.client.Get(ctx, d.prefix+key).Bytes()
	if err != nil {
		if stderr.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return data, true, nil
}

func (d *Driver) Put(ctx context.Context, key string, value []byte) error {
	// no expiration, stale records are evicted by the cache itself
	return d.client.Set(ctx, d.prefix+key, value, 0).Err()
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+key).Err()
}

// Compact is a no-op, Redis reclaims memory on its own.
func (d *Driver) Compact(context.Context) error {
	return nil
}

func (d *Driver) Close() error {
	return d.client.Close()
}
