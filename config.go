package httpcache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/drivers/memory"
	"github.com/roadrunner-server/httpcache/drivers/redis"
	"github.com/roadrunner-server/httpcache/drivers/sqlite"
	"github.com/roadrunner-server/httpcache/storage"
)

const (
	DriverMemory string = "memory"
	DriverSQLite string = "sqlite"
	DriverRedis  string = "redis"
)

/*
http:
  cache:
    ttl: 60
    show_indicator: true
    indicator_header: X-Cache
    driver: sqlite
    dir: ./data
    compress: true
*/

type Config struct {
	// TTL is the default freshness lifetime in seconds, used when the response carries no explicit freshness
	TTL int64 `mapstructure:"ttl" yaml:"ttl"`
	// ShowIndicator adds the hit/miss indicator header to the responses
	ShowIndicator   bool   `mapstructure:"show_indicator" yaml:"show_indicator"`
	IndicatorHeader string `mapstructure:"indicator_header" yaml:"indicator_header"`

	// Driver is memory, sqlite, redis or the name of a RoadRunner cache plugin
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Dir is the sqlite database directory
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	MemorySize int           `mapstructure:"memory_size" yaml:"memory_size"`
	Redis      *redis.Config `mapstructure:"redis" yaml:"redis"`

	Compress          bool `mapstructure:"compress" yaml:"compress"`
	CompressThreshold int  `mapstructure:"compress_threshold" yaml:"compress_threshold"`
}

func (c *Config) InitDefaults() {
	if c.TTL == 0 {
		c.TTL = 60
	}

	if c.IndicatorHeader == "" {
		c.IndicatorHeader = "X-Cache"
	}

	if c.Driver == "" {
		c.Driver = DriverMemory
	}

	if c.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			wd = "."
		}
		c.Dir = filepath.Join(wd, "data")
	}

	if c.MemorySize == 0 {
		c.MemorySize = memory.DefaultSize
	}

	if c.Redis == nil {
		c.Redis = &redis.Config{}
	}
	c.Redis.InitDefaults()

	if c.CompressThreshold == 0 {
		c.CompressThreshold = 1024
	}
}

func (c *Config) Valid() error {
	const op = errors.Op("cache_config_validate")

	if c.TTL <= 0 {
		return errors.E(op, fmt.Errorf("ttl should be greater than zero, got: %d", c.TTL))
	}

	if c.MemorySize < 0 {
		return errors.E(op, fmt.Errorf("memory_size should not be negative, got: %d", c.MemorySize))
	}

	if c.CompressThreshold < 0 {
		return errors.E(op, fmt.Errorf("compress_threshold should not be negative, got: %d", c.CompressThreshold))
	}

	return nil
}

// indicator returns the indicator header name, empty when disabled.
func (c *Config) indicator() string {
	if !c.ShowIndicator {
		return ""
	}
	return c.IndicatorHeader
}

// opener returns the opener of the built-in driver named in the configuration.
func (c *Config) opener() (storage.Opener, error) {
	const op = errors.Op("cache_config_driver")

	switch c.Driver {
	case DriverMemory:
		return memory.Opener(c.MemorySize), nil
	case DriverSQLite:
		return sqlite.Opener(c.Dir), nil
	case DriverRedis:
		return redis.Opener(*c.Redis), nil
	default:
		return nil, errors.E(op, fmt.Errorf("unknown cache driver: %s", c.Driver))
	}
}
