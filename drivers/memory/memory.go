// Package memory is an in-process LRU storage driver.
package memory

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/storage"
)

// DefaultSize is the number of records kept when no size is configured
const DefaultSize int = 4096

type Driver struct {
	c *lru.Cache[string, []byte]
}

// Opener returns a storage.Opener creating an LRU bounded to size records.
func Opener(size int) storage.Opener {
	return func(context.Context) (storage.Driver, error) {
		return New(size)
	}
}

func New(size int) (*Driver, error) {
	const op = errors.Op("memory_driver_new")

	if size <= 0 {
		size = DefaultSize
	}

	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, errors.E(op, err)
	}

	return &Driver{c: c}, nil
}

func (d *Driver) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := d.c.Get(key)
	return v, ok, nil
}

func (d *Driver) Put(_ context.Context, key string, value []byte) error {
	d.c.Add(key, value)
	return nil
}

func (d *Driver) Remove(_ context.Context, key string) error {
	d.c.Remove(key)
	return nil
}

// Compact is a no-op, the LRU never holds dead entries.
func (d *Driver) Compact(context.Context) error {
	return nil
}

func (d *Driver) Close() error {
	d.c.Purge()
	return nil
}
