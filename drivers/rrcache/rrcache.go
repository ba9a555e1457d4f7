// Package rrcache adapts RoadRunner HTTP cache drivers (uint64 keyed) to the string keyed storage contract.
package rrcache

import (
	"context"

	"github.com/roadrunner-server/api/v2/plugins/cache"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/hasher"
	"github.com/roadrunner-server/httpcache/storage"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldKey   protowire.Number = 1
	fieldValue protowire.Number = 2
)

// Driver stores every value together with its string key, so fnv collisions read as misses instead of foreign records.
type Driver struct {
	c  cache.Cache
	hs *hasher.Hasher
}

// Opener returns a storage.Opener building the RoadRunner cache from its collected factory.
func Opener(factory cache.HTTPCacheFromConfig, log *zap.Logger) storage.Opener {
	return func(context.Context) (storage.Driver, error) {
		const op = errors.Op("rrcache_driver_open")

		c, err := factory.FromConfig(log)
		if err != nil {
			return nil, errors.E(op, err)
		}

		return New(c), nil
	}
}

func New(c cache.Cache) *Driver {
	return &Driver{
		c:  c,
		hs: hasher.NewHasher(),
	}
}

func (d *Driver) Get(_ context.Context, key string) ([]byte, bool, error) {
	const op = errors.Op("rrcache_driver_get")

	out, err := d.c.Get(d.hs.Sum(key))
	if err != nil {
		if errors.Is(errors.EmptyItem, err) {
			return nil, false, nil
		}
		return nil, false, errors.E(op, err)
	}

	storedKey, value, err := unframe(out)
	if err != nil {
		return nil, false, errors.E(op, err)
	}

	if storedKey != key {
		return nil, false, nil
	}

	return value, true, nil
}

func (d *Driver) Put(_ context.Context, key string, value []byte) error {
	return d.c.Set(d.hs.Sum(key), frame(key, value))
}

func (d *Driver) Remove(ctx context.Context, key string) error {
	// only delete the slot when it holds this key
	_, ok, err := d.Get(ctx, key)
	if err != nil || !ok {
		return err
	}

	d.c.Delete(d.hs.Sum(key))
	return nil
}

// Compact is a no-op, RoadRunner drivers manage their own memory.
func (d *Driver) Compact(context.Context) error {
	return nil
}

func (d *Driver) Close() error {
	return nil
}

func frame(key string, value []byte) []byte {
	b := make([]byte, 0, len(key)+len(value)+16)
	b = protowire.AppendTag(b, fieldKey, protowire.BytesType)
	b = protowire.AppendString(b, key)
	b = protowire.AppendTag(b, fieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, value)
	return b
}

func unframe(b []byte) (string, []byte, error) {
	var key string
	var value []byte

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return "", nil, protowire.ParseError(m)
			}
			b = b[m:]
			continue
		}

		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return "", nil, protowire.ParseError(m)
		}
		b = b[m:]

		switch num {
		case fieldKey:
			key = string(v)
		case fieldValue:
			value = v
		}
	}

	return key, value, nil
}
