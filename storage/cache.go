package storage

import (
	"context"
	"sync"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/metrics"
	"github.com/roadrunner-server/httpcache/record"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Driver is a byte store keyed by string.
type Driver interface {
	// Get returns the value for the key, false when the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Put stores the value under the key, replacing the previous one.
	Put(ctx context.Context, key string, value []byte) error
	// Remove deletes the key, removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// Compact is called once after the driver is opened.
	Compact(ctx context.Context) error
	// Close releases the driver resources.
	Close() error
}

// Opener opens a driver (directory, connection, etc. are captured by the opener).
type Opener func(ctx context.Context) (Driver, error)

const openKey string = "open"

// Storage is the process-wide handle over a Driver. The driver is opened and
// compacted lazily on first use; concurrent first callers share a single open.
// Record updates are serialized per key.
type Storage struct {
	log   *zap.Logger
	open  Opener
	codec *record.Codec

	sf  singleflight.Group
	mu  sync.RWMutex
	drv Driver

	locks *keyLocks
}

func NewStorage(open Opener, codec *record.Codec, log *zap.Logger) *Storage {
	return &Storage{
		log:   log,
		open:  open,
		codec: codec,
		locks: newKeyLocks(),
	}
}

// handle returns the opened driver, opening it on first use.
// A failed open is not remembered, the next caller retries.
func (s *Storage) handle(ctx context.Context) (Driver, error) {
	const op = errors.Op("storage_open")

	s.mu.RLock()
	drv := s.drv
	s.mu.RUnlock()
	if drv != nil {
		return drv, nil
	}

	res, err, _ := s.sf.Do(openKey, func() (any, error) {
		s.mu.RLock()
		opened := s.drv
		s.mu.RUnlock()
		if opened != nil {
			return opened, nil
		}

		// the open is shared, it must not die with the request which started it
		octx := context.WithoutCancel(ctx)

		d, err := s.open(octx)
		if err != nil {
			return nil, err
		}

		err = d.Compact(octx)
		if err != nil {
			// compaction is housekeeping, the store is usable without it
			s.log.Warn("storage compaction failed", zap.Error(err))
		}

		s.mu.Lock()
		s.drv = d
		s.mu.Unlock()

		s.log.Debug("cache storage opened")
		return d, nil
	})
	if err != nil {
		metrics.StorageErrors.WithLabelValues("open").Inc()
		return nil, errors.E(op, err)
	}

	return res.(Driver), nil
}

// Get returns the record stored under the key, nil when there is none.
// Corrupted records are reported as errors wrapping record.ErrDecode.
func (s *Storage) Get(ctx context.Context, key string) (*record.Record, error) {
	const op = errors.Op("storage_get")

	drv, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	data, ok, err := drv.Get(ctx, key)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("get").Inc()
		return nil, errors.E(op, err)
	}

	if !ok {
		return nil, nil
	}

	rec, err := s.codec.Decode(data)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("decode").Inc()
		return nil, errors.E(op, err)
	}

	return rec, nil
}

// Put stores the record, an empty record removes the key instead.
func (s *Storage) Put(ctx context.Context, key string, rec *record.Record) error {
	drv, err := s.handle(ctx)
	if err != nil {
		return err
	}

	return s.put(ctx, drv, key, rec)
}

// Remove deletes the record stored under the key.
func (s *Storage) Remove(ctx context.Context, key string) error {
	const op = errors.Op("storage_remove")

	drv, err := s.handle(ctx)
	if err != nil {
		return err
	}

	err = drv.Remove(ctx, key)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("remove").Inc()
		return errors.E(op, err)
	}

	return nil
}

// Update runs a read-modify-write cycle on the record under the key while holding the key lock.
// fn receives the current record (nil when absent) and returns the record to store;
// returning nil leaves storage untouched, an empty record removes the key.
func (s *Storage) Update(ctx context.Context, key string, fn func(rec *record.Record) *record.Record) error {
	const op = errors.Op("storage_update")

	drv, err := s.handle(ctx)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	var current *record.Record
	data, ok, err := drv.Get(ctx, key)
	switch {
	case err != nil:
		metrics.StorageErrors.WithLabelValues("get").Inc()
		return errors.E(op, err)
	case ok:
		current, err = s.codec.Decode(data)
		if err != nil {
			// a corrupted record is overwritten by whatever fn produces
			metrics.StorageErrors.WithLabelValues("decode").Inc()
			s.log.Warn("dropping corrupted cache record", zap.String("key", key), zap.Error(err))
			current = nil
		}
	}

	next := fn(current)
	if next == nil {
		return nil
	}

	return s.put(ctx, drv, key, next)
}

func (s *Storage) put(ctx context.Context, drv Driver, key string, rec *record.Record) error {
	const op = errors.Op("storage_put")

	if rec.Empty() {
		err := drv.Remove(ctx, key)
		if err != nil {
			metrics.StorageErrors.WithLabelValues("remove").Inc()
			return errors.E(op, err)
		}
		return nil
	}

	data, err := s.codec.Encode(rec)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("encode").Inc()
		return errors.E(op, err)
	}

	err = drv.Put(ctx, key, data)
	if err != nil {
		metrics.StorageErrors.WithLabelValues("put").Inc()
		return errors.E(op, err)
	}

	return nil
}

// Close closes the driver (when it was opened) and the codec.
func (s *Storage) Close() error {
	s.mu.Lock()
	drv := s.drv
	s.drv = nil
	s.mu.Unlock()

	var err error
	if drv != nil {
		err = multierr.Append(err, drv.Close())
	}

	return multierr.Append(err, s.codec.Close())
}
