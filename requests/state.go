package requests

import (
	"context"
	"time"

	"go.uber.org/atomic"
)

type stateKey struct{}

// State is the per-request cache metadata. It is created when the request
// enters the middleware and discarded when the response is sent.
type State struct {
	Key          string
	RequestTime  time.Time
	ResponseTime time.Time
	// TTL is the default freshness lifetime in seconds
	TTL int64

	Pass      bool
	Lookup    bool
	Miss      bool
	Hit       bool
	Cacheable bool

	// Err is the storage error which made the request bypass the cache
	Err error

	ended atomic.Bool
}

func NewState(key string, ttl int64) *State {
	return &State{
		Key: key,
		TTL: ttl,
	}
}

// End marks the response as finalized. Only the first call returns true.
func (s *State) End() bool {
	return s.ended.CompareAndSwap(false, true)
}

// Ended reports whether the response was finalized.
func (s *State) Ended() bool {
	return s.ended.Load()
}

// FromContext returns the cache state of the request the context belongs to, nil outside the middleware.
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(stateKey{}).(*State)
	return st
}

func withState(ctx context.Context, st *State) context.Context {
	return context.WithValue(ctx, stateKey{}, st)
}
