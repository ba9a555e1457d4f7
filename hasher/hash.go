package hasher

import (
	"hash"
	"hash/fnv"
	"sync"

	"github.com/roadrunner-server/sdk/v2/utils"
)

// Hasher maps string cache keys onto the uint64 ids used by RoadRunner cache drivers.
type Hasher struct {
	pool sync.Pool
}

func NewHasher() *Hasher {
	return &Hasher{
		pool: sync.Pool{
			New: func() any {
				return fnv.New64a()
			},
		},
	}
}

// Sum returns the fnv64a hash of the key.
func (hs *Hasher) Sum(key string) uint64 {
	h := hs.GetHash()
	defer hs.PutHash(h)

	// fnv never returns an error on write
	_, _ = h.Write(utils.AsBytes(key))
	return h.Sum64()
}

func (hs *Hasher) GetHash() hash.Hash64 {
	return hs.pool.Get().(hash.Hash64)
}

func (hs *Hasher) PutHash(h hash.Hash64) {
	h.Reset()
	hs.pool.Put(h)
}
