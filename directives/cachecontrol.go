package directives

import "math"

// MaxStaleUnbounded is stored in CacheControl.MaxStale when the max-stale
// directive carries no value, i.e. any staleness is acceptable.
const MaxStaleUnbounded uint64 = math.MaxUint64

// CacheControl represents possible Cache-Control request and response header values
type CacheControl struct {
	raw string

	MaxAge   *uint64
	SMaxAge  *uint64
	MaxStale *uint64
	MinFresh *uint64

	Public  bool
	Private bool
	// PrivateFields keeps the field-name list of private="..." when present
	PrivateFields string

	NoCache         bool
	NoStore         bool
	NoTransform     bool
	MustRevalidate  bool
	ProxyRevalidate bool
	OnlyIfCached    bool
}

// String returns the header value the directives were parsed from.
func (r *CacheControl) String() string {
	return r.raw
}

func (r *CacheControl) Reset() {
	r.raw = ""

	r.MaxAge = nil
	r.SMaxAge = nil
	r.MaxStale = nil
	r.MinFresh = nil

	r.Public = false
	r.Private = false
	r.PrivateFields = ""

	r.NoCache = false
	r.NoStore = false
	r.NoTransform = false
	r.MustRevalidate = false
	r.ProxyRevalidate = false
	r.OnlyIfCached = false
}
