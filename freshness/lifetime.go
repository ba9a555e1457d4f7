// Package freshness computes the freshness lifetime of a response
// https://datatracker.ietf.org/doc/html/rfc7234#section-4.2.1
package freshness

import (
	"net/http"
	"strings"
	"time"

	"github.com/roadrunner-server/httpcache/directives"
	"github.com/roadrunner-server/httpcache/headers"
	"go.uber.org/zap"
)

// Lifetime returns the freshness lifetime of a response in seconds. The second
// return value is false when the response carries no usable freshness
// information and must not be cached.
//
// Precedence: s-maxage, max-age, Expires - Date, then the default ttl for the
// status codes which are cacheable by default (206 excluded).
func Lifetime(hdr http.Header, code int, ttl int64, now time.Time, log *zap.Logger) (int64, bool) {
	cc := directives.Parse(strings.Join(hdr.Values(headers.CacheControl), ","), log)
	return LifetimeFrom(cc, hdr, code, ttl, now)
}

// LifetimeFrom is Lifetime for already parsed directives.
func LifetimeFrom(cc *directives.CacheControl, hdr http.Header, code int, ttl int64, now time.Time) (int64, bool) {
	switch {
	case cc.SMaxAge != nil:
		return clamp(*cc.SMaxAge), true
	case cc.MaxAge != nil:
		return clamp(*cc.MaxAge), true
	case hdr.Get(headers.Expires) != "":
		return expires(hdr, now), true
	case defaultCacheable(code) && !pragmaNoCache(hdr) && !cc.NoCache && !cc.NoStore:
		return ttl, true
	default:
		return 0, false
	}
}

// expires returns Expires - Date in whole seconds. A negative or zero result means already stale.
func expires(hdr http.Header, now time.Time) int64 {
	exp, err := http.ParseTime(hdr.Get(headers.Expires))
	if err != nil {
		// invalid dates (e.g. "0") represent a time in the past
		return 0
	}

	date := now
	if d, err := http.ParseTime(hdr.Get(headers.Date)); err == nil {
		date = d
	}

	return int64(exp.Sub(date) / time.Second)
}

// cacheable statuses by default: https://www.rfc-editor.org/rfc/rfc7231#section-6.1
// 206 is left out on purpose, partial content is never stored on the default ttl
func defaultCacheable(code int) bool {
	switch code {
	case http.StatusOK,
		http.StatusNonAuthoritativeInfo,
		http.StatusMultipleChoices,
		http.StatusMovedPermanently,
		http.StatusGone:
		return true
	default:
		return false
	}
}

func pragmaNoCache(hdr http.Header) bool {
	return strings.EqualFold(strings.TrimSpace(hdr.Get(headers.Pragma)), headers.NoCache)
}

func clamp(v uint64) int64 {
	const maxInt64 = uint64(1<<63 - 1)
	if v > maxInt64 {
		return int64(maxInt64)
	}
	return int64(v)
}
