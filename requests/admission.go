package requests

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/roadrunner-server/httpcache/age"
	"github.com/roadrunner-server/httpcache/directives"
	"github.com/roadrunner-server/httpcache/freshness"
	"github.com/roadrunner-server/httpcache/headers"
	"github.com/roadrunner-server/httpcache/metrics"
	"github.com/roadrunner-server/httpcache/record"
	"github.com/roadrunner-server/httpcache/vary"
	"go.uber.org/zap"
)

const (
	indicatorHit  string = "hit"
	indicatorMiss string = "miss"
)

// admit decides between pass, hit and miss. It returns true when the
// response was already written and the origin must not be called.
// https://datatracker.ietf.org/doc/html/rfc9111#section-4
func (req *Requests) admit(w http.ResponseWriter, r *http.Request, st *State, cc *directives.CacheControl) bool {
	st.RequestTime = req.now()

	switch r.Method {
	case http.MethodGet, http.MethodHead:
	default:
		return req.pass(st, "method")
	}

	/*
		we MUST NOT use a cached response to a request with an Authorization header field
		https://datatracker.ietf.org/doc/html/rfc9111#section-3.5
	*/
	if r.Header.Get(headers.Auth) != "" || r.Header.Get(headers.Cookie) != "" {
		return req.pass(st, "credentials")
	}

	if strings.EqualFold(strings.TrimSpace(r.Header.Get(headers.Pragma)), headers.NoCache) {
		return req.pass(st, "pragma")
	}

	if ccv := r.Header.Values(headers.CacheControl); len(ccv) > 0 {
		directives.ParseInto(strings.Join(ccv, ","), req.log, cc)
		if cc.NoCache || cc.NoStore {
			return req.pass(st, "request directives")
		}
	}

	rec, err := req.storage.Get(r.Context(), st.Key)
	if err != nil {
		st.Pass = true
		st.Err = err
		metrics.Requests.WithLabelValues(metrics.ResultPass).Inc()
		req.log.Warn("cache lookup failed, bypassing", zap.String("key", st.Key), zap.Error(err))
		return false
	}

	st.Lookup = true

	if rec.Empty() {
		return req.miss(w, st, cc)
	}

	v := vary.Match(rec.Variants, r.Header)
	if v == nil {
		return req.miss(w, st, cc)
	}

	now := req.now()
	lifetime, ok := freshness.Lifetime(v.ResponseHeaders, v.StatusCode, st.TTL, now, req.log)
	current := currentAge(v, now)

	if !ok || age.Stale(current, lifetime) {
		req.log.Debug("stale cache entry", zap.String("key", st.Key), zap.Int64("age", current), zap.Int64("lifetime", lifetime))
		req.evict(r.Context(), st.Key, r.Header)
		return req.miss(w, st, cc)
	}

	if !acceptable(cc, current, lifetime) {
		req.log.Debug("cached entry rejected by request directives", zap.String("key", st.Key), zap.String("cache-control", cc.String()))
		return req.miss(w, st, cc)
	}

	req.serve(w, r, st, v, current)
	return true
}

func (req *Requests) pass(st *State, reason string) bool {
	st.Pass = true
	metrics.Requests.WithLabelValues(metrics.ResultPass).Inc()
	req.log.Debug("cache pass", zap.String("key", st.Key), zap.String("reason", reason))
	return false
}

func (req *Requests) miss(w http.ResponseWriter, st *State, cc *directives.CacheControl) bool {
	st.Miss = true
	metrics.Requests.WithLabelValues(metrics.ResultMiss).Inc()

	// https://datatracker.ietf.org/doc/html/rfc9111#section-5.2.1.7
	if cc.OnlyIfCached {
		st.End()
		req.log.Debug("only-if-cached miss", zap.String("key", st.Key))
		w.WriteHeader(http.StatusGatewayTimeout)
		return true
	}

	if req.indicator != "" {
		w.Header().Set(req.indicator, indicatorMiss)
	}

	req.log.Debug("cache miss", zap.String("key", st.Key))
	return false
}

// serve writes the stored variant to the client.
func (req *Requests) serve(w http.ResponseWriter, r *http.Request, st *State, v *record.Variant, current int64) {
	st.Hit = true
	st.Pass = true
	st.End()

	dst := w.Header()
	for k, vals := range v.Header() {
		dst[k] = vals
	}

	dst.Set(headers.Age, age.Format(current))
	if req.indicator != "" {
		dst.Set(req.indicator, indicatorHit)
	}

	code := v.StatusCode
	if code == 0 {
		code = http.StatusOK
	}

	metrics.Requests.WithLabelValues(metrics.ResultHit).Inc()
	req.log.Debug("cache hit", zap.String("key", st.Key), zap.Int64("age", current))

	w.WriteHeader(code)
	if r.Method == http.MethodHead || len(v.Body) == 0 {
		return
	}

	_, err := w.Write(v.Body)
	if err != nil {
		req.log.Debug("failed to write cached response", zap.String("key", st.Key), zap.Error(err))
	}
}

// evict removes the variant matching the request headers from the record under key.
func (req *Requests) evict(ctx context.Context, key string, reqHdr http.Header) {
	removed := false
	err := req.storage.Update(ctx, key, func(rec *record.Record) *record.Record {
		if rec.Empty() {
			return nil
		}

		idx := vary.MatchIndex(rec.Variants, reqHdr)
		if idx == -1 {
			return nil
		}

		rec.Remove(idx)
		removed = true
		return rec
	})
	if err != nil {
		req.log.Warn("failed to evict cache entry", zap.String("key", key), zap.Error(err))
		return
	}

	if removed {
		metrics.Stores.WithLabelValues(metrics.ActionEvict).Inc()
		req.log.Debug("cache entry evicted", zap.String("key", key))
	}
}

// currentAge is the stored Age snapshot plus the time spent in storage.
func currentAge(v *record.Variant, now time.Time) int64 {
	storedAt := v.StoredAt
	if storedAt.IsZero() {
		storedAt = now
	}

	return age.Current(age.FromHeader(v.ResponseHeaders, storedAt, storedAt, now))
}

// acceptable applies the request max-age and min-fresh limits to a fresh entry.
func acceptable(cc *directives.CacheControl, current, lifetime int64) bool {
	if cc.MaxAge != nil && uint64(current) > *cc.MaxAge {
		return false
	}

	if cc.MinFresh != nil && lifetime-current < clamp(*cc.MinFresh) {
		return false
	}

	return true
}

func clamp(v uint64) int64 {
	if v > uint64(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(v)
}
