package requests

import (
	"net/http"
	"strings"

	"github.com/roadrunner-server/httpcache/age"
	"github.com/roadrunner-server/httpcache/directives"
	"github.com/roadrunner-server/httpcache/freshness"
	"github.com/roadrunner-server/httpcache/headers"
	"github.com/roadrunner-server/httpcache/metrics"
	"github.com/roadrunner-server/httpcache/record"
	"github.com/roadrunner-server/httpcache/vary"
	"github.com/roadrunner-server/httpcache/writer"
	"go.uber.org/zap"
)

// finalize decides whether the captured origin response is stored, evicts
// or stores accordingly and sends the response to the client. Only the first
// call per request has any effect.
func (req *Requests) finalize(w http.ResponseWriter, r *http.Request, wr *writer.Writer, st *State) {
	if !st.End() {
		return
	}

	if st.Pass {
		req.flush(w, wr, st)
		return
	}

	st.ResponseTime = req.now()
	hdr := wr.Header()
	code := wr.StatusCode()

	cc := req.GetCC()
	defer req.PutCC(cc)

	st.Cacheable = cacheable(hdr, cc, req.log)

	// a HEAD response has no body to replay, GET variants serve HEAD instead;
	// its response signals still invalidate the stored variant
	if r.Method == http.MethodHead {
		if st.Cacheable {
			metrics.Stores.WithLabelValues(metrics.ActionSkip).Inc()
		} else {
			req.log.Debug("HEAD response is not cacheable", zap.String("key", st.Key), zap.Int("status", code))
			req.evict(r.Context(), st.Key, r.Header)
		}
		req.flush(w, wr, st)
		return
	}

	var lifetime int64
	if st.Cacheable {
		lifetime, st.Cacheable = freshness.LifetimeFrom(cc, hdr, code, st.TTL, st.ResponseTime)
	}

	var current int64
	if st.Cacheable {
		current = age.Current(age.FromHeader(hdr, st.RequestTime, st.ResponseTime, st.ResponseTime))
		if age.Stale(current, lifetime) {
			st.Cacheable = false
		}
	}

	if !st.Cacheable {
		req.log.Debug("response is not cacheable", zap.String("key", st.Key), zap.Int("status", code))
		req.evict(r.Context(), st.Key, r.Header)
		req.flush(w, wr, st)
		return
	}

	if hdr.Get(headers.Date) == "" {
		hdr.Set(headers.Date, req.dates.get(st.ResponseTime))
	}
	hdr.Set(headers.Age, age.Format(current))

	v := &record.Variant{
		RequestHeaders:  r.Header.Clone(),
		ResponseHeaders: storable(hdr),
		StatusCode:      code,
		// the writer is pooled, its buffer is reused by the next request
		Body:     append([]byte(nil), wr.Data...),
		StoredAt: st.ResponseTime,
	}

	action := metrics.ActionAppend
	err := req.storage.Update(r.Context(), st.Key, func(rec *record.Record) *record.Record {
		if rec == nil {
			rec = &record.Record{}
		}

		for i := 0; i < len(rec.Variants); i++ {
			if vary.SameNegotiation(rec.Variants[i], v) {
				rec.Variants[i] = v
				action = metrics.ActionReplace
				return rec
			}
		}

		rec.Variants = append(rec.Variants, v)
		return rec
	})
	if err != nil {
		req.log.Warn("failed to store the response", zap.String("key", st.Key), zap.Error(err))
	} else {
		metrics.Stores.WithLabelValues(action).Inc()
		req.log.Debug("response stored",
			zap.String("key", st.Key),
			zap.String("action", action),
			zap.Int64("lifetime", lifetime),
			zap.Int64("age", current),
		)
	}

	req.flush(w, wr, st)
}

func (req *Requests) flush(w http.ResponseWriter, wr *writer.Writer, st *State) {
	err := wr.FlushTo(w)
	if err != nil {
		req.log.Debug("failed to write the response", zap.String("key", st.Key), zap.Error(err))
	}
}

// cacheable parses the response Cache-Control into cc and reports whether a
// shared cache may store the response at all.
func cacheable(hdr http.Header, cc *directives.CacheControl, log *zap.Logger) bool {
	if len(hdr.Values(headers.CacheControl)) > 0 {
		directives.ParseInto(strings.Join(hdr.Values(headers.CacheControl), ","), log, cc)
	}

	if fields := vary.Fields(hdr); len(fields) == 1 && fields[0] == "*" {
		return false
	}

	if len(hdr.Values(headers.SetCookie)) > 0 {
		return false
	}

	return !cc.NoStore && !cc.Private
}

// storable copies the headers except the hop-by-hop ones.
func storable(hdr http.Header) http.Header {
	out := make(http.Header, len(hdr))
	for k, v := range hdr {
		if _, ok := headers.HopByHop[k]; ok {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}
