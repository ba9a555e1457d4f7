package requests

import (
	"context"
	stderr "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roadrunner-server/httpcache/drivers/memory"
	"github.com/roadrunner-server/httpcache/keys"
	"github.com/roadrunner-server/httpcache/record"
	"github.com/roadrunner-server/httpcache/storage"
	"github.com/roadrunner-server/httpcache/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRequests(t *testing.T, open storage.Opener) (*Requests, *storage.Storage, *fakeClock) {
	t.Helper()

	codec, err := record.NewCodec(false, 0)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	s := storage.NewStorage(open, codec, log)
	t.Cleanup(func() { _ = s.Close() })

	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	rq := NewRequestsHandler(s, 60, "X-Cache", log)
	rq.now = clk.now

	return rq, s, clk
}

// origin counts calls and writes the response built by fn.
type origin struct {
	calls atomic.Int32
	fn    func(w http.ResponseWriter, r *http.Request)
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.calls.Add(1)
	o.fn(w, r)
}

func do(rq *Requests, next http.Handler, r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	rq.Handle(rec, r, next)
	return rec
}

func get(target string) *http.Request {
	return httptest.NewRequest(http.MethodGet, target, nil)
}

func stored(t *testing.T, s *storage.Storage, r *http.Request) *record.Record {
	t.Helper()
	rec, err := s.Get(context.Background(), keys.Generate(r))
	require.NoError(t, err)
	return rec
}

func TestRoundTripHit(t *testing.T) {
	rq, _, clk := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("hello "))
		_, _ = w.Write([]byte("world"))
	}}

	first := do(rq, o, get("http://example.com/resource"))
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "hello world", first.Body.String())
	assert.Equal(t, "miss", first.Header().Get("X-Cache"))
	assert.Equal(t, "0", first.Header().Get("Age"))
	assert.NotEmpty(t, first.Header().Get("Date"))

	clk.add(5 * time.Second)

	second := do(rq, o, get("http://example.com/resource"))
	assert.Equal(t, int32(1), o.calls.Load())
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "hello world", second.Body.String())
	assert.Equal(t, "hit", second.Header().Get("X-Cache"))
	assert.Equal(t, "5", second.Header().Get("Age"))
	assert.Equal(t, "text/plain", second.Header().Get("Content-Type"))
	assert.Equal(t, first.Header().Get("Date"), second.Header().Get("Date"))
}

func TestHelloScenario(t *testing.T) {
	rq, _, clk := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "public, s-maxage=20")
		w.Header().Set("Expires", clk.now().Add(10*time.Second).Format(http.TimeFormat))
		_, _ = w.Write([]byte("hello world"))
	}}

	first := do(rq, o, get("http://localhost:8080/hello"))
	assert.Equal(t, "miss", first.Header().Get("X-Cache"))

	// s-maxage wins over Expires
	clk.add(15 * time.Second)
	second := do(rq, o, get("http://localhost:8080/hello"))
	assert.Equal(t, "hit", second.Header().Get("X-Cache"))
	assert.Equal(t, "hello world", second.Body.String())
	assert.Equal(t, "15", second.Header().Get("Age"))
	assert.Equal(t, int32(1), o.calls.Load())

	clk.add(6 * time.Second)
	third := do(rq, o, get("http://localhost:8080/hello"))
	assert.Equal(t, "miss", third.Header().Get("X-Cache"))
	assert.Equal(t, int32(2), o.calls.Load())
}

func TestCredentialsPass(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		assert.True(t, st.Pass)
		assert.False(t, st.Lookup)
		w.Header().Set("Cache-Control", "public, max-age=600")
		_, _ = w.Write([]byte("secret"))
	}}

	for _, hdr := range []string{"Authorization", "Cookie"} {
		for i := 0; i < 2; i++ {
			r := get("http://example.com/private")
			r.Header.Set(hdr, "token")
			rsp := do(rq, o, r)
			assert.Equal(t, "secret", rsp.Body.String())
			assert.Empty(t, rsp.Header().Get("X-Cache"))
		}
	}

	assert.Equal(t, int32(4), o.calls.Load())
	assert.Nil(t, stored(t, s, get("http://example.com/private")))
}

func TestRequestDirectivesPass(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		_, _ = w.Write([]byte("x"))
	}}

	cases := []struct {
		name   string
		method string
		header string
		value  string
	}{
		{"post", http.MethodPost, "", ""},
		{"pragma", http.MethodGet, "Pragma", "No-Cache"},
		{"no-cache", http.MethodGet, "Cache-Control", "no-cache"},
		{"no-store", http.MethodGet, "Cache-Control", "max-age=10, no-store"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, "http://example.com/pass", nil)
			if tc.header != "" {
				r.Header.Set(tc.header, tc.value)
			}
			rsp := do(rq, o, r)
			assert.Equal(t, "x", rsp.Body.String())
			assert.Nil(t, stored(t, s, r))
		})
	}

	assert.Equal(t, int32(len(cases)), o.calls.Load())
}

func TestSetCookieEvicts(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	withCookie := false
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		if withCookie {
			w.Header().Set("Set-Cookie", "session=1")
		}
		_, _ = w.Write([]byte("page"))
	}}

	do(rq, o, get("http://example.com/page"))
	require.NotNil(t, stored(t, s, get("http://example.com/page")))

	// min-fresh larger than the lifetime forces the origin without evicting
	withCookie = true
	r := get("http://example.com/page")
	r.Header.Set("Cache-Control", "min-fresh=3600")
	rsp := do(rq, o, r)

	assert.Equal(t, "session=1", rsp.Header().Get("Set-Cookie"))
	assert.Equal(t, int32(2), o.calls.Load())
	assert.Nil(t, stored(t, s, get("http://example.com/page")))
}

func TestNotStorable(t *testing.T) {
	cases := map[string]func(h http.Header){
		"vary star": func(h http.Header) { h.Set("Cache-Control", "max-age=60"); h.Set("Vary", "*") },
		"no-store":  func(h http.Header) { h.Set("Cache-Control", "max-age=60, no-store") },
		"private":   func(h http.Header) { h.Set("Cache-Control", "private, max-age=60") },
		"zero age":  func(h http.Header) { h.Set("Cache-Control", "max-age=0") },
		"expired":   func(h http.Header) { h.Set("Expires", "0") },
		"no info":   func(h http.Header) {},
	}

	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
			o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
				set(w.Header())
				w.WriteHeader(http.StatusPartialContent)
				_, _ = w.Write([]byte("x"))
			}}

			rsp := do(rq, o, get("http://example.com/x"))
			assert.Equal(t, http.StatusPartialContent, rsp.Code)
			assert.Nil(t, stored(t, s, get("http://example.com/x")))
		})
	}
}

func TestDefaultTTL(t *testing.T) {
	rq, _, clk := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain"))
	}}

	do(rq, o, get("http://example.com/plain"))
	clk.add(59 * time.Second)
	assert.Equal(t, "hit", do(rq, o, get("http://example.com/plain")).Header().Get("X-Cache"))
	clk.add(time.Second)
	assert.Equal(t, "miss", do(rq, o, get("http://example.com/plain")).Header().Get("X-Cache"))
	assert.Equal(t, int32(2), o.calls.Load())
}

func TestStaleEntryEvicted(t *testing.T) {
	rq, s, clk := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=10")
		_, _ = w.Write([]byte("v"))
	}}

	do(rq, o, get("http://example.com/stale"))
	require.NotNil(t, stored(t, s, get("http://example.com/stale")))

	clk.add(11 * time.Second)

	o.fn = func(w http.ResponseWriter, r *http.Request) {
		// the stale variant is gone before the origin runs
		assert.Nil(t, stored(t, s, r))
		assert.True(t, FromContext(r.Context()).Miss)
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write([]byte("fresh"))
	}

	rsp := do(rq, o, get("http://example.com/stale"))
	assert.Equal(t, "miss", rsp.Header().Get("X-Cache"))
	assert.Equal(t, "fresh", rsp.Body.String())
	assert.Equal(t, int32(2), o.calls.Load())
}

func TestRequestMaxAge(t *testing.T) {
	rq, s, clk := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=100")
		_, _ = w.Write([]byte("v"))
	}}

	do(rq, o, get("http://example.com/a"))
	clk.add(30 * time.Second)

	r := get("http://example.com/a")
	r.Header.Set("Cache-Control", "max-age=20")
	assert.Equal(t, "miss", do(rq, o, r).Header().Get("X-Cache"))

	r = get("http://example.com/a")
	r.Header.Set("Cache-Control", "max-age=20")
	assert.Equal(t, "hit", do(rq, o, r).Header().Get("X-Cache"))

	rec := stored(t, s, r)
	require.NotNil(t, rec)
	assert.Len(t, rec.Variants, 1)
	assert.Equal(t, int32(2), o.calls.Load())
}

func TestReplaceOrAppend(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	version := "1"
	o := &origin{fn: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		w.Header().Set("Vary", "Accept-Language")
		_, _ = w.Write([]byte(r.Header.Get("Accept-Language") + version))
	}}

	lang := func(l string, extra ...string) *http.Request {
		r := get("http://example.com/greeting")
		r.Header.Set("Accept-Language", l)
		if len(extra) > 0 {
			r.Header.Set("Cache-Control", extra[0])
		}
		return r
	}

	do(rq, o, lang("fr"))
	do(rq, o, lang("en"))

	rec := stored(t, s, lang("fr"))
	require.NotNil(t, rec)
	require.Len(t, rec.Variants, 2)

	assert.Equal(t, "en1", do(rq, o, lang("en")).Body.String())
	assert.Equal(t, "fr1", do(rq, o, lang("fr")).Body.String())

	version = "2"
	assert.Equal(t, "fr2", do(rq, o, lang("fr", "min-fresh=3600")).Body.String())

	rec = stored(t, s, lang("fr"))
	require.Len(t, rec.Variants, 2)
	assert.Equal(t, "fr2", string(rec.Variants[0].Body))
	assert.Equal(t, "en1", string(rec.Variants[1].Body))
	assert.Equal(t, "fr2", do(rq, o, lang("fr")).Body.String())
	assert.Equal(t, int32(3), o.calls.Load())
}

func TestStorageErrorPasses(t *testing.T) {
	rq, _, _ := newTestRequests(t, func(context.Context) (storage.Driver, error) {
		return nil, stderr.New("disk is gone")
	})

	o := &origin{fn: func(w http.ResponseWriter, r *http.Request) {
		st := FromContext(r.Context())
		assert.True(t, st.Pass)
		assert.Error(t, st.Err)
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte("still served"))
	}}

	rsp := do(rq, o, get("http://example.com/x"))
	assert.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "still served", rsp.Body.String())
	assert.Equal(t, int32(1), o.calls.Load())
}

func TestOnlyIfCached(t *testing.T) {
	rq, _, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte("v"))
	}}

	r := get("http://example.com/oic")
	r.Header.Set("Cache-Control", "only-if-cached")
	assert.Equal(t, http.StatusGatewayTimeout, do(rq, o, r).Code)
	assert.Equal(t, int32(0), o.calls.Load())

	do(rq, o, get("http://example.com/oic"))

	r = get("http://example.com/oic")
	r.Header.Set("Cache-Control", "only-if-cached")
	rsp := do(rq, o, r)
	assert.Equal(t, http.StatusOK, rsp.Code)
	assert.Equal(t, "v", rsp.Body.String())
	assert.Equal(t, int32(1), o.calls.Load())
}

func TestHead(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		_, _ = w.Write([]byte("body"))
	}}

	head := httptest.NewRequest(http.MethodHead, "http://example.com/h", nil)
	do(rq, o, head)
	assert.Nil(t, stored(t, s, head))

	do(rq, o, get("http://example.com/h"))

	rsp := do(rq, o, httptest.NewRequest(http.MethodHead, "http://example.com/h", nil))
	assert.Equal(t, "hit", rsp.Header().Get("X-Cache"))
	assert.Empty(t, rsp.Body.String())
	assert.Equal(t, int32(2), o.calls.Load())
}

func TestHeadResponseEvicts(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	withCookie := false
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		if withCookie {
			w.Header().Set("Set-Cookie", "s=1")
		}
		_, _ = w.Write([]byte("body"))
	}}

	do(rq, o, get("http://example.com/head"))
	require.NotNil(t, stored(t, s, get("http://example.com/head")))

	// a plain HEAD miss keeps the GET variant
	head := httptest.NewRequest(http.MethodHead, "http://example.com/head", nil)
	head.Header.Set("Cache-Control", "min-fresh=3600")
	do(rq, o, head)
	require.NotNil(t, stored(t, s, get("http://example.com/head")))

	withCookie = true
	head = httptest.NewRequest(http.MethodHead, "http://example.com/head", nil)
	head.Header.Set("Cache-Control", "min-fresh=3600")
	rsp := do(rq, o, head)

	assert.Equal(t, "s=1", rsp.Header().Get("Set-Cookie"))
	assert.Equal(t, int32(3), o.calls.Load())
	assert.Nil(t, stored(t, s, get("http://example.com/head")))
}

func TestOverflowingAgeNotStored(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=600")
		w.Header().Set("Age", "5000000000")
		_, _ = w.Write([]byte("ancient"))
	}}

	rsp := do(rq, o, get("http://example.com/ancient"))
	assert.Equal(t, "ancient", rsp.Body.String())
	assert.NotEqual(t, "0", rsp.Header().Get("Age"))
	assert.Nil(t, stored(t, s, get("http://example.com/ancient")))
}

func TestHopByHopNotStored(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Connection", "close")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-Custom", "kept")
		_, _ = w.Write([]byte("v"))
	}}

	rsp := do(rq, o, get("http://example.com/hop"))
	assert.Equal(t, "close", rsp.Header().Get("Connection"))

	rec := stored(t, s, get("http://example.com/hop"))
	require.NotNil(t, rec)
	hdr := rec.Variants[0].ResponseHeaders
	assert.Empty(t, hdr.Get("Connection"))
	assert.Empty(t, hdr.Get("Keep-Alive"))
	assert.Equal(t, "kept", hdr.Get("X-Custom"))
	assert.Equal(t, "Mon, 01 Jan 2024 12:00:00 GMT", hdr.Get("Date"))
	assert.Equal(t, "0", hdr.Get("Age"))
}

func TestFinalizeOnce(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))

	r := get("http://example.com/once")
	st := NewState(keys.Generate(r), 60)
	st.RequestTime = rq.now()

	wr := writer.New()
	wr.Header().Set("Cache-Control", "max-age=60")
	_, _ = wr.Write([]byte("once"))

	rsp := httptest.NewRecorder()
	rq.finalize(rsp, r, wr, st)
	rq.finalize(rsp, r, wr, st)

	assert.True(t, st.Ended())
	assert.False(t, st.End())
	assert.Equal(t, "once", rsp.Body.String())

	rec := stored(t, s, r)
	require.NotNil(t, rec)
	assert.Len(t, rec.Variants, 1)
}

func TestConcurrentStores(t *testing.T) {
	rq, s, _ := newTestRequests(t, memory.Opener(memory.DefaultSize))
	o := &origin{fn: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Vary", "X-Variant")
		_, _ = w.Write([]byte(r.Header.Get("X-Variant")))
	}}

	const n = 20
	wg := sync.WaitGroup{}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := get("http://example.com/concurrent")
			r.Header.Set("X-Variant", strings.Repeat("v", i+1))
			do(rq, o, r)
		}(i)
	}
	wg.Wait()

	rec := stored(t, s, get("http://example.com/concurrent"))
	require.NotNil(t, rec)
	assert.Len(t, rec.Variants, n)
}

func TestDateCache(t *testing.T) {
	d := &dateCache{}
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "Mon, 01 Jan 2024 12:00:00 GMT", d.get(base))
	assert.Equal(t, "Mon, 01 Jan 2024 12:00:00 GMT", d.get(base.Add(900*time.Millisecond)))
	assert.Equal(t, "Mon, 01 Jan 2024 12:00:01 GMT", d.get(base.Add(time.Second)))
}
