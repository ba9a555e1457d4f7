package requests

import (
	"net/http"
	"sync"
	"time"

	"github.com/roadrunner-server/httpcache/directives"
	"github.com/roadrunner-server/httpcache/keys"
	"github.com/roadrunner-server/httpcache/storage"
	"github.com/roadrunner-server/httpcache/writer"
	"go.uber.org/zap"
)

// Requests runs the cache logic around the origin handler: admission before
// the origin is called, capture and store after it wrote its response.
type Requests struct {
	storage *storage.Storage
	log     *zap.Logger
	// default freshness lifetime, seconds
	ttl int64
	// indicator header name, empty when disabled
	indicator string

	now   func() time.Time
	dates *dateCache

	wrPool sync.Pool
	ccPool sync.Pool
}

func NewRequestsHandler(s *storage.Storage, ttl int64, indicator string, log *zap.Logger) *Requests {
	return &Requests{
		storage:   s,
		log:       log,
		ttl:       ttl,
		indicator: indicator,
		now:       time.Now,
		dates:     &dateCache{},

		ccPool: sync.Pool{New: func() any {
			return new(directives.CacheControl)
		}},

		wrPool: sync.Pool{
			New: func() any {
				return writer.New()
			},
		},
	}
}

// Handle serves the request from the cache or forwards it to next and
// stores the captured response when it is cacheable.
func (req *Requests) Handle(w http.ResponseWriter, r *http.Request, next http.Handler) {
	st := NewState(keys.Generate(r), req.ttl)
	r = r.WithContext(withState(r.Context(), st))

	cc := req.GetCC()
	defer req.PutCC(cc)

	if req.admit(w, r, st, cc) {
		return
	}

	wr := req.getWriter()
	defer req.putWriter(wr)

	next.ServeHTTP(wr, r)
	req.finalize(w, r, wr, st)
}

func (req *Requests) GetCC() *directives.CacheControl {
	return req.ccPool.Get().(*directives.CacheControl)
}

func (req *Requests) PutCC(cc *directives.CacheControl) {
	cc.Reset()
	req.ccPool.Put(cc)
}

func (req *Requests) getWriter() *writer.Writer {
	return req.wrPool.Get().(*writer.Writer)
}

func (req *Requests) putWriter(w *writer.Writer) {
	w.Reset()
	req.wrPool.Put(w)
}
