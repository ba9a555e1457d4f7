package httpcache

import (
	"net/http"

	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/record"
	"github.com/roadrunner-server/httpcache/requests"
	"github.com/roadrunner-server/httpcache/storage"
	"go.uber.org/zap"
)

// Handler is the cache middleware for plain net/http servers.
type Handler struct {
	rh      *requests.Requests
	storage *storage.Storage
}

// NewHandler builds the middleware with one of the built-in drivers.
// The storage is opened on the first request.
func NewHandler(cfg *Config, log *zap.Logger) (*Handler, error) {
	const op = errors.Op("cache_handler_new")

	cfg.InitDefaults()
	err := cfg.Valid()
	if err != nil {
		return nil, errors.E(op, err)
	}

	open, err := cfg.opener()
	if err != nil {
		return nil, errors.E(op, err)
	}

	return newHandler(cfg, open, log)
}

func newHandler(cfg *Config, open storage.Opener, log *zap.Logger) (*Handler, error) {
	const op = errors.Op("cache_handler_new")

	codec, err := record.NewCodec(cfg.Compress, cfg.CompressThreshold)
	if err != nil {
		return nil, errors.E(op, err)
	}

	s := storage.NewStorage(open, codec, log)

	return &Handler{
		rh:      requests.NewRequestsHandler(s, cfg.TTL, cfg.indicator(), log),
		storage: s,
	}, nil
}

func (h *Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.rh.Handle(w, r, next)
	})
}

// Close closes the storage.
func (h *Handler) Close() error {
	return h.storage.Close()
}
