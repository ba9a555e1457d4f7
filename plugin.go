package httpcache

import (
	"fmt"
	"net/http"

	"github.com/roadrunner-server/api/v2/plugins/cache"
	"github.com/roadrunner-server/api/v2/plugins/config"
	endure "github.com/roadrunner-server/endure/pkg/container"
	"github.com/roadrunner-server/errors"
	"github.com/roadrunner-server/httpcache/drivers/rrcache"
	"github.com/roadrunner-server/httpcache/storage"
	"github.com/roadrunner-server/sdk/v2/utils"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	root string = "http"
	name string = "cache"
)

type Plugin struct {
	h *Handler

	log             *zap.Logger
	cfg             *Config
	collectedCaches map[string]cache.HTTPCacheFromConfig
}

func (p *Plugin) Init(cfg config.Configurer, log *zap.Logger) error {
	const op = errors.Op("cache_middleware_init")

	if !cfg.Has(fmt.Sprintf("%s.%s", root, name)) {
		return errors.E(op, errors.Disabled)
	}

	err := cfg.UnmarshalKey(fmt.Sprintf("%s.%s", root, name), &p.cfg)
	if err != nil {
		return errors.E(op, err)
	}

	if p.cfg == nil {
		p.cfg = &Config{}
	}

	// init default config values
	p.cfg.InitDefaults()

	err = p.cfg.Valid()
	if err != nil {
		return errors.E(op, err)
	}

	p.log = new(zap.Logger)
	*p.log = *log
	p.collectedCaches = make(map[string]cache.HTTPCacheFromConfig, 1)

	return nil
}

func (p *Plugin) Serve() chan error {
	const op = errors.Op("cache_middleware_serve")
	errCh := make(chan error, 1)

	var open storage.Opener
	if factory, ok := p.collectedCaches[p.cfg.Driver]; ok {
		open = rrcache.Opener(factory, p.log)
	} else {
		var err error
		open, err = p.cfg.opener()
		if err != nil {
			errCh <- errors.E(op, err)
			return errCh
		}
	}

	h, err := newHandler(p.cfg, open, p.log)
	if err != nil {
		errCh <- errors.E(op, err)
		return errCh
	}

	p.h = h
	p.log.Debug("http cache started", zap.String("driver", p.cfg.Driver), zap.Int64("ttl", p.cfg.TTL))

	return errCh
}

func (p *Plugin) Stop() error {
	if p.h == nil {
		return nil
	}

	return p.h.Close()
}

func (p *Plugin) Collects() []any {
	return []any{
		p.CollectCaches,
	}
}

func (p *Plugin) CollectCaches(name endure.Named, cache cache.HTTPCacheFromConfig) {
	p.collectedCaches[name.Name()] = cache
}

func (p *Plugin) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if val, ok := r.Context().Value(utils.OtelTracerNameKey).(string); ok {
			tp := trace.SpanFromContext(r.Context()).TracerProvider()
			ctx, span := tp.Tracer(val).Start(r.Context(), name)
			defer span.End()
			r = r.WithContext(ctx)
		}

		if p.h == nil {
			next.ServeHTTP(w, r)
			return
		}

		p.h.rh.Handle(w, r, next)
	})
}

func (p *Plugin) Name() string {
	return name
}
