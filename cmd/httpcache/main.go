// Command httpcache runs a demo origin behind the cache middleware.
//
//	curl -i localhost:8080/hello   # X-Cache: miss
//	curl -i localhost:8080/hello   # X-Cache: hit, Age: n
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/roadrunner-server/httpcache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/propagators/jaeger"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var (
	configFlag string
	addrFlag   string
	driverFlag string
	debugFlag  bool
)

func init() {
	flag.StringVar(&configFlag, "config", "", "YAML configuration file")
	flag.StringVar(&addrFlag, "addr", "", "Address to listen on (default :8080)")
	flag.StringVar(&driverFlag, "driver", "", "Cache driver: memory, sqlite or redis (overrides the config file)")
	flag.BoolVar(&debugFlag, "debug", false, "Whether to enable debug logging")
}

func initLogger(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	return cfg.Build()
}

func main() {
	flag.Parse()

	logger, err := initLogger(debugFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := getConfig(configFlag)
	if err != nil {
		logger.Fatal("cannot read the configuration", zap.String("file", configFlag), zap.Error(err))
	}

	if addrFlag != "" {
		cfg.Addr = addrFlag
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if driverFlag != "" {
		cfg.Cache.Driver = driverFlag
	}
	// the demo is about seeing hits and misses
	cfg.Cache.ShowIndicator = true

	h, err := httpcache.NewHandler(&cfg.Cache, logger)
	if err != nil {
		logger.Fatal("cannot create the cache", zap.Error(err))
	}

	otel.SetTextMapPropagator(jaeger.Jaeger{})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(newRouter(h, logger), "httpcache"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.String("driver", cfg.Cache.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}

	if err := h.Close(); err != nil {
		logger.Warn("failed to close the cache", zap.Error(err))
	}
}

// newRouter mounts the demo origin behind the cache; /metrics is not cached.
func newRouter(h *httpcache.Handler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(h.Middleware)

		r.Get("/hello", func(w http.ResponseWriter, _ *http.Request) {
			logger.Debug("origin called", zap.String("path", "/hello"))
			w.Header().Set("Cache-Control", "public, s-maxage=20")
			w.Header().Set("Expires", time.Now().Add(10*time.Second).UTC().Format(http.TimeFormat))
			_, _ = w.Write([]byte("hello world"))
		})

		r.Get("/time", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Cache-Control", "max-age=5")
			w.Header().Set("Vary", "Accept-Language")
			_, _ = w.Write([]byte(time.Now().UTC().Format(time.RFC3339)))
		})
	})

	return r
}
