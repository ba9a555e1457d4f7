// Package metrics holds the Prometheus collectors of the cache middleware.
//
// Metrics:
//   - httpcache_requests_total{result} (Counter): admission outcome, "hit", "miss" or "pass"
//   - httpcache_store_total{action} (Counter): capture outcome, "append", "replace", "evict" or "skip"
//   - httpcache_storage_errors_total{operation} (Counter): storage failures by operation
//     ("open", "get", "put", "remove", "decode", "encode")
//
// Example queries:
//
//	# hit ratio
//	sum(rate(httpcache_requests_total{result="hit"}[5m])) /
//	sum(rate(httpcache_requests_total{result=~"hit|miss"}[5m]))
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultHit  string = "hit"
	ResultMiss string = "miss"
	ResultPass string = "pass"
)

const (
	ActionAppend  string = "append"
	ActionReplace string = "replace"
	ActionEvict   string = "evict"
	ActionSkip    string = "skip"
)

var (
	// Requests tracks admission outcomes
	Requests = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "httpcache_requests_total",
			Help: "Total number of requests by cache admission outcome",
		},
		[]string{"result"},
	)

	// Stores tracks what happened to captured responses
	Stores = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "httpcache_store_total",
			Help: "Total number of captured responses by storage action",
		},
		[]string{"action"},
	)

	// StorageErrors tracks storage operation errors
	StorageErrors = promauto.NewCounterVec( //nolint:gochecknoglobals
		prometheus.CounterOpts{
			Name: "httpcache_storage_errors_total",
			Help: "Total number of cache storage errors",
		},
		[]string{"operation"},
	)
)
