// Package metrics exports attachment counters to Prometheus and serves them
// on a dedicated listener.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Representation request outcomes.
const (
	ResultCached    = "cached"
	ResultGenerated = "generated"
	ResultNone      = "none"
	ResultError     = "error"
)

// Recorder collects attachment metrics. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	representationRequests *prometheus.CounterVec
	storageOperations      *prometheus.CounterVec
	generationDuration     prometheus.Histogram
}

// NewRecorder registers the attachment metrics with reg. Already registered
// collectors are reused so several services can share one registry.
func NewRecorder(namespace string, reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	r := &Recorder{
		representationRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "representation_requests_total",
			Help:      "Representation lookups by outcome.",
		}, []string{"result"}),
		storageOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Storage backend operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		generationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "representation_generation_seconds",
			Help:      "Time spent generating and storing a representation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	var err error
	if r.representationRequests, err = register(reg, r.representationRequests); err != nil {
		return nil, err
	}
	if r.storageOperations, err = register(reg, r.storageOperations); err != nil {
		return nil, err
	}
	if r.generationDuration, err = register(reg, r.generationDuration); err != nil {
		return nil, err
	}
	return r, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register attachment metric: %w", err)
	}
	return c, nil
}

// RepresentationRequest counts one representation lookup.
func (r *Recorder) RepresentationRequest(result string) {
	if r == nil {
		return
	}
	r.representationRequests.WithLabelValues(result).Inc()
}

// StorageOperation counts one backend call.
func (r *Recorder) StorageOperation(backend, op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.storageOperations.WithLabelValues(backend, op, result).Inc()
}

// ObserveGeneration records how long a generate-and-store cycle took.
func (r *Recorder) ObserveGeneration(d time.Duration) {
	if r == nil {
		return
	}
	r.generationDuration.Observe(d.Seconds())
}

// MetricsServer serves a Prometheus registry over HTTP.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server listening on addr with a fresh registry
// preloaded with the Go and process collectors.
func New(addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Registry returns the registry the server exposes.
func (m *MetricsServer) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsServer) ListenAndServe() error {
	err := m.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
