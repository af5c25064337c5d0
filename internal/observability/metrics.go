package observability

import (
	"errors"
	"net/http"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/models"
	grpcprom "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector wraps Prometheus metrics for gRPC and the media lifecycle
type MetricsCollector struct {
	registry      *prometheus.Registry
	serverMetrics *grpcprom.ServerMetrics
	media         *MediaMetrics
	handler       http.Handler
}

// MediaMetrics counts media lifecycle events and finished thumbnail jobs.
type MediaMetrics struct {
	uploaded *prometheus.CounterVec
	deleted  *prometheus.CounterVec
	served   *prometheus.CounterVec
	jobs     *prometheus.CounterVec
}

// InitMetrics initializes Prometheus metrics on a fresh registry, so tests
// can build as many collectors as they like.
func InitMetrics() (*MetricsCollector, error) {
	reg := prometheus.NewRegistry()

	// Create server metrics with default buckets
	serverMetrics := grpcprom.NewServerMetrics(
		grpcprom.WithServerHandlingTimeHistogram(
			grpcprom.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10}),
		),
	)

	media := &MediaMetrics{
		uploaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunked_media",
			Name:      "uploaded_total",
			Help:      "Media records created, by type.",
		}, []string{"type"}),
		deleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunked_media",
			Name:      "deleted_total",
			Help:      "Media records deleted, by type.",
		}, []string{"type"}),
		served: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunked_media",
			Name:      "served_total",
			Help:      "Media files streamed to clients, by type.",
		}, []string{"type"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chunked_media",
			Name:      "processing_jobs_total",
			Help:      "Thumbnail jobs finished, by resulting status.",
		}, []string{"status"}),
	}

	for _, c := range []prometheus.Collector{
		serverMetrics,
		media.uploaded,
		media.deleted,
		media.served,
		media.jobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, err
			}
		}
	}

	// Create HTTP handler for /metrics endpoint
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	return &MetricsCollector{
		registry:      reg,
		serverMetrics: serverMetrics,
		media:         media,
		handler:       handler,
	}, nil
}

// GetServerMetrics returns the gRPC server metrics
func (mc *MetricsCollector) GetServerMetrics() *grpcprom.ServerMetrics {
	return mc.serverMetrics
}

// Media returns the lifecycle counters.
func (mc *MetricsCollector) Media() *MediaMetrics {
	return mc.media
}

// Registry exposes the registry the collectors live in.
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// GetHandler returns the HTTP handler for /metrics endpoint
func (mc *MetricsCollector) GetHandler() http.Handler {
	return mc.handler
}

func (m *MediaMetrics) MediaUploaded(kind models.Kind) {
	m.uploaded.WithLabelValues(string(kind)).Inc()
}

func (m *MediaMetrics) MediaDeleted(kind models.Kind) {
	m.deleted.WithLabelValues(string(kind)).Inc()
}

func (m *MediaMetrics) MediaServed(kind models.Kind) {
	m.served.WithLabelValues(string(kind)).Inc()
}

func (m *MediaMetrics) JobFinished(status string) {
	m.jobs.WithLabelValues(status).Inc()
}
