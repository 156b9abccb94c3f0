package metrics

import (
	"cmp"
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ClientMetrics records outbound PostgREST requests.
type ClientMetrics struct {
	Requests        *prometheus.CounterVec
	TransportErrors *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewClientMetrics registers the client collectors with reg. A nil reg uses
// the default prometheus registerer.
func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ClientMetrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgrest_client_requests_total",
				Help: "Total number of requests sent by method, schema and response status",
			},
			[]string{"method", "schema", "status"},
		),
		TransportErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgrest_client_transport_errors_total",
				Help: "Total number of requests that failed before a response was received",
			},
			[]string{"method", "schema"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgrest_client_request_duration_seconds",
				Help:    "Duration of requests including reading the response body",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "schema"},
		),
	}
}

func schemaLabel(schema string) string {
	return cmp.Or(schema, "default")
}

// ObserveResponse records a request that produced a response, whatever its status.
func (m *ClientMetrics) ObserveResponse(method, schema string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(method, schemaLabel(schema), strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, schemaLabel(schema)).Observe(d.Seconds())
}

// ObserveTransportError records a request that failed without a response.
func (m *ClientMetrics) ObserveTransportError(method, schema string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransportErrors.WithLabelValues(method, schemaLabel(schema)).Inc()
	m.RequestDuration.WithLabelValues(method, schemaLabel(schema)).Observe(d.Seconds())
}

// ServerMetrics records requests handled by the fixture server.
type ServerMetrics struct {
	Requests *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewServerMetrics registers the server collectors with reg. A nil reg uses
// the default prometheus registerer.
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ServerMetrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pgrest_server_requests_total",
				Help: "Total number of requests served by method and status code",
			},
			[]string{"code", "method"},
		),
		Duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pgrest_server_request_duration_seconds",
				Help:    "Duration of served requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// Middleware instruments next with the server collectors.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerDuration(m.Duration,
		promhttp.InstrumentHandlerCounter(m.Requests, next))
}

type PromServerOpts struct {
	Logger            *zap.Logger
	Addr              string
	Path              string        // Path for metrics endpoint, defaults to "/metrics"
	ShutdownTimeout   time.Duration // Timeout for server shutdown, defaults to 5 seconds
	ReadHeaderTimeout time.Duration // Timeout for reading request headers, defaults to 3 seconds
}

func defaultPrometheusServerOptions() PromServerOpts {
	return PromServerOpts{
		Logger:            zap.NewNop(),
		Addr:              ":9100",
		Path:              "/metrics",
		ShutdownTimeout:   5 * time.Second,
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// StartPrometheusServer starts a Prometheus metrics server with the given options
// The server gracefully shutdown when the provided context is canceled
func StartPrometheusServer(ctx context.Context, wg *sync.WaitGroup, opts *PromServerOpts) {
	effectiveOpts := defaultPrometheusServerOptions()
	if opts != nil {
		effectiveOpts.Addr = cmp.Or(opts.Addr, effectiveOpts.Addr)
		effectiveOpts.Path = cmp.Or(opts.Path, effectiveOpts.Path)
		effectiveOpts.ShutdownTimeout = cmp.Or(opts.ShutdownTimeout, effectiveOpts.ShutdownTimeout)
		effectiveOpts.ReadHeaderTimeout = cmp.Or(opts.ReadHeaderTimeout, effectiveOpts.ReadHeaderTimeout)
		if opts.Logger != nil {
			effectiveOpts.Logger = opts.Logger
		}
	}
	logger := effectiveOpts.Logger

	mux := http.NewServeMux()
	mux.Handle(effectiveOpts.Path, promhttp.Handler())
	server := &http.Server{
		Addr:              effectiveOpts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: effectiveOpts.ReadHeaderTimeout,
	}

	serverClosed := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("starting prometheus metrics server", zap.String("addr", effectiveOpts.Addr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
		close(serverClosed)
	}()

	go func() {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), effectiveOpts.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down metrics server", zap.Error(err))
		}

		select {
		case <-serverClosed:
			logger.Info("metrics server shutdown complete")
		case <-shutdownCtx.Done():
			logger.Warn("metrics server shutdown timed out")
		}
	}()
}
