package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_fetch_requests_total",
			Help: "Total number of source fetches executed",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dossier_fetch_duration_seconds",
			Help:    "Duration of source fetches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_fetch_bytes_total",
			Help: "Total bytes downloaded across all source fetches",
		},
		[]string{"domain"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_proxy_failures_total",
			Help: "Total number of proxy failures during fetches",
		},
		[]string{"proxy_url"},
	)

	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_extractions_total",
			Help: "Content extractions by strategy and outcome",
		},
		[]string{"strategy", "outcome"},
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_provider_calls_total",
			Help: "Language model provider calls by outcome",
		},
		[]string{"provider", "outcome"},
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dossier_pipeline_runs_total",
			Help: "Research runs by outcome and the stage they ended in",
		},
		[]string{"outcome", "stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dossier_pipeline_stage_duration_seconds",
			Help:    "Time spent in each research stage",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)
)

// Fetch is one observed HTTP fetch.
type Fetch struct {
	StatusCode int
	Failed     bool
	Vendor     string
	Duration   time.Duration
	Bytes      int
}

// RecordFetch updates the fetch metrics for a domain.
func RecordFetch(domain string, f Fetch) {
	status := strconv.Itoa(f.StatusCode)
	if f.Failed {
		status = "error"
	}

	FetchRequestsTotal.WithLabelValues(domain, status, strconv.FormatBool(f.Vendor != ""), f.Vendor).Inc()
	FetchDuration.WithLabelValues(domain).Observe(f.Duration.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(f.Bytes))
}

// RecordExtraction counts one extraction attempt.
func RecordExtraction(strategy string, success bool) {
	if strategy == "" {
		strategy = "none"
	}
	ExtractionsTotal.WithLabelValues(strategy, outcome(success)).Inc()
}

// RecordProviderCall counts one generation call.
func RecordProviderCall(provider string, success bool) {
	ProviderCallsTotal.WithLabelValues(provider, outcome(success)).Inc()
}

// RecordRun counts a finished research run. stage is the last stage entered.
func RecordRun(success bool, stage string) {
	PipelineRunsTotal.WithLabelValues(outcome(success), stage).Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
