package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Registry holds every echoface collector. It is separate from the default
// registry so tests can gather it without global Go runtime noise.
var Registry = prometheus.NewRegistry()

var (
	// Capture
	FramesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echoface_frames_captured_total",
		Help: "Frames read from the frame source",
	})

	// Analysis
	FramesSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echoface_frames_submitted_total",
		Help: "Frames handed to the analysis engine",
	})
	AnalysisDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echoface_analysis_frames_dropped_total",
		Help: "Frames replaced in the engine mailbox before they were sent",
	})
	AnalysisResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "echoface_analysis_results_total",
		Help: "Completed analysis callbacks by outcome",
	}, []string{"outcome"})
	AnalysisLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "echoface_analysis_lag_ms",
		Help:    "Capture-time difference between the newest frame and the result being sent",
		Buckets: []float64{0, 33, 66, 100, 200, 500, 1000, 2000},
	})
	AnalysisDegraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "echoface_analysis_degraded",
		Help: "1 when the analysis engine is disabled and telemetry is off",
	})

	// Telemetry
	PacketsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echoface_packets_sent_total",
		Help: "Telemetry datagrams written to the socket",
	})
	PacketsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echoface_packets_dropped_total",
		Help: "Telemetry datagrams dropped on send failure",
	})
	EmptyResultsSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "echoface_empty_results_skipped_total",
		Help: "Results not sent because no face data was present",
	})

	// Pipeline
	PipelineState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "echoface_pipeline_state",
		Help: "Controller state: 0 running, 1 paused, 2 terminated",
	})
)

func init() {
	Registry.MustRegister(
		FramesCaptured,
		FramesSubmitted,
		AnalysisDropped,
		AnalysisResults,
		AnalysisLag,
		AnalysisDegraded,
		PacketsSent,
		PacketsDropped,
		EmptyResultsSkipped,
		PipelineState,
	)
}

// Serve exposes Registry on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("Metrics server stopped")
		}
	}()
}
