package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics is safe to use as a nil pointer; every recorder becomes a no-op.
type Metrics struct {
	registry *prometheus.Registry

	turns                 *prometheus.CounterVec
	framesDropped         prometheus.Counter
	bargeIns              prometheus.Counter
	bargeInSlow           prometheus.Counter
	transcriptionFailures *prometheus.CounterVec
	parseWarnings         prometheus.Counter
	syncDropped           prometheus.Counter
	confidence            *prometheus.HistogramVec
	bargeInLatencyMs      prometheus.Histogram
	state                 *prometheus.GaugeVec
}

func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcr_turns_total",
			Help: "Completed session turns by outcome.",
		}, []string{"outcome"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcr_audio_frames_dropped_total",
			Help: "Audio frames dropped because the consumer fell behind.",
		}),
		bargeIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcr_barge_ins_total",
			Help: "Turns interrupted by new speech.",
		}),
		bargeInSlow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcr_barge_in_over_budget_total",
			Help: "Barge-ins whose latency exceeded the configured bound.",
		}),
		transcriptionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vcr_transcription_failures_total",
			Help: "Transcription attempts that failed, by engine.",
		}, []string{"engine"}),
		parseWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcr_dispatch_parse_warnings_total",
			Help: "Assistant output lines that could not be parsed.",
		}),
		syncDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vcr_knowledge_sync_dropped_total",
			Help: "Knowledge sync records dropped because the queue was full.",
		}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vcr_classification_confidence",
			Help:    "Confidence of routed decisions.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.85, 0.9, 0.95, 1},
		}, []string{"intent"}),
		bargeInLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcr_barge_in_latency_ms",
			Help:    "Time from speech start to Listening after an interruption, in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 300, 500, 1000, 2500},
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vcr_session_state",
			Help: "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
	}

	registry.MustRegister(
		m.turns,
		m.framesDropped,
		m.bargeIns,
		m.bargeInSlow,
		m.transcriptionFailures,
		m.parseWarnings,
		m.syncDropped,
		m.confidence,
		m.bargeInLatencyMs,
		m.state,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

// BargeIn records one interruption and whether it met the latency bound.
func (m *Metrics) BargeIn(latency, bound time.Duration) {
	if m == nil {
		return
	}
	m.bargeIns.Inc()
	m.bargeInLatencyMs.Observe(float64(latency.Milliseconds()))
	if latency > bound {
		m.bargeInSlow.Inc()
	}
}

func (m *Metrics) TranscriptionFailed(engine string) {
	if m == nil {
		return
	}
	m.transcriptionFailures.WithLabelValues(engine).Inc()
}

func (m *Metrics) ParseWarning() {
	if m == nil {
		return
	}
	m.parseWarnings.Inc()
}

func (m *Metrics) SyncDropped() {
	if m == nil {
		return
	}
	m.syncDropped.Inc()
}

func (m *Metrics) Confidence(intent string, value float64) {
	if m == nil {
		return
	}
	m.confidence.WithLabelValues(intent).Observe(value)
}

// State marks current as the only active state among all.
func (m *Metrics) State(current string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, lg *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	lg.Info("metrics listener started", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
