package knowledge_sync

import (
	"context"
	"fmt"
	"time"

	"voice-command-router/clients/sync_api"
	"voice-command-router/metrics"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeOff          Mode = "off"
	ModeNonSensitive Mode = "non-sensitive"
	ModeAll          Mode = "all"
)

const (
	defaultQueue      = 64
	defaultRetryDelay = 2 * time.Second
)

// Worker mirrors knowledge writes to a remote service. Enqueue never
// blocks; a full queue drops the record.
type Worker struct {
	api     sync_api.SyncAPI
	mode    Mode
	queue   chan sync_api.Record
	retry   time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

type Config struct {
	API        sync_api.SyncAPI
	Mode       Mode
	Queue      int
	RetryDelay time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func New(cfg *Config) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	w := &Worker{
		api:     cfg.API,
		mode:    cfg.Mode,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	switch w.mode {
	case "":
		w.mode = ModeNonSensitive
	case ModeOff, ModeNonSensitive, ModeAll:
	default:
		return nil, fmt.Errorf("unknown sync mode %q", w.mode)
	}

	if w.api == nil {
		w.mode = ModeOff
	}

	size := cfg.Queue
	if size <= 0 {
		size = defaultQueue
	}
	w.queue = make(chan sync_api.Record, size)

	w.retry = cfg.RetryDelay
	if w.retry <= 0 {
		w.retry = defaultRetryDelay
	}

	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	w.logger = w.logger.Named("sync")

	return w, nil
}

// Allowed reports whether records of kind leave the machine in this mode.
// Decisions carry rationale and are only synced in "all" mode.
func (w *Worker) Allowed(kind sync_api.Kind) bool {
	switch w.mode {
	case ModeAll:
		return true
	case ModeNonSensitive:
		return kind == sync_api.KindGoal || kind == sync_api.KindMilestone
	}

	return false
}

// Enqueue reports whether rec was accepted.
func (w *Worker) Enqueue(rec sync_api.Record) bool {
	if !w.Allowed(rec.Kind) {
		return false
	}

	select {
	case w.queue <- rec:
		return true
	default:
		w.metrics.SyncDropped()
		w.logger.Warn("sync queue full, dropping record", zap.String("kind", string(rec.Kind)), zap.String("id", rec.ID))

		return false
	}
}

// Run pushes queued records until ctx is done. Each record gets one retry.
func (w *Worker) Run(ctx context.Context) error {
	if w.mode == ModeOff {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case rec := <-w.queue:
			w.push(ctx, rec)
		}
	}
}

func (w *Worker) push(ctx context.Context, rec sync_api.Record) {
	err := w.api.Push(ctx, rec)
	if err == nil {
		w.logger.Debug("record synced", zap.String("kind", string(rec.Kind)), zap.String("id", rec.ID))
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(w.retry):
	}

	if err = w.api.Push(ctx, rec); err != nil {
		w.metrics.SyncDropped()
		w.logger.Warn("record not synced", zap.String("kind", string(rec.Kind)), zap.String("id", rec.ID), zap.Error(err))
	}
}
