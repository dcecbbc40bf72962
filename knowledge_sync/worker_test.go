package knowledge_sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voice-command-router/clients/sync_api"
	"voice-command-router/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type pushFunc func(ctx context.Context, rec sync_api.Record) error

func (f pushFunc) Push(ctx context.Context, rec sync_api.Record) error { return f(ctx, rec) }

type recorder struct {
	mu    sync.Mutex
	recs  []sync_api.Record
	fails int
}

func (r *recorder) Push(_ context.Context, rec sync_api.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fails > 0 {
		r.fails--
		return errors.New("unavailable")
	}

	r.recs = append(r.recs, rec)

	return nil
}

func (r *recorder) pushed() []sync_api.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]sync_api.Record(nil), r.recs...)
}

func run(t *testing.T, w *Worker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func TestWorker(t *testing.T) {
	t.Run("queued records reach the remote service", func(t *testing.T) {
		api := &recorder{}
		w, err := New(&Config{API: api, Mode: ModeNonSensitive})
		require.NoError(t, err)
		run(t, w)

		assert.True(t, w.Enqueue(sync_api.Record{Kind: sync_api.KindGoal, ID: "g1"}))
		assert.True(t, w.Enqueue(sync_api.Record{Kind: sync_api.KindMilestone, ID: "m1"}))

		require.Eventually(t, func() bool { return len(api.pushed()) == 2 }, time.Second, 5*time.Millisecond)
	})

	t.Run("decisions stay local unless everything is synced", func(t *testing.T) {
		w, err := New(&Config{API: &recorder{}, Mode: ModeNonSensitive})
		require.NoError(t, err)
		assert.False(t, w.Enqueue(sync_api.Record{Kind: sync_api.KindDecision, ID: "d1"}))

		all, err := New(&Config{API: &recorder{}, Mode: ModeAll})
		require.NoError(t, err)
		assert.True(t, all.Allowed(sync_api.KindDecision))
	})

	t.Run("without an endpoint nothing is queued", func(t *testing.T) {
		w, err := New(&Config{Mode: ModeAll})
		require.NoError(t, err)
		assert.False(t, w.Enqueue(sync_api.Record{Kind: sync_api.KindGoal}))
		run(t, w)
	})

	t.Run("a full queue drops instead of blocking", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)

		w, err := New(&Config{API: &recorder{}, Queue: 1, Metrics: m})
		require.NoError(t, err)

		assert.True(t, w.Enqueue(sync_api.Record{Kind: sync_api.KindGoal, ID: "g1"}))
		assert.False(t, w.Enqueue(sync_api.Record{Kind: sync_api.KindGoal, ID: "g2"}))
		count, err := testutil.GatherAndCount(reg, "vcr_knowledge_sync_dropped_total")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		families, err := reg.Gather()
		require.NoError(t, err)
		for _, mf := range families {
			if mf.GetName() == "vcr_knowledge_sync_dropped_total" {
				assert.Equal(t, 1.0, mf.GetMetric()[0].GetCounter().GetValue())
			}
		}
	})

	t.Run("a failed push is retried once", func(t *testing.T) {
		api := &recorder{fails: 1}
		w, err := New(&Config{API: api, RetryDelay: time.Millisecond})
		require.NoError(t, err)
		run(t, w)

		w.Enqueue(sync_api.Record{Kind: sync_api.KindGoal, ID: "g1"})

		require.Eventually(t, func() bool { return len(api.pushed()) == 1 }, time.Second, 5*time.Millisecond)
	})

	t.Run("shutdown interrupts a pending retry", func(t *testing.T) {
		calls := make(chan struct{}, 4)
		api := pushFunc(func(context.Context, sync_api.Record) error {
			calls <- struct{}{}
			return errors.New("down")
		})

		w, err := New(&Config{API: api, RetryDelay: time.Hour})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		w.Enqueue(sync_api.Record{Kind: sync_api.KindGoal, ID: "g1"})
		<-calls
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("worker did not stop")
		}
	})

	t.Run("an unknown mode is rejected", func(t *testing.T) {
		_, err := New(&Config{Mode: "sometimes"})
		assert.Error(t, err)
	})
}
