package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deliveryService "github.com/reshetovitsme/rss-notify/internal/modules/delivery/service"
	"github.com/reshetovitsme/rss-notify/internal/modules/scheduler/service"
	"github.com/reshetovitsme/rss-notify/internal/shared/metrics"
)

type blockingCycler struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *blockingCycler) RunCycle(ctx context.Context) (deliveryService.CycleReport, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
		}
	}
	return deliveryService.CycleReport{}, nil
}

type pinger struct {
	calls atomic.Int32
	err   error
}

func (p *pinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	return p.err
}

type purger struct {
	mu     sync.Mutex
	ages   []time.Duration
	purged int64
	err    error
}

func (p *purger) PurgeDeliveryRecordsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ages = append(p.ages, age)
	return p.purged, p.err
}

func TestNextBoundary(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		want     time.Time
	}{
		{
			name:     "mid minute",
			now:      time.Date(2024, 6, 1, 12, 0, 31, 500, time.UTC),
			interval: time.Minute,
			want:     time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC),
		},
		{
			name:     "exactly on boundary waits a full interval",
			now:      time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC),
			interval: time.Minute,
			want:     time.Date(2024, 6, 1, 12, 2, 0, 0, time.UTC),
		},
		{
			name:     "top of the hour",
			now:      time.Date(2024, 6, 1, 12, 59, 59, 0, time.UTC),
			interval: time.Hour,
			want:     time.Date(2024, 6, 1, 13, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.NextBoundary(tt.now, tt.interval))
		})
	}
}

func TestPollSkipsWhileCycleRuns(t *testing.T) {
	m := metrics.New()
	cycler := &blockingCycler{release: make(chan struct{})}
	s := service.New(cycler, &pinger{}, &purger{}, m, service.Options{})
	ctx := context.Background()

	require.True(t, s.Poll(ctx))
	require.Eventually(t, func() bool { return cycler.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.Poll(ctx))
	assert.True(t, s.Running())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CyclesSkipped))

	close(cycler.release)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)

	assert.True(t, s.Poll(ctx))
	require.Eventually(t, func() bool { return cycler.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestCheckLivenessCountsFailures(t *testing.T) {
	m := metrics.New()
	p := &pinger{err: errors.New("gateway closed")}
	s := service.New(&blockingCycler{}, p, &purger{}, m, service.Options{})

	assert.Error(t, s.CheckLiveness(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LivenessFailures))

	p.err = nil
	assert.NoError(t, s.CheckLiveness(context.Background()))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LivenessFailures))
}

func TestSweepUsesRetentionAge(t *testing.T) {
	m := metrics.New()
	p := &purger{purged: 4}
	s := service.New(&blockingCycler{}, &pinger{}, p, m, service.Options{})

	purged, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), purged)
	assert.Equal(t, []time.Duration{30 * 24 * time.Hour}, p.ages)
	assert.Equal(t, float64(4), testutil.ToFloat64(m.RecordsPurged))

	p.err = errors.New("database is locked")
	_, err = s.Sweep(context.Background())
	assert.Error(t, err)
}

func TestStartRunsAllTimersUntilStopped(t *testing.T) {
	cycler := &blockingCycler{}
	p := &pinger{}
	pg := &purger{}
	s := service.New(cycler, p, pg, metrics.New(), service.Options{
		PollInterval:      10 * time.Millisecond,
		LivenessInterval:  10 * time.Millisecond,
		RetentionInterval: 20 * time.Millisecond,
		RetentionAge:      time.Hour,
	})

	s.Start(context.Background())

	require.Eventually(t, func() bool {
		pg.mu.Lock()
		defer pg.mu.Unlock()
		return cycler.calls.Load() >= 2 && p.calls.Load() >= 2 && len(pg.ages) >= 1
	}, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	calls := cycler.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, cycler.calls.Load())
}

func TestStartStopsWithParentContext(t *testing.T) {
	cycler := &blockingCycler{}
	s := service.New(cycler, &pinger{}, &purger{}, metrics.New(), service.Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	require.Eventually(t, func() bool { return cycler.calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
