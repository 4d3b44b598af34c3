package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	deliveryService "github.com/reshetovitsme/rss-notify/internal/modules/delivery/service"
	"github.com/reshetovitsme/rss-notify/internal/shared/metrics"
)

// Cycler runs one delivery cycle.
type Cycler interface {
	RunCycle(ctx context.Context) (deliveryService.CycleReport, error)
}

// Pinger checks that the messaging platform is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Purger removes delivery history older than a given age.
type Purger interface {
	PurgeDeliveryRecordsOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Options configure the scheduler timers.
type Options struct {
	PollInterval      time.Duration
	LivenessInterval  time.Duration
	RetentionInterval time.Duration
	RetentionAge      time.Duration
	Now               func() time.Time
}

// Service drives the delivery cycle, the liveness check and the retention
// sweep on independent timers aligned to wall clock boundaries.
type Service struct {
	cycler  Cycler
	pinger  Pinger
	purger  Purger
	metrics *metrics.Metrics
	opts    Options

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new scheduler service
func New(cycler Cycler, pinger Pinger, purger Purger, m *metrics.Metrics, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = time.Minute
	}
	if opts.RetentionInterval <= 0 {
		opts.RetentionInterval = time.Hour
	}
	if opts.RetentionAge <= 0 {
		opts.RetentionAge = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cycler:  cycler,
		pinger:  pinger,
		purger:  purger,
		metrics: m,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the three timers. None of them fires before its first
// interval boundary.
func (s *Service) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()

	s.wg.Add(3)
	go s.every("poll", s.opts.PollInterval, func(ctx context.Context) { s.Poll(ctx) })
	go s.every("liveness", s.opts.LivenessInterval, func(ctx context.Context) { _ = s.CheckLiveness(ctx) })
	go s.every("retention", s.opts.RetentionInterval, func(ctx context.Context) { _, _ = s.Sweep(ctx) })

	slog.Info("Scheduler started",
		"poll_interval", s.opts.PollInterval,
		"liveness_interval", s.opts.LivenessInterval,
		"retention_interval", s.opts.RetentionInterval,
	)
}

// Stop cancels the timers and waits for a running cycle to return.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Poll starts a delivery cycle in the background unless one is already
// running. It reports whether a cycle was started.
func (s *Service) Poll(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.CyclesSkipped.Inc()
		slog.Warn("Previous delivery cycle still running, skipping tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)

		if _, err := s.cycler.RunCycle(ctx); err != nil {
			slog.Error("Delivery cycle failed", "error", err)
		}
	}()
	return true
}

// Running reports whether a delivery cycle is in progress.
func (s *Service) Running() bool {
	return s.running.Load()
}

// CheckLiveness pings the platform. Failures are logged and counted; the
// platform session reconnects on its own.
func (s *Service) CheckLiveness(ctx context.Context) error {
	if err := s.pinger.Ping(ctx); err != nil {
		s.metrics.LivenessFailures.Inc()
		slog.Warn("Platform liveness check failed", "error", err)
		return oops.In("scheduler").With("context", "liveness check failed").Wrap(err)
	}
	slog.Debug("Platform liveness check passed")
	return nil
}

// Sweep deletes delivery records older than the retention age.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	purged, err := s.purger.PurgeDeliveryRecordsOlderThan(ctx, s.opts.RetentionAge)
	if err != nil {
		slog.Error("Retention sweep failed", "retention_age", s.opts.RetentionAge, "error", err)
		return 0, oops.In("scheduler").With("retention_age", s.opts.RetentionAge).Wrap(err)
	}
	s.metrics.RecordsPurged.Add(float64(purged))
	slog.Info("Retention sweep completed", "purged", purged, "retention_age", s.opts.RetentionAge)
	return purged, nil
}

func (s *Service) every(name string, interval time.Duration, fn func(context.Context)) {
	defer s.wg.Done()

	for {
		now := s.opts.Now()
		timer := time.NewTimer(NextBoundary(now, interval).Sub(now))

		select {
		case <-s.ctx.Done():
			timer.Stop()
			slog.Debug("Timer stopped", "timer", name)
			return
		case <-timer.C:
			fn(s.ctx)
		}
	}
}

// NextBoundary returns the first multiple of interval strictly after now.
func NextBoundary(now time.Time, interval time.Duration) time.Time {
	return now.Truncate(interval).Add(interval)
}
