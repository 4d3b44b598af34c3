package service

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/samber/oops"

	feedDomain "github.com/reshetovitsme/rss-notify/internal/modules/feed/domain"
	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	registryRepo "github.com/reshetovitsme/rss-notify/internal/modules/registry/repository"
	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/metrics"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
)

// Fetcher retrieves and parses an external feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*feedDomain.ParsedFeed, error)
}

// Options tune a delivery cycle.
type Options struct {
	// CategoryName is the category feed channels are created in.
	CategoryName string
	// LookbackMonths bounds how far back a source without history is read.
	LookbackMonths int
	// RetentionAge is how long delivery records are kept. A source without
	// history is never read further back than that.
	RetentionAge time.Duration
	Now          func() time.Time
}

// CycleReport summarizes one run of the delivery cycle.
type CycleReport struct {
	CycleID        string
	Sources        int
	Disabled       int
	FetchFailures  int
	Unresolved     int
	Delivered      int
	RecordFailures int
	Duration       time.Duration
}

// Service fetches enabled feed sources, delivers entries newer than the
// recorded high-water mark in published order and records each delivery.
type Service struct {
	registry registryRepo.Registry
	fetcher  Fetcher
	platform platform.Platform
	metrics  *metrics.Metrics
	opts     Options
}

// New creates a new delivery service
func New(registry registryRepo.Registry, fetcher Fetcher, p platform.Platform, m *metrics.Metrics, opts Options) *Service {
	if opts.CategoryName == "" {
		opts.CategoryName = "RSS FEEDS"
	}
	if opts.LookbackMonths <= 0 {
		opts.LookbackMonths = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		registry: registry,
		fetcher:  fetcher,
		platform: p,
		metrics:  m,
		opts:     opts,
	}
}

// RunCycle runs one fetch, dedup and deliver pass over all sources. Failures
// of a single source or entry are logged and never abort the cycle; only a
// failure to read the registry snapshot is returned.
func (s *Service) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{CycleID: uuid.NewString()}
	logger := slog.With("cycle_id", report.CycleID)
	start := time.Now()

	s.metrics.CyclesTotal.Inc()
	defer func() {
		s.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	sources, err := s.registry.ListFeedSources(ctx, nil)
	if err != nil {
		return report, oops.In("delivery").With("cycle_id", report.CycleID, "context", "failed to list feed sources").Wrap(err)
	}
	history, err := s.registry.ListFeedSourcesWithLatestDelivery(ctx, nil, 0)
	if err != nil {
		return report, oops.In("delivery").With("cycle_id", report.CycleID, "context", "failed to list delivery history").Wrap(err)
	}
	cutoffs := lo.SliceToMap(history, func(h domain.LatestDelivery) (domain.SourceKey, time.Time) {
		return h.Key(), h.LatestDeliveredAt
	})

	report.Sources = len(sources)
	communities := s.communitiesOnce(ctx, logger)

	for _, source := range sources {
		if !source.Enabled {
			report.Disabled++
			continue
		}
		s.processSource(ctx, logger, source, cutoffs, communities, &report)
	}

	report.Duration = time.Since(start)
	logger.Info("Delivery cycle completed",
		"sources", report.Sources,
		"disabled", report.Disabled,
		"fetch_failures", report.FetchFailures,
		"unresolved", report.Unresolved,
		"delivered", report.Delivered,
		"record_failures", report.RecordFailures,
		"duration", report.Duration,
	)
	return report, nil
}

// Record stores a delivery. When the entry was already recorded its
// delivered_at is moved to the new timestamp instead.
func (s *Service) Record(ctx context.Context, record domain.DeliveryRecord) error {
	err := s.registry.AddDeliveryRecord(ctx, record)
	if err == nil || !apperrors.Is(err, apperrors.ErrRowExists) {
		return err
	}

	deliveredAt := record.DeliveredAt
	_, err = s.registry.UpdateDeliveryRecord(ctx, record.TenantID, record.URL, record.Title, domain.DeliveryRecordUpdate{
		DeliveredAt: &deliveredAt,
	})
	return err
}

func (s *Service) processSource(
	ctx context.Context,
	logger *slog.Logger,
	source domain.FeedSource,
	cutoffs map[domain.SourceKey]time.Time,
	communities func() []platform.Community,
	report *CycleReport,
) {
	logger = logger.With("tenant_id", source.TenantID, "url", source.URL)
	tenantLabel := strconv.FormatInt(source.TenantID, 10)

	feed, err := s.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		report.FetchFailures++
		s.metrics.FetchFailures.WithLabelValues(tenantLabel).Inc()
		logger.Warn("Failed to fetch feed, retrying next cycle", "error", err)
		return
	}

	channels := s.resolveTargets(ctx, logger, source, communities())
	if len(channels) == 0 {
		report.Unresolved++
		logger.Warn("No delivery channel resolved, skipping tenant this cycle", "channel_name", source.ChannelName)
		return
	}

	cutoff, ok := cutoffs[source.Key()]
	if !ok {
		cutoff = s.SeedCutoff()
	}

	msgTitle := lo.CoalesceOrEmpty(feed.Title, source.Name)
	for _, entry := range NewEntries(feed.Entries, cutoff) {
		msg := platform.Message{FeedTitle: msgTitle, EntryTitle: entry.Title, Link: entry.Link}
		if s.send(ctx, logger, tenantLabel, channels, msg) == 0 {
			continue
		}
		report.Delivered++
		s.metrics.EntriesDelivered.WithLabelValues(tenantLabel).Inc()

		record := domain.DeliveryRecord{
			TenantID:    source.TenantID,
			URL:         source.URL,
			Title:       entry.Title,
			DeliveredAt: entry.Published,
		}
		if err := s.Record(ctx, record); err != nil {
			report.RecordFailures++
			s.metrics.RecordFailures.Inc()
			logger.Error("Failed to record delivery",
				"title", entry.Title,
				"delivered_at", entry.Published,
				"error", err,
			)
		}
	}
}

// SeedCutoff is the cutoff of a source without delivery history: the
// lookback window, clamped to the retention horizon.
func (s *Service) SeedCutoff() time.Time {
	now := s.opts.Now()
	cutoff := now.AddDate(0, -s.opts.LookbackMonths, 0)
	if s.opts.RetentionAge <= 0 {
		return cutoff
	}
	return lo.Latest(cutoff, now.Add(-s.opts.RetentionAge))
}

// NewEntries returns the entries published strictly after cutoff, oldest
// first.
func NewEntries(entries []feedDomain.Entry, cutoff time.Time) []feedDomain.Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b feedDomain.Entry) int {
		return a.Published.Compare(b.Published)
	})
	return lo.Filter(sorted, func(e feedDomain.Entry, _ int) bool {
		return e.Published.After(cutoff)
	})
}

func (s *Service) send(ctx context.Context, logger *slog.Logger, tenantLabel string, channels []int64, msg platform.Message) int {
	sent := 0
	for _, channelID := range channels {
		if err := s.platform.Send(ctx, channelID, msg); err != nil {
			s.metrics.SendFailures.WithLabelValues(tenantLabel).Inc()
			logger.Error("Failed to send entry", "channel_id", channelID, "title", msg.EntryTitle, "error", err)
			continue
		}
		sent++
	}
	return sent
}

// communitiesOnce lists communities on first use and reuses the result for
// the rest of the cycle.
func (s *Service) communitiesOnce(ctx context.Context, logger *slog.Logger) func() []platform.Community {
	var (
		loaded      bool
		communities []platform.Community
	)
	return func() []platform.Community {
		if loaded {
			return communities
		}
		loaded = true

		var err error
		communities, err = s.platform.Communities(ctx)
		if err != nil {
			logger.Error("Failed to list communities", "error", err)
		}
		return communities
	}
}
