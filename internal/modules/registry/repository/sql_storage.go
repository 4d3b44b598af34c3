package repository

import (
	"context"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
)

const (
	tableFeedSources     = "feed_sources"
	tableDeliveryRecords = "delivery_records"
	tableTenantChannels  = "tenant_channels"
	tableTenantRoles     = "tenant_roles"
)

// SQLStorage implements Registry on top of the relational store.
type SQLStorage struct {
	store *store.Store
	now   func() time.Time
}

var _ Registry = (*SQLStorage)(nil)

// Option configures SQLStorage.
type Option func(*SQLStorage)

// WithClock overrides the clock used by retention.
func WithClock(now func() time.Time) Option {
	return func(s *SQLStorage) {
		s.now = now
	}
}

// NewSQLStorage creates a store backed registry.
func NewSQLStorage(s *store.Store, opts ...Option) *SQLStorage {
	storage := &SQLStorage{store: s, now: time.Now}
	for _, opt := range opts {
		opt(storage)
	}
	return storage
}

func (s *SQLStorage) AddFeedSource(ctx context.Context, source domain.FeedSource) error {
	return s.store.Insert(ctx, tableFeedSources, store.Values{
		"tenant_id":    source.TenantID,
		"name":         source.Name,
		"url":          source.URL,
		"channel_name": source.ChannelName,
		"channel_id":   source.ChannelID,
		"enabled":      source.Enabled,
	})
}

func (s *SQLStorage) UpdateFeedSource(ctx context.Context, tenantID int64, url string, update domain.FeedSourceUpdate) (int64, error) {
	if update.IsEmpty() {
		return 0, nil
	}

	values := store.Values{}
	if update.Name != nil {
		values["name"] = *update.Name
	}
	if update.URL != nil {
		values["url"] = *update.URL
	}
	if update.ChannelName != nil {
		values["channel_name"] = *update.ChannelName
	}
	if update.ChannelID != nil {
		values["channel_id"] = *update.ChannelID
	}
	if update.Enabled != nil {
		values["enabled"] = *update.Enabled
	}

	return s.store.Update(ctx, tableFeedSources, values, sourceFilter(tenantID, url))
}

func (s *SQLStorage) DeleteFeedSource(ctx context.Context, tenantID int64, url string) (int64, error) {
	return s.store.Delete(ctx, tableFeedSources, sourceFilter(tenantID, url))
}

func (s *SQLStorage) ListFeedSources(ctx context.Context, tenantID *int64) ([]domain.FeedSource, error) {
	q := store.Query{
		Tables:  []string{tableFeedSources},
		OrderBy: []string{"tenant_id", "name", "url"},
	}
	if tenantID != nil {
		q.Where = store.Where(store.Eq("tenant_id", *tenantID))
	}

	rows, err := s.store.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row store.Row, _ int) domain.FeedSource {
		return feedSourceFromRow(row)
	}), nil
}

func (s *SQLStorage) AddDeliveryRecord(ctx context.Context, record domain.DeliveryRecord) error {
	return s.store.Insert(ctx, tableDeliveryRecords, store.Values{
		"tenant_id":    record.TenantID,
		"url":          record.URL,
		"title":        record.Title,
		"delivered_at": record.DeliveredAt.Unix(),
	})
}

func (s *SQLStorage) UpdateDeliveryRecord(ctx context.Context, tenantID int64, url, title string, update domain.DeliveryRecordUpdate) (int64, error) {
	if update.DeliveredAt == nil {
		return 0, nil
	}
	return s.store.Update(ctx, tableDeliveryRecords,
		store.Values{"delivered_at": update.DeliveredAt.Unix()},
		recordFilter(tenantID, url, title),
	)
}

func (s *SQLStorage) DeleteDeliveryRecord(ctx context.Context, tenantID int64, url, title string) (int64, error) {
	return s.store.Delete(ctx, tableDeliveryRecords, recordFilter(tenantID, url, title))
}

func (s *SQLStorage) ListDeliveryRecords(ctx context.Context, tenantID int64, limit int) ([]domain.DeliveryRecord, error) {
	rows, err := s.store.Select(ctx, store.Query{
		Tables:  []string{tableDeliveryRecords},
		Where:   store.Where(store.Eq("tenant_id", tenantID)),
		OrderBy: []string{"delivered_at DESC", "title"},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row store.Row, _ int) domain.DeliveryRecord {
		return domain.DeliveryRecord{
			TenantID:    row.Int64("tenant_id"),
			URL:         row.String("url"),
			Title:       row.String("title"),
			DeliveredAt: unixTime(row.Int64("delivered_at")),
		}
	}), nil
}

func (s *SQLStorage) PurgeDeliveryRecordsOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, oops.In("registry").With("age", age).Wrapf(apperrors.ErrInvalidInput, "retention age must be positive")
	}
	cutoff := s.now().Add(-age).Unix()
	return s.store.Delete(ctx, tableDeliveryRecords, store.Where(store.Lt("delivered_at", cutoff)))
}

func (s *SQLStorage) ListFeedSourcesWithLatestDelivery(ctx context.Context, tenantID *int64, limit int) ([]domain.LatestDelivery, error) {
	q := store.Query{
		Tables: []string{tableFeedSources, tableDeliveryRecords},
		Columns: []string{
			"feed_sources.tenant_id AS tenant_id",
			"feed_sources.name AS name",
			"feed_sources.url AS url",
			"feed_sources.channel_name AS channel_name",
			"feed_sources.channel_id AS channel_id",
			"feed_sources.enabled AS enabled",
			"MAX(delivery_records.delivered_at) AS latest_delivered_at",
		},
		Joins: []string{
			"feed_sources.tenant_id = delivery_records.tenant_id AND feed_sources.url = delivery_records.url",
		},
		GroupBy: []string{"feed_sources.tenant_id", "feed_sources.url"},
		OrderBy: []string{"latest_delivered_at DESC"},
		Limit:   limit,
	}
	if tenantID != nil {
		q.Where = store.Where(store.Eq("feed_sources.tenant_id", *tenantID))
	}

	rows, err := s.store.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row store.Row, _ int) domain.LatestDelivery {
		return domain.LatestDelivery{
			FeedSource:        feedSourceFromRow(row),
			LatestDeliveredAt: unixTime(row.Int64("latest_delivered_at")),
		}
	}), nil
}

func (s *SQLStorage) GetTenantChannel(ctx context.Context, tenantID int64) (int64, error) {
	return s.getTenantSetting(ctx, tableTenantChannels, "channel_id", tenantID)
}

func (s *SQLStorage) SetTenantChannel(ctx context.Context, tenantID, channelID int64) error {
	return s.setTenantSetting(ctx, tableTenantChannels, "channel_id", tenantID, channelID)
}

func (s *SQLStorage) GetTenantRole(ctx context.Context, tenantID int64) (int64, error) {
	return s.getTenantSetting(ctx, tableTenantRoles, "role_id", tenantID)
}

func (s *SQLStorage) SetTenantRole(ctx context.Context, tenantID, roleID int64) error {
	return s.setTenantSetting(ctx, tableTenantRoles, "role_id", tenantID, roleID)
}

func (s *SQLStorage) getTenantSetting(ctx context.Context, table, column string, tenantID int64) (int64, error) {
	rows, err := s.store.Select(ctx, store.Query{
		Tables:  []string{table},
		Columns: []string{column},
		Where:   store.Where(store.Eq("tenant_id", tenantID)),
		Limit:   1,
	})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, oops.In("registry").With("table", table, "tenant_id", tenantID).Wrap(apperrors.ErrNotFound)
	}
	return rows[0].Int64(column), nil
}

// setTenantSetting inserts the tenant row or, when it exists, updates it.
func (s *SQLStorage) setTenantSetting(ctx context.Context, table, column string, tenantID, value int64) error {
	err := s.store.Insert(ctx, table, store.Values{"tenant_id": tenantID, column: value})
	if err == nil || !apperrors.Is(err, apperrors.ErrRowExists) {
		return err
	}
	_, err = s.store.Update(ctx, table, store.Values{column: value}, store.Where(store.Eq("tenant_id", tenantID)))
	return err
}

func sourceFilter(tenantID int64, url string) store.Filter {
	return store.Where(store.Eq("tenant_id", tenantID), store.Eq("url", url))
}

func recordFilter(tenantID int64, url, title string) store.Filter {
	return sourceFilter(tenantID, url).And(store.Eq("title", title))
}

func feedSourceFromRow(row store.Row) domain.FeedSource {
	return domain.FeedSource{
		TenantID:    row.Int64("tenant_id"),
		Name:        row.String("name"),
		URL:         row.String("url"),
		ChannelName: row.String("channel_name"),
		ChannelID:   row.Int64("channel_id"),
		Enabled:     row.Bool("enabled"),
	}
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
