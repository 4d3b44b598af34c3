package repository

import (
	"context"
	"time"

	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
)

// Registry defines typed persistence for feed sources, delivery history and
// per-tenant settings. Errors of the underlying store are returned as is.
type Registry interface {
	AddFeedSource(ctx context.Context, source domain.FeedSource) error
	UpdateFeedSource(ctx context.Context, tenantID int64, url string, update domain.FeedSourceUpdate) (int64, error)
	DeleteFeedSource(ctx context.Context, tenantID int64, url string) (int64, error)
	// ListFeedSources returns the sources of one tenant, or of all tenants
	// when tenantID is nil.
	ListFeedSources(ctx context.Context, tenantID *int64) ([]domain.FeedSource, error)

	AddDeliveryRecord(ctx context.Context, record domain.DeliveryRecord) error
	UpdateDeliveryRecord(ctx context.Context, tenantID int64, url, title string, update domain.DeliveryRecordUpdate) (int64, error)
	DeleteDeliveryRecord(ctx context.Context, tenantID int64, url, title string) (int64, error)
	ListDeliveryRecords(ctx context.Context, tenantID int64, limit int) ([]domain.DeliveryRecord, error)
	PurgeDeliveryRecordsOlderThan(ctx context.Context, age time.Duration) (int64, error)
	// ListFeedSourcesWithLatestDelivery returns, per (tenant, url) with at
	// least one delivery, the newest delivered_at, newest first.
	ListFeedSourcesWithLatestDelivery(ctx context.Context, tenantID *int64, limit int) ([]domain.LatestDelivery, error)

	GetTenantChannel(ctx context.Context, tenantID int64) (int64, error)
	SetTenantChannel(ctx context.Context, tenantID, channelID int64) error
	GetTenantRole(ctx context.Context, tenantID int64) (int64, error)
	SetTenantRole(ctx context.Context, tenantID, roleID int64) error
}
