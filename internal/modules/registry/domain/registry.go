package domain

import "time"

// FeedSource is a registered feed of a tenant together with its delivery
// target. (TenantID, URL) is unique.
type FeedSource struct {
	TenantID    int64  `json:"tenant_id" yaml:"tenant_id"`
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	ChannelName string `json:"channel_name" yaml:"channel_name"`
	ChannelID   int64  `json:"channel_id" yaml:"channel_id"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// Key returns the natural key of the source.
func (f FeedSource) Key() SourceKey {
	return SourceKey{TenantID: f.TenantID, URL: f.URL}
}

// FeedSourceUpdate carries the fields to change; nil fields are left alone.
type FeedSourceUpdate struct {
	Name        *string
	URL         *string
	ChannelName *string
	ChannelID   *int64
	Enabled     *bool
}

// IsEmpty reports whether the update changes nothing.
func (u FeedSourceUpdate) IsEmpty() bool {
	return u.Name == nil && u.URL == nil && u.ChannelName == nil && u.ChannelID == nil && u.Enabled == nil
}

// SourceKey identifies a feed source and the delivery history attached to it.
type SourceKey struct {
	TenantID int64
	URL      string
}

// DeliveryRecord proves an entry titled Title of the feed at URL was
// delivered to the tenant. DeliveredAt is the entry's published time.
type DeliveryRecord struct {
	TenantID    int64     `json:"tenant_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// DeliveryRecordUpdate carries the fields to change on a delivery record.
type DeliveryRecordUpdate struct {
	DeliveredAt *time.Time
}

// LatestDelivery is a feed source with the newest delivery recorded for it.
type LatestDelivery struct {
	FeedSource
	LatestDeliveredAt time.Time
}

// TenantChannel is the default notification channel of a tenant.
type TenantChannel struct {
	TenantID  int64
	ChannelID int64
}

// TenantRole is the role allowed to configure a tenant.
type TenantRole struct {
	TenantID int64
	RoleID   int64
}
