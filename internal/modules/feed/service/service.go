package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/feeds"
	"github.com/samber/lo"
	"github.com/samber/oops"

	registryDomain "github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	registryRepo "github.com/reshetovitsme/rss-notify/internal/modules/registry/repository"
)

const historyFeedSize = 50

// Service renders the delivery history of a tenant as a feed.
type Service struct {
	registry registryRepo.Registry
}

// New creates a new feed service
func New(registry registryRepo.Registry) *Service {
	return &Service{
		registry: registry,
	}
}

// GenerateHistoryFeed builds a feed of the latest deliveries of a tenant,
// newest first.
func (s *Service) GenerateHistoryFeed(ctx context.Context, tenantID int64, baseURL string) (*feeds.Feed, error) {
	records, err := s.registry.ListDeliveryRecords(ctx, tenantID, historyFeedSize)
	if err != nil {
		return nil, oops.With("tenant_id", tenantID, "context", "failed to get delivery records").Wrap(err)
	}

	sources, err := s.registry.ListFeedSources(ctx, &tenantID)
	if err != nil {
		return nil, oops.With("tenant_id", tenantID, "context", "failed to get feed sources").Wrap(err)
	}
	names := lo.SliceToMap(sources, func(f registryDomain.FeedSource) (string, string) {
		return f.URL, f.Name
	})

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Delivery history of tenant %d", tenantID),
		Link:        &feeds.Link{Href: fmt.Sprintf("%s/tenants/%d/history.rss", baseURL, tenantID)},
		Description: "Feed entries delivered to this tenant",
		Created:     time.Now().UTC(),
	}
	if len(records) > 0 {
		feed.Updated = records[0].DeliveredAt
	}

	feed.Items = lo.Map(records, func(r registryDomain.DeliveryRecord, _ int) *feeds.Item {
		return recordToFeedItem(r, names[r.URL])
	})
	return feed, nil
}

func recordToFeedItem(r registryDomain.DeliveryRecord, sourceName string) *feeds.Item {
	description := fmt.Sprintf("Delivered from %s", r.URL)
	if sourceName != "" {
		description = fmt.Sprintf("Delivered from %s (%s)", sourceName, r.URL)
	}

	return &feeds.Item{
		Title:       truncate(r.Title, 100),
		Link:        &feeds.Link{Href: r.URL},
		Description: description,
		Created:     r.DeliveredAt,
		Id:          fmt.Sprintf("%d|%s|%s", r.TenantID, r.URL, r.Title),
	}
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
