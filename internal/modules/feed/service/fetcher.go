package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/reshetovitsme/rss-notify/internal/modules/feed/domain"
	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
)

// Fetcher downloads and parses external feeds.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewFetcher creates a fetcher that gives up on a feed after timeout.
func NewFetcher(client *http.Client, timeout time.Duration, userAgent string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:    client,
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Fetch retrieves url and returns its entries. Every failure wraps
// errors.ErrFetchFailed.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*domain.ParsedFeed, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetchError(url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fetchError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fetchError(url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fetchError(url, err)
	}

	return normalize(url, parsed), nil
}

func normalize(url string, feed *gofeed.Feed) *domain.ParsedFeed {
	entries := lo.FilterMap(feed.Items, func(item *gofeed.Item, _ int) (domain.Entry, bool) {
		if item == nil {
			return domain.Entry{}, false
		}

		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published == nil {
			slog.Debug("Skipping feed entry without timestamp", "url", url, "title", item.Title)
			return domain.Entry{}, false
		}

		return domain.Entry{
			Title:     cmp.Or(item.Title, item.Link, item.GUID),
			Link:      cmp.Or(item.Link, item.GUID),
			Published: published.UTC().Truncate(time.Second),
		}, true
	})

	return &domain.ParsedFeed{
		Title:   feed.Title,
		Link:    feed.Link,
		Entries: entries,
	}
}

func fetchError(url string, err error) error {
	return oops.In("feed").Code("fetch_failed").With("url", url).Wrap(fmt.Errorf("%w: %w", apperrors.ErrFetchFailed, err))
}
