package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshetovitsme/rss-notify/internal/modules/feed/service"
	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example News</title>
  <link>https://example.com</link>
  <item>
    <title>Second</title>
    <link>https://example.com/2</link>
    <pubDate>Tue, 02 Jan 2024 10:00:00 +0000</pubDate>
  </item>
  <item>
    <title>First</title>
    <link>https://example.com/1</link>
    <pubDate>Mon, 01 Jan 2024 10:00:00 +0200</pubDate>
  </item>
  <item>
    <title>Undated</title>
    <link>https://example.com/undated</link>
  </item>
  <item>
    <link>https://example.com/untitled</link>
    <pubDate>Wed, 03 Jan 2024 10:00:00 +0000</pubDate>
  </item>
</channel>
</rss>`

func TestFetcherParsesFeed(t *testing.T) {
	var userAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := service.NewFetcher(srv.Client(), 5*time.Second, "rss-notify-test")
	feed, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "rss-notify-test", userAgent)
	assert.Equal(t, "Example News", feed.Title)
	require.Len(t, feed.Entries, 3, "undated entries are dropped")

	assert.Equal(t, "Second", feed.Entries[0].Title)
	assert.Equal(t, "https://example.com/2", feed.Entries[0].Link)
	assert.Equal(t, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC), feed.Entries[0].Published)

	assert.Equal(t, time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC), feed.Entries[1].Published)
	assert.Equal(t, time.UTC, feed.Entries[1].Published.Location())

	assert.Equal(t, "https://example.com/untitled", feed.Entries[2].Title, "link stands in for a missing title")
}

func TestFetcherFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non 2xx status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "gone", http.StatusGone)
			},
		},
		{
			name: "unparseable body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("this is not a feed"))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := service.NewFetcher(srv.Client(), 100*time.Millisecond, "")
			_, err := f.Fetch(context.Background(), srv.URL)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
		})
	}
}

func TestFetcherInvalidURL(t *testing.T) {
	f := service.NewFetcher(nil, time.Second, "")
	_, err := f.Fetch(context.Background(), "://bad")
	assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
}
