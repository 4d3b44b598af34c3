package http_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	feedService "github.com/reshetovitsme/rss-notify/internal/modules/feed/service"
	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	"github.com/reshetovitsme/rss-notify/internal/modules/registry/repository"
	"github.com/reshetovitsme/rss-notify/internal/shared/config"
	"github.com/reshetovitsme/rss-notify/internal/shared/metrics"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
	httpServer "github.com/reshetovitsme/rss-notify/internal/transport/http"
)

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

func newTestServer(t *testing.T, health httpServer.Pinger) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	ctx := context.Background()

	s, err := store.Open(ctx, store.Config{Dialect: store.DialectSQLite, DSN: filepath.Join(t.TempDir(), "http.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(ctx)
	require.NoError(t, err)

	reg := repository.NewSQLStorage(s)
	require.NoError(t, reg.AddFeedSource(ctx, domain.FeedSource{
		TenantID: 7, Name: "Go Blog", URL: "https://go.dev/blog/feed.atom", ChannelName: "go", Enabled: true,
	}))
	require.NoError(t, reg.AddDeliveryRecord(ctx, domain.DeliveryRecord{
		TenantID: 7, URL: "https://go.dev/blog/feed.atom", Title: "Go 1.23 is released", DeliveredAt: time.Date(2024, 8, 13, 0, 0, 0, 0, time.UTC),
	}))

	if health == nil {
		health = s
	}
	m := metrics.New()
	server := httpServer.New(&config.Config{HTTPPort: "0"}, feedService.New(reg), health, m)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestHealthReportsStoreOutage(t *testing.T) {
	ts, _ := newTestServer(t, pinger{err: errors.New("database is closed")})

	resp, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.JSONEq(t, `{"status":"unavailable"}`, body)
}

func TestHistoryFeed(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, body := get(t, ts.URL+"/tenants/7/history.rss")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/rss+xml; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, body, "<rss")
	assert.Contains(t, body, "Go 1.23 is released")
	assert.Contains(t, body, ts.URL+"/tenants/7/history.rss")

	resp, _ = get(t, ts.URL+"/tenants/abc/history.rss")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	ts, m := newTestServer(t, nil)
	m.CyclesTotal.Inc()

	resp, body := get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "rss_notify_cycles_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, _ := get(t, ts.URL+"/rss/123")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body := get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "history.rss")
}
