package di_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reshetovitsme/rss-notify/internal/di"
	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	registryService "github.com/reshetovitsme/rss-notify/internal/modules/registry/service"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
	httpServer "github.com/reshetovitsme/rss-notify/internal/transport/http"
)

func TestSetupWiresStoreAndRegistry(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "nested", "rss-notify.db")
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("database_dsn: %s\n", dsn)), 0o600))

	injector, err := di.Setup(path)
	require.NoError(t, err)

	ctx := context.Background()
	s := do.MustInvoke[*store.Store](injector)
	_, err = s.Migrate(ctx)
	require.NoError(t, err)

	registry := do.MustInvoke[*registryService.Service](injector)
	require.NoError(t, registry.AddFeedSource(ctx, domain.FeedSource{
		TenantID: 1, Name: "Go Blog", URL: "https://go.dev/blog/feed.atom", Enabled: true,
	}))

	_ = do.MustInvoke[*httpServer.Server](injector)

	require.NoError(t, di.Shutdown(injector))
	assert.FileExists(t, dsn)
	assert.Error(t, s.Ping(ctx), "store is closed by shutdown")
}

func TestPlatformRequiresToken(t *testing.T) {
	t.Setenv("RSS_NOTIFY_DISCORD_TOKEN", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("database_dsn: %s\n", filepath.Join(dir, "db.sqlite"))), 0o600))

	injector, err := di.Setup(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = di.Shutdown(injector) })

	_, err = do.Invoke[platform.Platform](injector)
	assert.Error(t, err)
}
