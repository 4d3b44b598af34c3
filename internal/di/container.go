package di

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/samber/do/v2"
	"github.com/samber/oops"

	deliveryService "github.com/reshetovitsme/rss-notify/internal/modules/delivery/service"
	feedService "github.com/reshetovitsme/rss-notify/internal/modules/feed/service"
	registryRepo "github.com/reshetovitsme/rss-notify/internal/modules/registry/repository"
	registryService "github.com/reshetovitsme/rss-notify/internal/modules/registry/service"
	schedulerService "github.com/reshetovitsme/rss-notify/internal/modules/scheduler/service"
	"github.com/reshetovitsme/rss-notify/internal/shared/config"
	"github.com/reshetovitsme/rss-notify/internal/shared/metrics"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
	"github.com/reshetovitsme/rss-notify/internal/transport/discord"
	httpServer "github.com/reshetovitsme/rss-notify/internal/transport/http"
	"github.com/reshetovitsme/rss-notify/internal/transport/telegram"
)

const platformReadyTimeout = 30 * time.Second

// hooks collects cleanup functions of the services that were created, so
// Shutdown never instantiates anything.
type hooks struct {
	mu  sync.Mutex
	fns []hook
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

func (h *hooks) add(name string, fn func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, hook{name: name, fn: fn})
}

// Setup initializes the dependency injection container. configPath may be
// empty to search the working directory.
func Setup(configPath string) (do.Injector, error) {
	injector := do.New()
	do.ProvideValue(injector, &hooks{})

	// Register Config
	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, oops.With("context", "failed to load config").Wrap(err)
		}
		return cfg, nil
	})

	// Register Metrics
	do.Provide(injector, func(i do.Injector) (*metrics.Metrics, error) {
		return metrics.New(), nil
	})

	// Register Store
	do.Provide(injector, func(i do.Injector) (*store.Store, error) {
		cfg := do.MustInvoke[*config.Config](i)

		if cfg.Dialect() == store.DialectSQLite {
			if err := ensureDataDir(cfg.DatabaseDSN); err != nil {
				return nil, oops.With("database_dsn", cfg.DatabaseDSN, "context", "failed to create data directory").Wrap(err)
			}
		}

		s, err := store.Open(context.Background(), store.Config{
			Dialect:         cfg.Dialect(),
			DSN:             cfg.DatabaseDSN,
			ConnectAttempts: cfg.ConnectAttempts,
		})
		if err != nil {
			return nil, oops.With("database_driver", cfg.DatabaseDriver, "context", "failed to open store").Wrap(err)
		}
		do.MustInvoke[*hooks](i).add("store", func(context.Context) error { return s.Close() })
		return s, nil
	})

	// Register Feed Registry
	do.Provide(injector, func(i do.Injector) (registryRepo.Registry, error) {
		return registryRepo.NewSQLStorage(do.MustInvoke[*store.Store](i)), nil
	})

	// Register Registry Service
	do.Provide(injector, func(i do.Injector) (*registryService.Service, error) {
		return registryService.New(do.MustInvoke[registryRepo.Registry](i)), nil
	})

	// Register Feed Fetcher
	do.Provide(injector, func(i do.Injector) (*feedService.Fetcher, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return feedService.NewFetcher(&http.Client{}, cfg.FetchTimeout, cfg.UserAgent), nil
	})

	// Register Feed Service
	do.Provide(injector, func(i do.Injector) (*feedService.Service, error) {
		return feedService.New(do.MustInvoke[registryRepo.Registry](i)), nil
	})

	// Register Platform
	do.Provide(injector, func(i do.Injector) (platform.Platform, error) {
		cfg := do.MustInvoke[*config.Config](i)
		if err := cfg.ValidatePlatform(); err != nil {
			return nil, err
		}
		registry := do.MustInvoke[*registryService.Service](i)

		ctx, cancel := context.WithTimeout(context.Background(), platformReadyTimeout)
		defer cancel()

		switch cfg.Platform {
		case config.PlatformTelegram:
			p, err := telegram.New(cfg.TelegramBotToken, cfg.TelegramChats)
			if err != nil {
				return nil, err
			}
			trackTenants(ctx, registry, p)
			return p, nil
		default:
			p, err := discord.New(cfg.DiscordToken)
			if err != nil {
				return nil, err
			}
			trackTenants(ctx, registry, p)
			if err := p.Open(ctx); err != nil {
				_ = p.Close()
				return nil, err
			}
			do.MustInvoke[*hooks](i).add("discord", func(context.Context) error { return p.Close() })
			return p, nil
		}
	})

	// Register Delivery Service
	do.Provide(injector, func(i do.Injector) (*deliveryService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return deliveryService.New(
			do.MustInvoke[registryRepo.Registry](i),
			do.MustInvoke[*feedService.Fetcher](i),
			do.MustInvoke[platform.Platform](i),
			do.MustInvoke[*metrics.Metrics](i),
			deliveryService.Options{
				CategoryName:   cfg.CategoryName,
				LookbackMonths: cfg.LookbackMonths,
				RetentionAge:   cfg.RetentionAge,
			},
		), nil
	})

	// Register Scheduler
	do.Provide(injector, func(i do.Injector) (*schedulerService.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		scheduler := schedulerService.New(
			do.MustInvoke[*deliveryService.Service](i),
			do.MustInvoke[platform.Platform](i),
			do.MustInvoke[registryRepo.Registry](i),
			do.MustInvoke[*metrics.Metrics](i),
			schedulerService.Options{
				PollInterval:      cfg.PollInterval,
				LivenessInterval:  cfg.LivenessInterval,
				RetentionInterval: cfg.RetentionInterval,
				RetentionAge:      cfg.RetentionAge,
			},
		)
		do.MustInvoke[*hooks](i).add("scheduler", func(context.Context) error {
			scheduler.Stop()
			return nil
		})
		return scheduler, nil
	})

	// Register HTTP Server
	do.Provide(injector, func(i do.Injector) (*httpServer.Server, error) {
		server := httpServer.New(
			do.MustInvoke[*config.Config](i),
			do.MustInvoke[*feedService.Service](i),
			do.MustInvoke[*store.Store](i),
			do.MustInvoke[*metrics.Metrics](i),
		)
		server.SetLogger(slog.Default())
		do.MustInvoke[*hooks](i).add("http-server", server.Shutdown)
		return server, nil
	})

	return injector, nil
}

// Shutdown stops the created services in reverse creation order.
func Shutdown(injector do.Injector) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	h := do.MustInvoke[*hooks](injector)
	h.mu.Lock()
	fns := append([]hook(nil), h.fns...)
	h.mu.Unlock()

	var errs []error
	for idx := len(fns) - 1; idx >= 0; idx-- {
		if err := fns[idx].fn(ctx); err != nil {
			errs = append(errs, oops.With("service", fns[idx].name).Wrap(err))
		}
	}
	return errors.Join(errs...)
}

func trackTenants(ctx context.Context, registry *registryService.Service, p platform.Platform) {
	if err := registry.TrackTenants(ctx, p); err != nil {
		slog.Error("Failed to seed tenant settings", "error", err)
	}
}

func ensureDataDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
