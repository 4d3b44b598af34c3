package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"
	"github.com/urfave/cli/v2"

	"github.com/reshetovitsme/rss-notify/internal/di"
	schedulerService "github.com/reshetovitsme/rss-notify/internal/modules/scheduler/service"
	"github.com/reshetovitsme/rss-notify/internal/shared/config"
	"github.com/reshetovitsme/rss-notify/internal/shared/logging"
	"github.com/reshetovitsme/rss-notify/internal/shared/platform"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
	httpServer "github.com/reshetovitsme/rss-notify/internal/transport/http"
)

func main() {
	slog.SetDefault(logging.New(os.Stdout, os.Stderr, "info", false))

	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "rss-notify",
		Usage: "Deliver new feed entries to Discord and Telegram channels",
		Description: `Polls registered RSS and Atom feeds and posts every new entry once,
		oldest first, to the channel configured for the feed.

		Settings are read from config.{yaml,yml,json,toml} in the working
		directory or the file given with --config, and can be overridden with
		environment variables, e.g.:

		discord_token => RSS_NOTIFY_DISCORD_TOKEN=...
		database_dsn => RSS_NOTIFY_DATABASE_DSN=./data/rss-notify.db
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the config file",
				EnvVars: []string{"RSS_NOTIFY_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			cycleCmd(),
			purgeCmd(),
			feedCmd(),
			tenantCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

// withInjector builds the container, switches logging to the configured
// level and shuts the created services down after fn returns.
func withInjector(c *cli.Context, fn func(ctx context.Context, injector do.Injector) error) error {
	injector, err := di.Setup(c.String("config"))
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := di.Shutdown(injector); shutdownErr != nil {
			slog.Error("Error during shutdown", "error", shutdownErr)
		}
	}()

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(os.Stdout, os.Stderr, cfg.LogLevel, cfg.StructuredLogs()))

	return fn(c.Context, injector)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and the HTTP server",
		Description: `Applies migrations, connects to the messaging platform, seeds tenant
		defaults and delivers new feed entries every poll interval until
		interrupted.`,
		Action: func(c *cli.Context) error {
			return withInjector(c, func(ctx context.Context, injector do.Injector) error {
				ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer cancel()

				s, err := do.Invoke[*store.Store](injector)
				if err != nil {
					return err
				}
				version, err := s.Migrate(ctx)
				if err != nil {
					return err
				}
				slog.Info("Database schema ready", "version", version, "dialect", s.Dialect())

				if _, err := do.Invoke[platform.Platform](injector); err != nil {
					return err
				}

				scheduler := do.MustInvoke[*schedulerService.Service](injector)
				scheduler.Start(ctx)

				server := do.MustInvoke[*httpServer.Server](injector)
				serverErr := make(chan error, 1)
				go func() {
					serverErr <- server.Start()
				}()

				cfg := do.MustInvoke[*config.Config](injector)
				slog.Info("Application started", "platform", cfg.Platform, "port", cfg.HTTPPort)
				slog.Info("Press Ctrl+C to stop")

				select {
				case <-ctx.Done():
					if scheduler.Running() {
						slog.Info("Waiting for the running delivery cycle to finish")
					}
					slog.Info("Shutting down...")
					return nil
				case err := <-serverErr:
					return err
				}
			})
		},
	}
}
