package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/samber/do/v2"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	deliveryService "github.com/reshetovitsme/rss-notify/internal/modules/delivery/service"
	"github.com/reshetovitsme/rss-notify/internal/modules/registry/domain"
	registryRepo "github.com/reshetovitsme/rss-notify/internal/modules/registry/repository"
	registryService "github.com/reshetovitsme/rss-notify/internal/modules/registry/service"
	"github.com/reshetovitsme/rss-notify/internal/shared/config"
	"github.com/reshetovitsme/rss-notify/internal/shared/store"
)

func tenantFlag(required bool) *cli.Int64Flag {
	return &cli.Int64Flag{
		Name:     "tenant",
		Aliases:  []string{"t"},
		Usage:    "Tenant id (Discord guild id or Telegram chat id)",
		Required: required,
	}
}

func urlFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "url",
		Aliases:  []string{"u"},
		Usage:    "Feed url",
		Required: true,
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Runs database migrations on the configured database. Will create the SQLite file if it does not exist.`,
		Action: func(c *cli.Context) error {
			return withInjector(c, func(ctx context.Context, injector do.Injector) error {
				s, err := do.Invoke[*store.Store](injector)
				if err != nil {
					return err
				}
				version, err := s.Migrate(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Database migrated to version %d (%s)\n", version, s.Dialect())
				return nil
			})
		},
	}
}

func cycleCmd() *cli.Command {
	return &cli.Command{
		Name:  "cycle",
		Usage: "Run a single delivery cycle",
		Action: func(c *cli.Context) error {
			return withInjector(c, func(ctx context.Context, injector do.Injector) error {
				delivery, err := do.Invoke[*deliveryService.Service](injector)
				if err != nil {
					return err
				}
				report, err := delivery.RunCycle(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Cycle %s: %d sources, %d disabled, %d fetch failures, %d unresolved, %d delivered in %s\n",
					report.CycleID, report.Sources, report.Disabled, report.FetchFailures, report.Unresolved, report.Delivered, report.Duration)
				return nil
			})
		},
	}
}

func purgeCmd() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Delete delivery records older than the retention age",
		Action: func(c *cli.Context) error {
			return withInjector(c, func(ctx context.Context, injector do.Injector) error {
				cfg := do.MustInvoke[*config.Config](injector)
				registry, err := do.Invoke[registryRepo.Registry](injector)
				if err != nil {
					return err
				}
				purged, err := registry.PurgeDeliveryRecordsOlderThan(ctx, cfg.RetentionAge)
				if err != nil {
					return err
				}
				fmt.Printf("Purged %d delivery records older than %s\n", purged, cfg.RetentionAge)
				return nil
			})
		},
	}
}

// withRegistry runs fn with the registry service.
func withRegistry(c *cli.Context, fn func(ctx context.Context, registry *registryService.Service) error) error {
	return withInjector(c, func(ctx context.Context, injector do.Injector) error {
		registry, err := do.Invoke[*registryService.Service](injector)
		if err != nil {
			return err
		}
		return fn(ctx, registry)
	})
}

func feedCmd() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Manage feed sources",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a feed source",
				Flags: []cli.Flag{
					tenantFlag(true),
					urlFlag(),
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Display name", Required: true},
					&cli.StringFlag{Name: "channel", Usage: "Delivery channel name, derived from the name when empty"},
					&cli.BoolFlag{Name: "disabled", Usage: "Register without delivering"},
				},
				Action: func(c *cli.Context) error {
					return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
						err := registry.AddFeedSource(ctx, domain.FeedSource{
							TenantID:    c.Int64("tenant"),
							Name:        c.String("name"),
							URL:         c.String("url"),
							ChannelName: c.String("channel"),
							Enabled:     !c.Bool("disabled"),
						})
						if err != nil {
							return err
						}
						fmt.Println("Feed source added")
						return nil
					})
				},
			},
			{
				Name:  "update",
				Usage: "Change a feed source",
				Flags: []cli.Flag{
					tenantFlag(true),
					urlFlag(),
					&cli.StringFlag{Name: "name", Usage: "New display name"},
					&cli.StringFlag{Name: "new-url", Usage: "New feed url, history is kept"},
					&cli.StringFlag{Name: "channel", Usage: "New delivery channel name"},
					&cli.Int64Flag{Name: "channel-id", Usage: "New delivery channel id"},
				},
				Action: func(c *cli.Context) error {
					var update domain.FeedSourceUpdate
					if c.IsSet("name") {
						update.Name = lo.ToPtr(c.String("name"))
					}
					if c.IsSet("new-url") {
						update.URL = lo.ToPtr(c.String("new-url"))
					}
					if c.IsSet("channel") {
						update.ChannelName = lo.ToPtr(c.String("channel"))
					}
					if c.IsSet("channel-id") {
						update.ChannelID = lo.ToPtr(c.Int64("channel-id"))
					}
					return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
						n, err := registry.UpdateFeedSource(ctx, c.Int64("tenant"), c.String("url"), update)
						if err != nil {
							return err
						}
						return reportChanged(n, "updated")
					})
				},
			},
			{
				Name:  "delete",
				Usage: "Remove a feed source and its delivery history",
				Flags: []cli.Flag{tenantFlag(true), urlFlag()},
				Action: func(c *cli.Context) error {
					return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
						n, err := registry.DeleteFeedSource(ctx, c.Int64("tenant"), c.String("url"))
						if err != nil {
							return err
						}
						return reportChanged(n, "deleted")
					})
				},
			},
			{
				Name:  "list",
				Usage: "List feed sources",
				Flags: []cli.Flag{tenantFlag(false)},
				Action: func(c *cli.Context) error {
					return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
						var tenantID *int64
						if c.IsSet("tenant") {
							tenantID = lo.ToPtr(c.Int64("tenant"))
						}
						sources, err := registry.ListFeedSources(ctx, tenantID)
						if err != nil {
							return err
						}
						return printSources(sources)
					})
				},
			},
			toggleCmd("enable", true),
			toggleCmd("disable", false),
			{
				Name:      "import",
				Usage:     "Add or update feed sources from a YAML file",
				ArgsUsage: "<file>",
				Description: `The file lists sources under a top level "feeds" key:

		feeds:
		  - tenant_id: 123
		    name: Go Blog
		    url: https://go.dev/blog/feed.atom
		    channel_name: go-blog
		    enabled: true`,
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("import expects exactly one file", 2)
					}
					return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
						result, err := registry.ImportFile(ctx, c.Args().First())
						if err != nil {
							return err
						}
						fmt.Printf("Imported feed sources: %d added, %d updated\n", result.Added, result.Updated)
						return nil
					})
				},
			},
		},
	}
}

func toggleCmd(name string, enabled bool) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: fmt.Sprintf("%s delivery for a feed source", lo.Capitalize(name)),
		Flags: []cli.Flag{tenantFlag(true), urlFlag()},
		Action: func(c *cli.Context) error {
			return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
				n, err := registry.SetEnabled(ctx, c.Int64("tenant"), c.String("url"), enabled)
				if err != nil {
					return err
				}
				return reportChanged(n, name+"d")
			})
		},
	}
}

func tenantCmd() *cli.Command {
	setting := func(name, usage string, get func(*registryService.Service, context.Context, int64) (int64, error), set func(*registryService.Service, context.Context, int64, int64) error) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Subcommands: []*cli.Command{
				{
					Name:  "get",
					Flags: []cli.Flag{tenantFlag(true)},
					Action: func(c *cli.Context) error {
						return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
							id, err := get(registry, ctx, c.Int64("tenant"))
							if err != nil {
								return err
							}
							fmt.Println(id)
							return nil
						})
					},
				},
				{
					Name:  "set",
					Flags: []cli.Flag{tenantFlag(true), &cli.Int64Flag{Name: "id", Required: true}},
					Action: func(c *cli.Context) error {
						return withRegistry(c, func(ctx context.Context, registry *registryService.Service) error {
							return set(registry, ctx, c.Int64("tenant"), c.Int64("id"))
						})
					},
				},
			},
		}
	}

	return &cli.Command{
		Name:  "tenant",
		Usage: "Manage tenant settings",
		Subcommands: []*cli.Command{
			setting("channel", "Default notification channel",
				(*registryService.Service).TenantChannel,
				(*registryService.Service).SetTenantChannel,
			),
			setting("role", "Role allowed to configure the tenant",
				(*registryService.Service).TenantRole,
				(*registryService.Service).SetTenantRole,
			),
		},
	}
}

func reportChanged(n int64, verb string) error {
	if n == 0 {
		slog.Warn("No feed source matched")
		return cli.Exit("no matching feed source", 1)
	}
	fmt.Printf("Feed source %s\n", verb)
	return nil
}

func printSources(sources []domain.FeedSource) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tNAME\tURL\tCHANNEL\tCHANNEL ID\tENABLED")
	for _, s := range sources {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%t\n", s.TenantID, s.Name, s.URL, s.ChannelName, s.ChannelID, s.Enabled)
	}
	return w.Flush()
}
