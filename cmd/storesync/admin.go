package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/storesync/internal/adapters/driven/auth"
	"github.com/custodia-labs/storesync/internal/adapters/driven/postgres"
	"github.com/custodia-labs/storesync/internal/adapters/driven/records"
	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// withApp runs fn against a connected app and the parsed --output format.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app, format outputFormat) error) error {
	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, format)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the coordination and record tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			dbConfig := postgres.DefaultConfig(cfg.Database.URL)
			db, err := postgres.Connect(ctx, dbConfig)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.InitSchema(ctx); err != nil {
				return err
			}

			recordDB, err := records.Open(records.DBConfig{DSN: cfg.Database.URL})
			if err != nil {
				return err
			}
			if err := records.NewStore(recordDB).AutoMigrate(ctx); err != nil {
				return err
			}

			logger.Info("schema up to date")
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Trigger on-demand syncs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "full <tenant>",
		Short: "Reset every checkpoint of a tenant and enqueue an initial run per entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				log, err := a.syncService().TriggerFullSync(ctx, args[0])
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), format, log,
					[]string{"LOG", "TENANT", "TYPE", "STATUS", "PENDING"},
					[][]string{{log.ID, log.TenantID, log.SyncType, string(log.Status), strconv.Itoa(log.PendingEntities)}})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "entity <tenant> <entity>",
		Short: "Enqueue an incremental run for one entity",
		Long: `Enqueue an incremental run for one entity of a tenant.
Entities: customers, products, orders.

The request is refused while the entity is running or while its circuit is
open; use "storesync reset <tenant> <entity>" to close the circuit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entity, err := domain.ParseEntityType(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				task, err := a.syncService().TriggerEntitySync(ctx, args[0], entity)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), format, task,
					[]string{"TASK", "TENANT", "ENTITY", "STATUS"},
					[][]string{{task.ID, task.TenantID, task.Payload[domain.PayloadEntityType], string(task.Status)}})
			})
		},
	})

	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tenant>",
		Short: "Show per-entity sync state and recent sync logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				report, err := a.syncService().GetStatus(ctx, args[0])
				if err != nil {
					return err
				}
				if format != outputTable {
					return printOutput(cmd.OutOrStdout(), format, report, nil, nil)
				}
				return printStatusTables(cmd.OutOrStdout(), report)
			})
		},
	}
}

func printStatusTables(w io.Writer, report *driving.SyncStatusReport) error {
	fmt.Fprintf(w, "Tenant: %s\nLast synced: %s\n\n", report.TenantID, formatTime(report.LastSyncedAt))

	headers := []string{"ENTITY", "STATUS", "LOCKED", "STALE", "CIRCUIT", "FAILURES", "CURSOR", "LAST ID", "LAST RUN", "TOTAL"}
	var rows [][]string
	for _, e := range report.Entities {
		cursor, lastID := "-", "-"
		if e.LastCursor != nil {
			cursor = *e.LastCursor
		}
		if e.LastSyncedID != nil {
			lastID = strconv.FormatInt(*e.LastSyncedID, 10)
		}
		circuit := "closed"
		if e.BreakerOpen {
			circuit = "open"
		}
		rows = append(rows, []string{
			string(e.EntityType),
			string(e.Status),
			formatBool(e.IsLocked),
			formatBool(e.LockStale),
			circuit,
			strconv.Itoa(e.ConsecutiveFailures),
			cursor,
			lastID,
			strconv.Itoa(e.LastRunRecords),
			strconv.FormatInt(e.TotalRecordsSynced, 10),
		})
	}
	if err := printTable(w, headers, rows); err != nil {
		return err
	}

	if len(report.RecentLogs) > 0 {
		fmt.Fprintln(w)
		rows = rows[:0]
		for _, l := range report.RecentLogs {
			rows = append(rows, []string{
				l.ID,
				l.SyncType,
				string(l.Status),
				strconv.FormatInt(l.RecordsProcessed, 10),
				formatTime(&l.StartedAt),
				formatTime(l.CompletedAt),
				orDash(l.ErrorMessage),
			})
		}
		if err := printTable(w, []string{"LOG", "TYPE", "STATUS", "RECORDS", "STARTED", "COMPLETED", "ERROR"}, rows); err != nil {
			return err
		}
	}

	if q := report.Queue; q != nil {
		fmt.Fprintf(w, "\nQueue: %d pending, %d processing, %d completed, %d failed\n",
			q.PendingCount, q.ProcessingCount, q.CompletedCount, q.FailedCount)
	}
	return nil
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tenant> [entity]",
		Short: "Clear failure counters so automated syncs resume",
		Long: `With an entity, clear its consecutive failure counter and close its circuit.
Without one, clear checkpoints and failures of every entity that is not held
by a live runner; the next run of each starts from scratch.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var entity domain.EntityType
			if len(args) == 2 {
				var err error
				if entity, err = domain.ParseEntityType(args[1]); err != nil {
					return err
				}
			}
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				svc := a.syncService()
				if entity != "" {
					if err := svc.ResetEntity(ctx, args[0], entity); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reset %s/%s\n", args[0], entity)
					return nil
				}
				n, err := svc.ResetAll(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d entities of %s\n", n, args[0])
				return nil
			})
		},
	}
}

func newTenantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "Manage registered stores",
	}
	cmd.AddCommand(newTenantsAddCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				tenants, err := a.tenantService().List(ctx)
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(tenants))
				for _, t := range tenants {
					rows = append(rows, []string{t.ID, t.Name, t.ShopDomain, formatBool(t.Active), formatTime(t.LastSyncedAt)})
				}
				return printOutput(cmd.OutOrStdout(), format, tenants,
					[]string{"ID", "NAME", "SHOP", "ACTIVE", "LAST SYNCED"}, rows)
			})
		},
	})
	cmd.AddCommand(newTenantsSetActiveCmd("enable", true))
	cmd.AddCommand(newTenantsSetActiveCmd("disable", false))
	return cmd
}

func newTenantsAddCmd() *cobra.Command {
	var req domain.CreateTenantRequest

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a store and seed its sync state",
		Long: `Register a store. The access token is encrypted before it is stored.
Pass --access-token - to read it from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.AccessToken == "-" {
				token, err := readLine(cmd.InOrStdin())
				if err != nil {
					return err
				}
				req.AccessToken = token
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				tenant, err := a.tenantService().Create(ctx, req)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), format, tenant,
					[]string{"ID", "NAME", "SHOP", "ACTIVE"},
					[][]string{{tenant.ID, tenant.Name, tenant.ShopDomain, formatBool(tenant.Active)}})
			})
		},
	}

	cmd.Flags().StringVar(&req.ID, "id", "", "Tenant ID")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&req.ShopDomain, "shop-domain", "", "Store domain, e.g. acme.myshopify.com")
	cmd.Flags().StringVar(&req.AccessToken, "access-token", "", "Store API access token, or - for stdin")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("shop-domain")
	_ = cmd.MarkFlagRequired("access-token")

	return cmd
}

func newTenantsSetActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <tenant>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " scheduled syncs for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				if err := a.tenantService().SetActive(ctx, args[0], active); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd %s\n", use, args[0])
				return nil
			})
		},
	}
}

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and prune the task queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show task counts by state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				stats, err := a.taskQueue.Stats(ctx)
				if err != nil {
					return err
				}
				return printOutput(cmd.OutOrStdout(), format, stats,
					[]string{"PENDING", "PROCESSING", "COMPLETED", "FAILED", "OLDEST PENDING"},
					[][]string{{
						strconv.FormatInt(stats.PendingCount, 10),
						strconv.FormatInt(stats.ProcessingCount, 10),
						strconv.FormatInt(stats.CompletedCount, 10),
						strconv.FormatInt(stats.FailedCount, 10),
						(time.Duration(stats.OldestPendingAge) * time.Second).String(),
					}})
			})
		},
	})

	var olderThan time.Duration
	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed and failed tasks older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < time.Second {
				return fmt.Errorf("--older-than must be at least 1s, got %s", olderThan)
			}
			return withApp(cmd, func(ctx context.Context, a *app, format outputFormat) error {
				n, err := a.taskQueue.PurgeTasks(ctx, int(olderThan/time.Second))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %d tasks\n", n)
				return nil
			})
		},
	}
	purge.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "Minimum age of finished tasks to delete")
	cmd.AddCommand(purge)

	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for auth.admin_password_hash",
		Long: `Print a bcrypt hash for auth.admin_password_hash.
Without an argument the password is read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				var err error
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if password == "" {
				return errors.New("password cannot be empty")
			}

			hash, err := auth.NewAdapter("").HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

// readLine reads a single trimmed line, tolerating a missing final newline.
func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(line), nil
}
