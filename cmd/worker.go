package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plinthdb/plinth/internal/audit"
	"github.com/plinthdb/plinth/internal/cache"
	"github.com/plinthdb/plinth/internal/config"
	"github.com/plinthdb/plinth/internal/evolution"
	"github.com/plinthdb/plinth/internal/lock"
	"github.com/plinthdb/plinth/internal/logging"
	"github.com/plinthdb/plinth/internal/metadata"
	"github.com/plinthdb/plinth/internal/queue"
	"github.com/plinthdb/plinth/internal/stats"
	"github.com/plinthdb/plinth/internal/teardown"
	"github.com/plinthdb/plinth/internal/tenant"
)

var workerSweepInterval time.Duration

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start a schema job worker",
	Long: `Start a worker that leases schema jobs from the queue and applies
them to tenant databases: column and relationship DDL for attributes,
index builds and drops, and collection teardown. Also runs the
periodic sweeps (audit retention, expired sessions).

Multiple workers may share one queue; the lease protocol guarantees a
job is only processed by one worker at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := logging.Setup(effectiveLogLevel(cfg), cfg.Logging.Directory)
		if err != nil {
			return fmt.Errorf("setting up logging: %w", err)
		}

		if err := lock.Acquire(cfg.Worker.LockPath); err != nil {
			return err
		}
		defer lock.Release(cfg.Worker.LockPath)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := connectMetadata(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		tenants := tenant.NewManager(cfg.Storage.DSN, int32(cfg.Storage.MaxConnections), logger)
		defer tenants.Close()

		usage := stats.NewAggregator(usageFlusher(store), logger)
		go usage.Run(ctx, 30*time.Second)

		q := queue.New(store.Client(), cfg.Metadata.Database)
		w := queue.NewWorker(q, cfg.Worker.Concurrency, logger)

		eng := evolution.New(store, tenantLeaser{tenants}, cache.NewMemory(5*time.Minute), usage, logger)
		eng.Register(w)

		auditor := audit.New(store, queue.NewID, logger)
		sweeper := teardown.New(store, usage, logger)
		go runSweeps(ctx, cfg, store, auditor, sweeper, logger)

		fmt.Fprintf(os.Stderr, "Plinth worker started (concurrency %d)\n", cfg.Worker.Concurrency)
		w.Run(ctx)

		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	workerCmd.Flags().DurationVar(&workerSweepInterval, "sweep-interval", time.Hour, "how often retention sweeps run")
	rootCmd.AddCommand(workerCmd)
}

// tenantLeaser adapts the pool manager to the engine's DDL interface.
type tenantLeaser struct {
	m *tenant.Manager
}

func (l tenantLeaser) Lease(ctx context.Context, projectID string) (evolution.Conn, func(), error) {
	conn, release, err := l.m.Lease(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return conn, release, nil
}

func usageFlusher(store *metadata.Store) stats.Flusher {
	return func(ctx context.Context, deltas []stats.Delta) error {
		for _, d := range deltas {
			if err := store.IncrementUsage(ctx, d.ProjectID, d.Key, d.Value); err != nil {
				return err
			}
		}
		return nil
	}
}

// runSweeps prunes expired sessions and out-of-retention audit history
// on a fixed interval until the context is cancelled.
func runSweeps(ctx context.Context, cfg *config.Config, store *metadata.Store, auditor *audit.Auditor, sweeper *teardown.Runner, logger *slog.Logger) {
	retain := time.Duration(cfg.Retention.AuditDays) * 24 * time.Hour

	ticker := time.NewTicker(workerSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := sweeper.SweepExpiredSessions(ctx, time.Now().UTC()); err != nil {
			logger.Warn("session sweep failed", "error", err)
		} else if n > 0 {
			logger.Info("swept expired sessions", "count", n)
		}

		projects, err := store.AuditedProjects(ctx)
		if err != nil {
			logger.Warn("listing audited projects failed", "error", err)
			continue
		}
		for _, p := range projects {
			if n, err := auditor.Sweep(ctx, p, retain); err != nil {
				logger.Warn("audit sweep failed", "project", p, "error", err)
			} else if n > 0 {
				logger.Info("swept audit history", "project", p, "count", n)
			}
		}
	}
}
