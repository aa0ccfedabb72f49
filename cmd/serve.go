package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plinthdb/plinth/internal/api"
	"github.com/plinthdb/plinth/internal/cache"
	"github.com/plinthdb/plinth/internal/config"
	"github.com/plinthdb/plinth/internal/dsl"
	"github.com/plinthdb/plinth/internal/evolution"
	"github.com/plinthdb/plinth/internal/logging"
	"github.com/plinthdb/plinth/internal/queue"
	"github.com/plinthdb/plinth/internal/stats"
	"github.com/plinthdb/plinth/internal/tenant"
	"github.com/plinthdb/plinth/internal/ws"
)

var serveAddr string
var serveDevMode bool
var serveWithWorker bool

// tenantPools adapts the tenant pool manager to the API's query
// surface.
type tenantPools struct{ m *tenant.Manager }

func (p tenantPools) Pool(ctx context.Context, projectID string) (dsl.Beginner, error) {
	return p.m.Pool(ctx, projectID)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the control-plane HTTP API. The API accepts schema change
requests, exposes job and collection status, and streams job events to
websocket subscribers. Schema jobs are executed by plinth worker
processes, not by the server itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err := logging.Setup(effectiveLogLevel(cfg), cfg.Logging.Directory)
		if err != nil {
			return fmt.Errorf("setting up logging: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := connectMetadata(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close(context.Background())

		q := queue.New(store.Client(), cfg.Metadata.Database)
		q.SetMaxAttempts(cfg.Worker.MaxAttempts)

		hub := ws.NewHub(logger)
		hub.SetStateProvider(func() ([]byte, error) {
			st, err := q.CollectStats(context.Background())
			if err != nil {
				return nil, err
			}
			return json.Marshal(st)
		})
		go hub.Run()

		// Push queue depth to connected dashboards.
		go func() {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
				if hub.ClientCount() == 0 {
					continue
				}
				st, err := q.CollectStats(context.Background())
				if err != nil {
					hub.BroadcastError("collecting queue stats: " + err.Error())
					continue
				}
				hub.BroadcastQueueStats(st)
			}
		}()

		tenants := tenant.NewManager(cfg.Storage.DSN, int32(cfg.Storage.MaxConnections), logger)
		defer tenants.Close()

		// Single-process mode: run an embedded worker so job events
		// reach websocket subscribers without a separate process.
		if serveWithWorker {
			usage := stats.NewAggregator(usageFlusher(store), logger)
			go usage.Run(ctx, 30*time.Second)

			w := queue.NewWorker(q, cfg.Worker.Concurrency, logger)
			eng := evolution.New(store, tenantLeaser{tenants}, cache.NewMemory(5*time.Minute), usage, logger)
			eng.Register(w)
			w.OnEvent(hub.JobObserver())
			go w.Run(ctx)
		}

		addr := cfg.Server.Address
		if serveAddr != "" {
			addr = serveAddr
		}

		srv := api.New(q, store, logger, addr,
			api.WithHub(hub),
			api.WithTenantDB(tenantPools{tenants}),
			api.WithDevMode(serveDevMode),
		)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		fmt.Fprintf(os.Stderr, "Plinth API listening on %s\n", addr)

		select {
		case err := <-errCh:
			if err != nil && err != http.ErrServerClosed {
				return err
			}
		case <-ctx.Done():
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config, default :8080)")
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "enable CORS for development mode")
	serveCmd.Flags().BoolVar(&serveWithWorker, "with-worker", false, "run an embedded schema job worker in this process")
	rootCmd.AddCommand(serveCmd)
}
