package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"pulsecore/internal/admission"
	"pulsecore/internal/adminhttp"
	"pulsecore/internal/audit"
	"pulsecore/internal/audit/sqliteaudit"
	"pulsecore/internal/authctx"
	"pulsecore/internal/clock"
	"pulsecore/internal/configx"
	"pulsecore/internal/dlq"
	"pulsecore/internal/dlq/sqlitedlq"
	"pulsecore/internal/enhancer/premium"
	"pulsecore/internal/ingest"
	"pulsecore/internal/ingest/sqliteingest"
	"pulsecore/internal/ledger"
	"pulsecore/internal/ledger/pgledger"
	"pulsecore/internal/orchestrator"
	"pulsecore/internal/stream"
	"pulsecore/internal/telemetry/health"
	"pulsecore/internal/telemetry/logctx"
	"pulsecore/internal/telemetry/metrics"
	"pulsecore/internal/telemetry/tracing"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline orchestrator and the operator admin HTTP surface",
		RunE:  runServe,
	}

	cmd.Flags().Int("worker-concurrency", 0, "override the configured worker pool size (0 = use config)")
	cmd.Flags().Bool("dry-run", false, "build the full component graph and exit without running the orchestrator")
	cmd.Flags().String("storage", "memory", "ingest/dlq/audit backend: memory or sqlite")
	cmd.Flags().String("data-dir", "./data", "directory for sqlite files when --storage=sqlite")
	cmd.Flags().String("ledger-dsn", "", "Postgres DSN for the budget ledger (empty = in-memory ledger)")
	cmd.Flags().String("admin-addr", ":9090", "listen address for the operator admin HTTP surface")
	cmd.Flags().Bool("admin-auth", false, "require a bearer token on admin endpoints")
	cmd.Flags().String("admin-hmac-secret", "", "HMAC secret used to verify admin bearer tokens")
	cmd.Flags().String("admin-issuer", "", "expected token issuer (empty = not checked)")
	cmd.Flags().String("model-endpoint", "", "base URL of the premium model backend (empty = premium enhancement always unavailable)")
	cmd.Flags().String("model-api-key", "", "API key for the premium model backend")
	cmd.Flags().String("metrics", "noop", "metrics backend: noop or prometheus")
	cmd.Flags().String("environment", "development", "deployment environment tag attached to traces and spans")
	cmd.Flags().Duration("audit-retention", 0, "audit log retention TTL (0 = audit.DefaultRetention, 90 days)")
	cmd.Flags().Int("stream-buffer", 1024, "buffer capacity of the in-process change-stream source")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	workerOverride, _ := cmd.Flags().GetInt("worker-concurrency")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	storageBackend, _ := cmd.Flags().GetString("storage")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	ledgerDSN, _ := cmd.Flags().GetString("ledger-dsn")
	adminAddr, _ := cmd.Flags().GetString("admin-addr")
	adminAuth, _ := cmd.Flags().GetBool("admin-auth")
	adminHMACSecret, _ := cmd.Flags().GetString("admin-hmac-secret")
	adminIssuer, _ := cmd.Flags().GetString("admin-issuer")
	modelEndpoint, _ := cmd.Flags().GetString("model-endpoint")
	modelAPIKey, _ := cmd.Flags().GetString("model-api-key")
	metricsBackend, _ := cmd.Flags().GetString("metrics")
	environment, _ := cmd.Flags().GetString("environment")
	auditRetention, _ := cmd.Flags().GetDuration("audit-retention")
	streamBuffer, _ := cmd.Flags().GetInt("stream-buffer")

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(logLevel)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = logctx.With(ctx, logger)

	clk := clock.Real{}

	fileWatcher, err := configx.NewFileWatcher(ctx, configPath, logger)
	if err != nil {
		return fmt.Errorf("load config file layer: %w", err)
	}
	defer fileWatcher.Close()
	store := configx.NewVersionedStore()
	resolver := configx.NewConfigResolver(store, 0, fileWatcher.Current)
	cfg := orchestratorConfig{ConfigResolver: resolver, workerOverride: workerOverride}

	budgetLedger, closeLedger, err := buildLedger(ledgerDSN, clk)
	if err != nil {
		return fmt.Errorf("build ledger: %w", err)
	}
	defer closeLedger()

	admissionCtl := admission.NewController(resolver, budgetLedger, clk)

	var modelClient premium.Client = disabledClient{}
	if modelEndpoint != "" {
		modelClient = premium.NewHTTPClient(modelEndpoint, modelAPIKey)
	}
	enhancer := premium.New(resolver, modelClient, budgetLedger, clk)

	profiles := newProfileStore()

	if dataDir != "" {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}

	writer, dlqQueue, auditStore, closeStorage, err := buildStorage(storageBackend, dataDir, clk, profiles)
	if err != nil {
		return fmt.Errorf("build storage: %w", err)
	}
	defer closeStorage()

	go audit.RunSweeper(ctx, auditStore, time.Hour, auditRetention)

	source := stream.NewMemorySource(streamBuffer)

	verifier := authctx.NewVerifier(authctx.Config{
		Enabled:    adminAuth,
		HMACSecret: adminHMACSecret,
		Issuer:     adminIssuer,
	})

	orch := orchestrator.New(source, admissionCtl, enhancer, writer, dlqQueue, auditStore, profiles, cfg, clk)
	if provider, err := buildMetricsProvider(metricsBackend); err != nil {
		return fmt.Errorf("build metrics provider: %w", err)
	} else if provider != nil {
		orch.SetMetrics(provider)
	}
	orch.SetTracer(tracing.NewProvider("pulsecored", environment))

	evaluator := health.NewEvaluator(2*time.Second,
		ledgerProbe(budgetLedger),
		dlqProbe(dlqQueue),
		auditProbe(auditStore),
	)

	adminServer := adminhttp.New(dlqQueue, streamReplayer{pub: source}, verifier, evaluator)
	router := chi.NewRouter()
	adminServer.Mount(router)
	httpServer := &http.Server{Addr: adminAddr, Handler: router}

	if dryRun {
		logger.Info("dry run: component graph built successfully, exiting without serving")
		return nil
	}

	go func() {
		logger.Info("admin HTTP surface listening", "addr", adminAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin HTTP surface failed", "error", err)
		}
	}()

	runErr := orch.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin HTTP surface shutdown error", "error", err)
	}

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}

// orchestratorConfig overrides WorkerConcurrency when workerOverride is
// positive, delegating everything else to the embedded ConfigResolver.
type orchestratorConfig struct {
	*configx.ConfigResolver
	workerOverride int
}

func (c orchestratorConfig) WorkerConcurrency(ctx context.Context, userID string) int {
	if c.workerOverride > 0 {
		return c.workerOverride
	}
	return c.ConfigResolver.WorkerConcurrency(ctx, userID)
}

func buildLedger(dsn string, clk clock.Clock) (ledger.Ledger, func(), error) {
	if dsn == "" {
		return ledger.NewMemoryLedger(clk), func() {}, nil
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres ledger: %w", err)
	}
	if err := db.AutoMigrate(pgledger.Models()...); err != nil {
		return nil, nil, fmt.Errorf("migrate ledger schema: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("unwrap ledger sql.DB: %w", err)
	}
	return pgledger.New(db, clk), func() { sqlDB.Close() }, nil
}

func buildStorage(backend, dataDir string, clk clock.Clock, profiles *profileStore) (ingest.Writer, dlq.Queue, audit.Store, func(), error) {
	sink := fanoutSink{sinks: []ingest.CompletionSink{audit.LogSink{}, profiles}}

	switch backend {
	case "sqlite":
		writer, err := sqliteingest.Open(filepath.Join(dataDir, "ingest.db"), clk, sink)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("open ingest store: %w", err)
		}
		dlqQueue, err := sqlitedlq.Open(filepath.Join(dataDir, "dlq.db"))
		if err != nil {
			writer.Close()
			return nil, nil, nil, nil, fmt.Errorf("open dlq store: %w", err)
		}
		auditStore, err := sqliteaudit.Open(filepath.Join(dataDir, "audit.db"))
		if err != nil {
			writer.Close()
			dlqQueue.Close()
			return nil, nil, nil, nil, fmt.Errorf("open audit store: %w", err)
		}
		closeFn := func() {
			writer.Close()
			dlqQueue.Close()
			auditStore.Close()
		}
		return writer, dlqQueue, auditStore, closeFn, nil
	default:
		writer := ingest.NewMemoryWriter(clk, sink)
		return writer, dlq.NewMemoryQueue(), audit.NewMemoryStore(), func() {}, nil
	}
}

func buildMetricsProvider(backend string) (metrics.Provider, error) {
	switch backend {
	case "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{}), nil
	case "noop", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}

const healthProbeTimeout = 2 * time.Second

// healthProbeUser is a sentinel ID used only to exercise a dependency's
// read path; it never corresponds to a real pulsecore user.
const healthProbeUser = "__healthz_probe__"

func ledgerProbe(l ledger.Ledger) health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		if _, err := l.Read(ctx, healthProbeUser, "UTC"); err != nil {
			return health.Unhealthy("ledger", err.Error())
		}
		return health.Healthy("ledger")
	})
}

func dlqProbe(q dlq.Queue) health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		if _, err := q.List(ctx); err != nil {
			return health.Unhealthy("dlq", err.Error())
		}
		return health.Healthy("dlq")
	})
}

func auditProbe(s audit.Store) health.Probe {
	return health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		if _, err := s.ByUser(ctx, healthProbeUser, 1); err != nil {
			return health.Unhealthy("audit", err.Error())
		}
		return health.Healthy("audit")
	})
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
