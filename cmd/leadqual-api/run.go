package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/riselocal/leadqual/internal/audit"
	"github.com/riselocal/leadqual/internal/completion"
	"github.com/riselocal/leadqual/internal/config"
	"github.com/riselocal/leadqual/internal/council"
	"github.com/riselocal/leadqual/internal/enrich"
	"github.com/riselocal/leadqual/internal/gating"
	"github.com/riselocal/leadqual/internal/jobs"
	"github.com/riselocal/leadqual/internal/ratelimit"
	"github.com/riselocal/leadqual/internal/scoring"
	"github.com/riselocal/leadqual/internal/store"
	"github.com/riselocal/leadqual/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	api "github.com/riselocal/leadqual/api/v1alpha1"
	apiserver "github.com/riselocal/leadqual/internal/api_server"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the leadqual api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		s := store.NewStore(db)
		defer s.Close()

		if err := s.InitialMigration(); err != nil {
			zap.S().Fatalw("running initial migration", "error", err)
		}

		pool, err := newWorkerPool(cfg, s)
		if err != nil {
			zap.S().Fatalw("building worker pool", "error", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, s, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating metrics listener", "error", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalw("running metrics server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			pool.Run(ctx)
		}()

		<-ctx.Done()
		return nil
	},
}

// newWorkerPool wires the engine: registry, limiter, fan-out coordinator,
// scoring, gating, council and the per-kind runners.
func newWorkerPool(cfg *config.Config, s store.Store) (*jobs.Pool, error) {
	adapters := make([]enrich.Adapter, 0, len(cfg.Enrichment.AdapterEndpoints))
	for name, url := range cfg.Enrichment.AdapterEndpoints {
		adapters = append(adapters, enrich.NewHTTPAdapter(name, name, url, cfg.Enrichment.PerCallTimeout))
	}
	registry, err := enrich.NewRegistry(adapters...)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(s.RateLimit(), cfg.QuotaFor, cfg.Enrichment.QuotaWindow)
	coordinator := enrich.NewCoordinator(limiter)

	policy, err := gating.NewPolicy(cfg.Gating.RejectThreshold, cfg.Gating.AcceptThreshold)
	if err != nil {
		return nil, err
	}

	completionClient := completion.NewHTTPClient(
		cfg.Council.CompletionBaseUrl,
		cfg.Council.CompletionModel,
		cfg.Council.CompletionApiKey,
		cfg.Council.RequestsPerSecond,
	)
	councilEngine := council.New(completionClient, council.DefaultRoles(), cfg.Council.EvaluatorTimeout)

	auditWriter := audit.NewWriter(s.Audit())
	qualifier := jobs.NewQualifier(
		s,
		registry,
		coordinator,
		scoring.NewEngine(scoring.DefaultRules()),
		policy,
		councilEngine,
		auditWriter,
		jobs.QualifierOptions{
			Evaluators:     cfg.Council.Evaluators,
			PerCallTimeout: cfg.Enrichment.PerCallTimeout,
			OverallTimeout: cfg.Enrichment.OverallTimeout,
			ClaimTTL:       cfg.Worker.ClaimTTL,
		},
	)

	runners := map[string]jobs.Runner{
		string(api.JobKindQualification): qualifier,
		string(api.JobKindEnrichment): jobs.NewEnrichmentRunner(registry, coordinator,
			cfg.Enrichment.PerCallTimeout, cfg.Enrichment.OverallTimeout),
		string(api.JobKindDiscovery): jobs.NewDiscoveryRunner(registry, coordinator,
			cfg.Enrichment.PerCallTimeout, cfg.Enrichment.OverallTimeout),
		string(api.JobKindDelivery): jobs.NewDeliveryRunner(s.Decision(), registry, coordinator,
			cfg.Enrichment.PerCallTimeout, cfg.Enrichment.OverallTimeout),
	}

	return jobs.NewPool(s, runners, auditWriter, limiter, jobs.PoolOptions{
		Count:        cfg.Worker.Count,
		MaxRetries:   cfg.Worker.MaxRetries,
		PollInterval: cfg.Worker.PollInterval,
		ClaimTTL:     cfg.Worker.ClaimTTL,
		JobTimeout:   cfg.Worker.JobTimeout,
	}), nil
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
