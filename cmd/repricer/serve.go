package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sellerpulse/repricer/internal/config"
	"github.com/sellerpulse/repricer/internal/decision"
	"github.com/sellerpulse/repricer/internal/gate"
	"github.com/sellerpulse/repricer/internal/ingest"
	"github.com/sellerpulse/repricer/internal/interfaces/alerts"
	httpapi "github.com/sellerpulse/repricer/internal/interfaces/http"
	"github.com/sellerpulse/repricer/internal/interfaces/output"
	"github.com/sellerpulse/repricer/internal/opportunity"
	"github.com/sellerpulse/repricer/internal/persistence"
	"github.com/sellerpulse/repricer/internal/persistence/postgres"
	"github.com/sellerpulse/repricer/internal/regime"
	"github.com/sellerpulse/repricer/internal/window"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision core HTTP service",
		RunE:  runServe,
	}

	flags := cmd.Flags()
	flags.String("config", "", "Path to YAML config file")
	flags.Int("port", 0, "HTTP port (overrides config)")
	flags.String("feed", "", "Websocket event feed URL (overrides config)")
	// Accept underscore spellings of flag names for parity with config keys.
	flags.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}
	if feed, _ := cmd.Flags().GetString("feed"); feed != "" {
		cfg.FeedURL = feed
	}

	metrics := httpapi.NewMetricsRegistry()

	// Safety gate, with transitions mirrored into metrics.
	gates := gate.NewKeeper(cfg.Gate, log.Logger)
	gates.OnTransition = func(_ string, from, to gate.State) {
		metrics.GateTransitions.WithLabelValues(to.String()).Inc()
		switch {
		case to == gate.Open:
			metrics.OpenGates.Inc()
		case from == gate.Open:
			metrics.OpenGates.Dec()
		}
	}

	// Decision cache: Redis when configured, in-process otherwise.
	var cache decision.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		cache = decision.NewRedisCache(client, cfg.RedisTTL())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("decision cache on redis")
	} else {
		cache = decision.NewMemoryCache()
		log.Info().Msg("decision cache in memory")
	}

	// Audit store: PostgreSQL when configured, in-process otherwise.
	var audit persistence.DecisionAuditRepo
	var regimeRepo persistence.RegimeRepo
	if cfg.Postgres.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		cancel()
		if err != nil {
			return err
		}
		defer db.Close()
		audit = postgres.NewDecisionAuditRepo(db, 3*time.Second)
		regimeRepo = postgres.NewRegimeRepo(db, 3*time.Second)
		log.Info().Msg("persistence on postgres")
	} else {
		audit = persistence.NewMemoryDecisionAuditRepo()
		regimeRepo = persistence.NewMemoryRegimeRepo()
		log.Info().Msg("persistence in memory")
	}

	pricing := decision.ReferencePricing()
	decisions := decision.NewService(gates, cache, pricing, audit, cfg.Pricing.Timeout, decision.Hooks{
		OnCacheHit:  func() { metrics.RecordCacheHit("decision") },
		OnCacheMiss: func() { metrics.RecordCacheMiss("decision") },
		OnDecision: func(source decision.Source, elapsed time.Duration) {
			metrics.DecisionDuration.WithLabelValues(string(source)).Observe(elapsed.Seconds())
		},
	}, log.Logger)

	aggregator := window.NewAggregator(cfg.Window)
	detector := opportunity.NewDetector(cfg.Detector, log.Logger)
	opportunities := opportunity.NewStore()

	policy := regime.PolicyFromNames(cfg.Regime.Strategies)
	regimes := regime.NewMachine(policy, log.Logger)
	regimes.OnSwitch = func(entityKey string, from, to regime.Regime) {
		metrics.RegimeSwitches.WithLabelValues(to.String()).Inc()
		persistTransition(regimeRepo, policy, entityKey, from, to)
	}

	pipeline := ingest.NewPipeline(cfg.Ingest, aggregator, detector, opportunities, regimes, ingest.Hooks{
		OnIngested:  func() { metrics.EventsIngested.Inc() },
		OnDuplicate: func() { metrics.EventsDeduplicated.Inc() },
		OnDetected:  func(n int) { metrics.OpportunitiesFound.Add(float64(n)) },
	}, log.Logger)
	pipeline.Start()

	handlers := httpapi.NewHandlers(decisions, opportunities, regimes, gates, pipeline, version, log.Logger)
	server, err := httpapi.NewServer(cfg.Server, handlers, metrics, log.Logger)
	if err != nil {
		pipeline.Stop()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The feed source must be joined before pipeline.Stop closes the shard
	// queues, or a submit racing shutdown sends on a closed channel.
	feedDone := make(chan struct{})
	if cfg.FeedURL != "" {
		source := ingest.NewWSSource(cfg.FeedURL, pipeline, log.Logger)
		go func() {
			defer close(feedDone)
			source.Run(ctx)
		}()
	} else {
		close(feedDone)
	}

	if cfg.Snapshot.Dir != "" {
		go snapshotLoop(ctx, cfg.Snapshot.Dir, cfg.Snapshot.Interval, opportunities, regimes)
	}

	// Reclaim expired opportunities in the background.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				opportunities.Compact()
				metrics.ActiveOpportunities.Set(float64(opportunities.ActiveCount()))
			case <-ctx.Done():
				return
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		serveErr = server.Shutdown(shutdownCtx)
		cancel()
	}

	stop()
	<-feedDone
	pipeline.Stop()
	return serveErr
}

// persistTransition mirrors a regime switch into the external store. It runs
// inside OnSwitch under the entity's lock, so one entity's transitions are
// mirrored in order. The compare-and-swap keeps a writer outside this process
// from clobbering a newer transition; a missing or out-of-sync row falls back
// to a plain upsert.
func persistTransition(repo persistence.RegimeRepo, policy regime.Policy, entityKey string, from, to regime.Regime) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rec := persistence.RegimeRecord{
		EntityKey:      entityKey,
		Regime:         to.String(),
		StrategyID:     policy[to],
		TransitionedAt: time.Now().UTC(),
	}
	applied, err := repo.CompareAndSwap(ctx, entityKey, from.String(), rec)
	if err == nil && !applied {
		err = repo.Upsert(ctx, rec)
	}
	if err != nil {
		log.Warn().Err(err).Str("entity", entityKey).Msg("regime persist failed")
	}
}

// snapshotLoop periodically writes operator snapshot files: active
// opportunities as CSV, priority-bucketed alerts and the regime table as JSON.
func snapshotLoop(ctx context.Context, dir string, interval time.Duration, opportunities *opportunity.Store, regimes *regime.Machine) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("snapshot dir unavailable")
		return
	}

	oppEmitter := output.NewEmitter()
	alertEmitter := alerts.NewEmitter()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			active := opportunities.ListActive(1000)
			if err := oppEmitter.EmitOpportunitiesCSV(filepath.Join(dir, "opportunities.csv"), active); err != nil {
				log.Warn().Err(err).Msg("opportunity snapshot failed")
			}
			if err := alertEmitter.EmitAlertsJSON(filepath.Join(dir, "alerts.json"), active); err != nil {
				log.Warn().Err(err).Msg("alert snapshot failed")
			}
			if err := oppEmitter.EmitRegimesJSON(filepath.Join(dir, "regimes.json"), regimes.AllRecords()); err != nil {
				log.Warn().Err(err).Msg("regime snapshot failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
