package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/clawboard/internal/agents"
	"github.com/ent0n29/clawboard/internal/approvals"
	"github.com/ent0n29/clawboard/internal/config"
	"github.com/ent0n29/clawboard/internal/docs"
	"github.com/ent0n29/clawboard/internal/execution"
	"github.com/ent0n29/clawboard/internal/httpapi"
	"github.com/ent0n29/clawboard/internal/observability"
	"github.com/ent0n29/clawboard/internal/openclaw"
	"github.com/ent0n29/clawboard/internal/realtime"
	"github.com/ent0n29/clawboard/internal/session"
	"github.com/ent0n29/clawboard/internal/store"
	"github.com/ent0n29/clawboard/internal/taskruntime"
	"github.com/ent0n29/clawboard/internal/telemetry"
	"github.com/ent0n29/clawboard/internal/triggers"
)

type BuildResult struct {
	Config   config.Config
	DB       *store.DB
	API      *httpapi.Server
	Engine   *execution.Engine
	Hub      *realtime.Hub
	Jobs     *taskruntime.Service
	Metrics  *observability.Metrics
	DocsMode string
	Swept    []string

	// Cleanup should be called on shutdown to stop background work and
	// release the databases.
	Cleanup func() error
}

// Build wires every component of the server from cfg. Background loops
// (agents watcher, limiter eviction, stuck gauge) stop in Cleanup.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		Exporter:    cfg.OTelExporter,
		ServiceName: "clawboard",
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = tracing.Shutdown(ctx)
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	docStore, docsMode, err := docs.NewStore(ctx, cfg.DocsDatabaseURL, db)
	if err != nil {
		_ = db.Close()
		_ = tracing.Shutdown(ctx)
		return nil, fmt.Errorf("docs store init failed: %w", err)
	}

	completer, err := openclaw.New(openclaw.Config{
		Mode:       cfg.OpenClawMode,
		HTTPURL:    cfg.OpenClawHTTPURL,
		Token:      cfg.OpenClawToken,
		Model:      cfg.OpenClawModel,
		Timeout:    cfg.OpenClawTimeout,
		MaxRetries: cfg.OpenClawMaxRetries,
	})
	if err != nil {
		_ = docStore.Close()
		_ = db.Close()
		_ = tracing.Shutdown(ctx)
		return nil, fmt.Errorf("openclaw client init failed: %w", err)
	}
	if _, ok := completer.(*openclaw.MockCompleter); ok {
		logger.Warn("openclaw not configured, runs answer from the offline mock")
	} else if addr, up := probeOpenClaw(cfg.OpenClawHTTPURL); !up {
		logger.Warn("openclaw endpoint not reachable yet", "addr", addr)
	}

	runCtx, runCancel := context.WithCancel(context.Background())

	if cfg.AgentsFile != "" {
		if err := loadAgents(runCtx, cfg.AgentsFile, db, logger); err != nil {
			runCancel()
			_ = docStore.Close()
			_ = db.Close()
			_ = tracing.Shutdown(ctx)
			return nil, err
		}
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	hub := realtime.NewHub(realtime.HubOptions{
		Heartbeat:   cfg.SSEHeartbeat,
		Logger:      logger,
		Metrics:     metrics,
		CheckOrigin: originChecker(cfg.AllowAnyOrigin),
	})
	jobs := taskruntime.New(taskruntime.Config{
		Concurrency: cfg.WorkerConcurrency,
		QueueSize:   cfg.WorkerQueueSize,
		JobTimeout:  cfg.WorkerJobTimeout,
	}, logger, metrics)

	sessions := session.NewManager(db, hub, cfg.DefaultAgentID, logger)
	engine := execution.NewEngine(execution.Config{StuckMinutes: cfg.RunStuckMinutes}, db, sessions, completer, hub, metrics, logger)
	gate := approvals.NewGate(db, hub, metrics, logger)
	trigger := triggers.New(triggers.Config{
		RequireApprovalForRisky: cfg.AutoRunRequireApprovalForRisky,
	}, engine, gate, jobs, completer, docStore, hub, logger)

	var swept []string
	if cfg.RunSweepOnStart {
		swept, err = engine.SweepOrphans(ctx)
		if err != nil {
			logger.Error("orphan sweep failed", "error", err)
		}
	}

	limiter := httpapi.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, metrics, logger)
	if limiter != nil {
		limiter.StartEviction(runCtx, time.Minute, 10*time.Minute)
	}

	refresher, err := observability.NewRefresher("runs_stuck", cfg.StuckGaugeSchedule, engine.RefreshStuckGauge, logger)
	if err != nil {
		runCancel()
		hub.Close()
		_ = jobs.Shutdown(ctx)
		_ = docStore.Close()
		_ = db.Close()
		_ = tracing.Shutdown(ctx)
		return nil, fmt.Errorf("stuck gauge schedule: %w", err)
	}
	refresher.Start()

	api := httpapi.New(cfg, httpapi.Deps{
		DB:       db,
		Engine:   engine,
		Sessions: sessions,
		Gate:     gate,
		Trigger:  trigger,
		Hub:      hub,
		Docs:     docStore,
		DocsMode: docsMode,
		Jobs:     jobs,
		Metrics:  metrics,
		Limiter:  limiter,
		Logger:   logger,
	})

	cleanup := func() error {
		var errs []string
		runCancel()
		refresher.Stop()
		hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := jobs.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, "jobs: "+err.Error())
		}
		if err := docStore.Close(); err != nil {
			errs = append(errs, "docs: "+err.Error())
		}
		if err := db.Close(); err != nil {
			errs = append(errs, "store: "+err.Error())
		}
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, "tracing: "+err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		DB:       db,
		API:      api,
		Engine:   engine,
		Hub:      hub,
		Jobs:     jobs,
		Metrics:  metrics,
		DocsMode: docsMode,
		Swept:    swept,
		Cleanup:  cleanup,
	}, nil
}

// loadAgents seeds the agents table from path and keeps it in sync until ctx
// ends.
func loadAgents(ctx context.Context, path string, db *store.DB, logger *slog.Logger) error {
	list, err := agents.LoadFile(path)
	if err != nil {
		return fmt.Errorf("agents file: %w", err)
	}
	n, err := agents.Seed(ctx, db, list)
	if err != nil {
		return fmt.Errorf("agents seed: %w", err)
	}
	logger.Info("agents seeded", "path", path, "count", n)

	w := agents.NewWatcher(path, db, logger, nil)
	if _, err := w.Start(ctx); err != nil {
		logger.Warn("agents file watch unavailable", "path", path, "error", err)
	}
	return nil
}

// originChecker allows same-origin browsers and clients that send no Origin.
func originChecker(allowAny bool) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if allowAny {
			return true
		}
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
