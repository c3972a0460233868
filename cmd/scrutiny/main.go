// Command scrutiny runs the evidence collection and research engine: a
// SQLite-backed job broker with four collector worker pools, an iterative
// LLM-planned research orchestrator, an HTTP API, and an optional MCP
// server over stdio.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/probelab/scrutiny/broker"
	"github.com/probelab/scrutiny/browser"
	"github.com/probelab/scrutiny/collector"
	"github.com/probelab/scrutiny/collector/crawl"
	"github.com/probelab/scrutiny/collector/discover"
	"github.com/probelab/scrutiny/collector/fingerprint"
	"github.com/probelab/scrutiny/collector/secprobe"
	"github.com/probelab/scrutiny/config"
	"github.com/probelab/scrutiny/dbopen"
	"github.com/probelab/scrutiny/evidence"
	"github.com/probelab/scrutiny/fetch"
	"github.com/probelab/scrutiny/httpapi"
	"github.com/probelab/scrutiny/mcpsrv"
	"github.com/probelab/scrutiny/observability"
	"github.com/probelab/scrutiny/planner"
	"github.com/probelab/scrutiny/report"
	"github.com/probelab/scrutiny/research"
	"github.com/probelab/scrutiny/runctl"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	logLevel := env("LOG_LEVEL", "info")
	mcpTransport := env("MCP_TRANSPORT", "")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Config.
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFile(*configPath)
		if err != nil {
			slog.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Database. The broker and evidence store apply their own schemas; the
	// audit trail takes its schema here.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(observability.Schema))
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := evidence.NewStore(db)
	if err != nil {
		slog.Error("evidence store", "error", err)
		os.Exit(1)
	}

	trail := observability.NewTrail(db, 256, logger)
	defer trail.Close()

	brk, err := broker.New(db, broker.Options{
		Visibility:    cfg.Broker.Visibility,
		PollInterval:  cfg.Broker.PollInterval,
		MaxDeliveries: cfg.Broker.MaxAttempts,
		Logger:        logger,
	})
	if err != nil {
		slog.Error("broker", "error", err)
		os.Exit(1)
	}

	// Collectors.
	fetcher := fetch.New(fetch.Config{
		Timeout:   cfg.Fetch.Timeout,
		MaxBytes:  cfg.Fetch.MaxBodyBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})
	sink := collector.EvidenceSink(func(ctx context.Context, items ...evidence.Item) error {
		return store.Append(ctx, items...)
	})

	crawler := crawl.New(fetcher, logger, crawl.Options{})
	prober := secprobe.New(fetcher, logger)
	finger := fingerprint.New(fetcher, logger, nil)

	brk.Register(broker.TypeCrawl, cfg.Broker.CrawlWorkers, collector.Worker(brk, crawler, sink))
	brk.Register(broker.TypeSecurity, cfg.Broker.ProbeWorkers, collector.Worker(brk, prober, sink))
	brk.Register(broker.TypeFingerprint, cfg.Broker.FingerWorkers, collector.Worker(brk, finger, sink))

	// Browser-driven discovery. A failed Chrome launch degrades discovery
	// jobs to fast failures instead of blocking the whole engine.
	bm := browser.NewManager(browser.Config{
		Headful:         cfg.Browser.Headful,
		MemoryLimit:     int64(cfg.Browser.MaxMemoryMB) * 1024 * 1024,
		RecycleInterval: cfg.Browser.RecycleInterval,
		PageTimeout:     cfg.Browser.PageTimeout,
		Logger:          logger,
	})
	if err := bm.Start(ctx); err != nil {
		slog.Warn("browser start, discovery degraded", "error", err)
	}
	defer bm.Close()

	followUps := discover.JobSink(func(ctx context.Context, target, purpose string, dc collector.DiscoverConfig) error {
		_, err := brk.Submit(ctx, broker.TypeDiscovery, target, purpose, dc)
		return err
	})
	agent := discover.New(&discover.RodSession{Manager: bm}, followUps, logger, discover.Options{})
	brk.Register(broker.TypeDiscovery, cfg.Broker.DiscoverWorkers, collector.Worker(brk, agent, sink))

	// Planner. Without an API key the engine still runs, on the static
	// broad-crawl fallback plan.
	var (
		pln planner.Planner
		ana planner.Analyzer
	)
	if key := os.Getenv(cfg.Planner.APIKeyEnv); key != "" {
		g, err := planner.NewGemini(ctx, planner.GeminiConfig{
			Model:   cfg.Planner.Model,
			APIKey:  key,
			Timeout: cfg.Planner.Timeout,
			Logger:  logger,
		})
		if err != nil {
			slog.Error("planner", "error", err)
			os.Exit(1)
		}
		pln, ana = g, g
	} else {
		slog.Warn("planner running without model", "env", cfg.Planner.APIKeyEnv)
		pln = planner.PlannerFunc(func(ctx context.Context, snap *planner.Snapshot) (*planner.Plan, error) {
			return planner.FallbackPlan(snap), nil
		})
		ana = planner.AnalyzerFunc(func(ctx context.Context, recent []planner.EvidenceDigest, questions []string) (*planner.Analysis, error) {
			return planner.FallbackAnalysis(nil), nil
		})
	}

	// Research runs. Each run gets its own orchestrator; the broker, store
	// and planner are shared.
	opts := research.Options{
		MaxIterations:     cfg.Research.MaxIterations,
		CoverageThreshold: cfg.Research.CoverageThreshold,
		MaxOpenGaps:       cfg.Research.MaxOpenGaps,
		AwaitTimeout:      cfg.Broker.AwaitTimeout,
		RunDeadline:       cfg.Research.RunDeadline,
		RecentN:           cfg.Research.AnalyzerRecentN,
		Logger:            logger,
	}
	runs := runctl.NewManager(func(ctx context.Context, company, targetURL, thesis string) (*research.State, error) {
		return research.New(brk, store, pln, ana, trail, opts).Run(ctx, company, targetURL, thesis)
	}, logger)

	reports := report.New(store)

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		svc := mcpsrv.New(runs, store)
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "scrutiny",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP server starting", "transport", "stdio")
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP server", "error", err)
			}
		}()
	}

	go brk.Run(ctx)

	api := httpapi.New(runs, store, reports, trail, httpapi.Options{
		AdminUser: cfg.HTTP.AdminUser,
		AdminHash: cfg.HTTP.AdminBcryptHash,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		slog.Info("scrutiny listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	slog.Info("server stopped")
}
