package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rawblock/fraudmesh/internal/alert"
	"github.com/rawblock/fraudmesh/internal/analyzer"
	"github.com/rawblock/fraudmesh/internal/api"
	"github.com/rawblock/fraudmesh/internal/asn"
	"github.com/rawblock/fraudmesh/internal/config"
	"github.com/rawblock/fraudmesh/internal/graphstore"
	flog "github.com/rawblock/fraudmesh/internal/log"
	"github.com/rawblock/fraudmesh/internal/streamqueue"
	"github.com/rawblock/fraudmesh/internal/worker"
)

// engine bundles every wired subsystem so both "serve" and "analyze-once"
// share the same non-fatal, graceful-degradation startup sequence: a
// missing dependency degrades its dependents rather than aborting the
// process.
type engine struct {
	cfg         config.Config
	store       *graphstore.PostgresStore
	stream      streamqueue.Stream
	resolver    *asn.Resolver
	broadcaster *alert.Broadcaster
	pool        *worker.Pool
	analyzerSvc *analyzer.Analyzer
	analytics   *api.Analytics
	metrics     *worker.Metrics
}

func buildEngine(ctx context.Context) *engine {
	cfg := config.Load()
	e := &engine{cfg: cfg, broadcaster: alert.New(), metrics: worker.NewMetrics()}

	if cfg.GraphStoreDSN != "" {
		store, err := graphstore.Connect(ctx, cfg.GraphStoreDSN, cfg.GraphPoolSize)
		if err != nil {
			flog.For("engine").Warn().Err(err).Msg("graph store connection failed; continuing degraded")
		} else {
			e.store = store
		}
		analytics, err := api.NewAnalytics(cfg.GraphStoreDSN, 5*time.Second)
		if err != nil {
			flog.For("engine").Warn().Err(err).Msg("analytics read path failed to connect")
		} else {
			e.analytics = analytics
		}
	} else {
		flog.For("engine").Warn().Msg("GRAPH_STORE_DSN not set; running without a graph store")
	}

	stream, err := streamqueue.NewRedisStream(ctx, cfg.RedisAddr, cfg.StreamKey, cfg.ConsumerGroup, 30*time.Second)
	if err != nil {
		flog.For("engine").Warn().Err(err).Msg("stream queue connection failed; ingest will not run")
	} else {
		e.stream = stream
	}

	resolver := asn.New("IN")
	if cfg.ASNDataPath != "" {
		if err := resolver.LoadCSV(cfg.ASNDataPath); err != nil {
			flog.For("engine").Warn().Err(err).Msg("failed to load ASN table; asn_risk will degrade to 0")
		}
	}
	e.resolver = resolver

	if e.store != nil {
		e.pool = worker.New(e.stream, e.store, e.resolver, e.broadcaster, cfg, e.metrics)
		e.analyzerSvc = analyzer.New(e.store, cfg.AnalyzerCadence, cfg.Thresholds.DormancyDays)
	} else {
		flog.For("engine").Warn().Msg("no graph store; worker pool and batch analyzer will not start")
	}

	return e
}

func (e *engine) shutdown() {
	if e.store != nil {
		e.store.Close()
	}
	if e.analytics != nil {
		_ = e.analytics.Close()
	}
	if e.stream != nil {
		_ = e.stream.Close()
	}
}

func printBanner(mode string) {
	c := color.New(color.FgCyan, color.Bold)
	c.Println("fraudmesh — real-time payments fraud scoring engine")
	color.New(color.FgHiBlack).Printf("mode: %s\n", mode)
}

func runServe(cmd *cobra.Command, args []string) error {
	printBanner("serve")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := buildEngine(ctx)
	defer e.shutdown()

	var wg sync.WaitGroup
	if e.pool != nil {
		wg.Add(1)
		go func() { defer wg.Done(); e.pool.Run(ctx) }()
	}
	if e.analyzerSvc != nil {
		wg.Add(1)
		go func() { defer wg.Done(); e.analyzerSvc.Run(ctx) }()
	}

	handler := api.NewHandler(e.pool, e.broadcaster, e.analytics, e.analyzerSvc, e.metrics, e.cfg)
	router := api.SetupRouter(handler)

	srv := &http.Server{Addr: e.cfg.HTTPAddr, Handler: router}
	go func() {
		flog.For("engine").Info().Str("addr", e.cfg.HTTPAddr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			flog.For("engine").Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	flog.For("engine").Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		flog.For("engine").Warn().Err(err).Msg("graceful http shutdown failed")
	}
	wg.Wait()
	return nil
}

func runAnalyzeOnce(cmd *cobra.Command, args []string) error {
	printBanner("analyze-once")

	ctx := context.Background()
	e := buildEngine(ctx)
	defer e.shutdown()

	if e.analyzerSvc == nil {
		return fmt.Errorf("no graph store configured; nothing to analyze")
	}
	e.analyzerSvc.RunOnce(ctx)
	snap := e.analyzerSvc.Cache().Load()
	flog.For("engine").Info().
		Int("flagged_accounts", len(snap.ByAccount)).
		Int64("failed_cycles", e.analyzerSvc.Cache().FailedCycles()).
		Msg("analyze-once complete")
	return nil
}

func main() {
	root := &cobra.Command{
		Use:   "engine",
		Short: "fraudmesh real-time fraud-scoring engine",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "run the ingest pipeline, batch analyzer and API server",
		RunE:  runServe,
	}
	analyzeOnceCmd := &cobra.Command{
		Use:   "analyze-once",
		Short: "run a single batch graph analyzer cycle and exit",
		RunE:  runAnalyzeOnce,
	}

	root.AddCommand(serveCmd, analyzeOnceCmd)

	if err := root.Execute(); err != nil {
		flog.For("engine").Fatal().Err(err).Msg("engine exited with error")
	}
}
