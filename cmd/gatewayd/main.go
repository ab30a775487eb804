// Command gatewayd wires together the request-fulfillment engine (§2's
// nine components) and keeps it warm: token cooldown recovery,
// conversation TTL sweeping, proxy rotation and the share-link consumer
// all run as background loops for as long as the process is alive.
//
// The HTTP/WebSocket transport surface that would call supervisor.Handle
// per inbound request is an external collaborator (spec.md §1's
// out-of-scope list) and is not built here; embedding callers reach the
// engine through the Supervisor this command constructs.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thushan/olla/internal/adapter/conversation"
	"github.com/thushan/olla/internal/adapter/download"
	"github.com/thushan/olla/internal/adapter/metrics"
	"github.com/thushan/olla/internal/adapter/proxypool"
	"github.com/thushan/olla/internal/adapter/retry"
	"github.com/thushan/olla/internal/adapter/storage"
	"github.com/thushan/olla/internal/adapter/tokenpool"
	"github.com/thushan/olla/internal/adapter/upstream"
	"github.com/thushan/olla/internal/app/background"
	"github.com/thushan/olla/internal/config"
	"github.com/thushan/olla/internal/core/supervisor"
	"github.com/thushan/olla/internal/env"
	"github.com/thushan/olla/internal/logger"
	"github.com/thushan/olla/internal/version"
	"github.com/thushan/olla/pkg/container"
	"github.com/thushan/olla/pkg/eventbus"
	"github.com/thushan/olla/pkg/format"
	"github.com/thushan/olla/pkg/nerdstats"
	"github.com/thushan/olla/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(buildLoggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid(), "containerised", container.IsContainerised())

	if env.GetEnvBoolOrDefault("GATEWAY_PROFILE", false) {
		profiler.InitialiseProfiler()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	store, err := storage.NewFileStore(env.GetEnvOrDefault("GATEWAY_DATA_DIR", "./data"))
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to open persistence store", "error", err)
	}
	defer store.Close()

	tokenPool := tokenpool.New(tokenpool.Config{
		Cooldown429QuotaSec:      cfg.TokenPool.Cooldown429QuotaSec,
		Cooldown429EmptySec:      cfg.TokenPool.Cooldown429EmptySec,
		FailThreshold:            cfg.TokenPool.FailThreshold,
		CooldownErrorReqs:        cfg.TokenPool.CooldownErrorReqs,
		SaveDelayMs:              cfg.TokenPool.SaveDelayMs,
		ConsecutiveAuthFailLimit: cfg.TokenPool.ConsecutiveAuthFailLimit,
	}, store, logInstance)
	if err := tokenPool.Load(); err != nil {
		styledLogger.Warn("token pool restore failed, starting cold", "error", err)
	}

	proxyPool := proxypool.New(proxypool.Config{
		StaticBaseProxyURL:  cfg.ProxyPool.StaticBaseProxyURL,
		StaticAssetProxyURL: cfg.ProxyPool.StaticAssetProxyURL,
		PoolURL:             cfg.ProxyPool.PoolURL,
		RefreshInterval:     cfg.ProxyPool.RefreshInterval,
		Pool403Max:          cfg.ProxyPool.Pool403Max,
		UserAgent:           cfg.ProxyPool.UserAgent,
	}, logInstance)

	upstreamClient := upstream.New(upstream.Config{}, logInstance)

	breakers := retry.NewRegistry(retry.BreakerConfig{})
	orch := retry.New(tokenPool, retry.Config{
		MaxRetry:            cfg.Retry.MaxRetry,
		Cooldown429QuotaSec: cfg.Retry.Cooldown429QuotaSec,
		Cooldown429EmptySec: cfg.Retry.Cooldown429EmptySec,
	}, breakers)

	convMgr := conversation.New(conversation.Config{
		TTL:           cfg.Conversation.TTL,
		MaxPerToken:   cfg.Conversation.MaxPerToken,
		SaveDelayMs:   cfg.Conversation.SaveDelayMs,
		CleanupPeriod: cfg.Conversation.CleanupPeriod,
	}, store, logInstance)
	if err := convMgr.Load(); err != nil {
		styledLogger.Warn("conversation manager restore failed, starting cold", "error", err)
	}

	policy := supervisor.StaticPolicy{
		HighEffortModels: toSet(cfg.Models.HighEffortModels),
		PoolByModel:      cfg.Models.PoolByModel,
		DefaultPool:      cfg.Models.DefaultPool,
	}

	shareBus := eventbus.New[supervisor.ShareLinkRequest]()
	defer shareBus.Shutdown()

	metricsReg := prometheus.NewRegistry()
	metricsCollector := metrics.New(metricsReg)
	if cfg.Metrics.Enabled {
		metricsSrv := metrics.NewServer(cfg.Metrics.Address, metricsReg)
		go func() {
			if err := metricsSrv.Run(ctx); err != nil {
				styledLogger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	sup := supervisor.New(
		upstreamClient,
		orch,
		convMgr,
		upstreamClient,
		download.NewPassthrough(),
		policy,
		shareBus,
		logInstance,
		supervisor.Config{Concurrency: cfg.Chat.Concurrent},
	)

	runner := background.NewRunner(logInstance,
		background.NewCooldownProbeWorker(tokenPool, cfg.TokenPool.CooldownProbeInterval, logInstance),
		background.NewTTLSweepWorker(convMgr, cfg.Conversation.CleanupPeriod, logInstance),
		background.NewProxyRefreshWorker(proxyPool, cfg.ProxyPool.RefreshInterval, logInstance),
		background.NewShareLinkWorker(shareBus, sup, logInstance),
		background.NewMetricsSampleWorker(tokenPool, convMgr, metricsCollector, 0, logInstance),
	)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- runner.Run(ctx) }()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	tokenPool.Shutdown()
	convMgr.Shutdown()

	select {
	case err := <-runErrCh:
		if err != nil {
			styledLogger.Error("background runner stopped with error", "error", err)
		}
	case <-shutdownCtx.Done():
		styledLogger.Warn("background runner shutdown timed out")
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("gateway has shutdown")
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func buildLoggerConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:      env.GetEnvOrDefault("GATEWAY_LOG_LEVEL", cfg.Logging.Level),
		FileOutput: env.GetEnvBoolOrDefault("GATEWAY_FILE_OUTPUT", cfg.Logging.FileOutput),
		LogDir:     env.GetEnvOrDefault("GATEWAY_LOG_DIR", cfg.Logging.LogDir),
		MaxSize:    env.GetEnvIntOrDefault("GATEWAY_MAX_SIZE", cfg.Logging.MaxSize),
		MaxBackups: env.GetEnvIntOrDefault("GATEWAY_MAX_BACKUPS", cfg.Logging.MaxBackups),
		MaxAge:     env.GetEnvIntOrDefault("GATEWAY_MAX_AGE", cfg.Logging.MaxAge),
		Theme:      env.GetEnvOrDefault("GATEWAY_THEME", cfg.Logging.Theme),
	}
}

func reportProcessStats(lg logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	lg.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	lg.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	lg.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
	)
}
