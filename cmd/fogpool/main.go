package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kabir325/fogpool/internal/chat"
	"github.com/kabir325/fogpool/internal/config"
	"github.com/kabir325/fogpool/internal/console"
	"github.com/kabir325/fogpool/internal/ctrl"
	"github.com/kabir325/fogpool/internal/dispatch"
	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/logx"
	"github.com/kabir325/fogpool/internal/mcpserver"
	"github.com/kabir325/fogpool/internal/metrics"
	"github.com/kabir325/fogpool/internal/pool"
	"github.com/kabir325/fogpool/internal/rag"
	"github.com/kabir325/fogpool/internal/server"
	"github.com/kabir325/fogpool/internal/serverstate"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func loadConfig(args []string) (config.ServerConfig, bool, error) {
	var cfg config.ServerConfig
	if p, ok := config.FlagValue(args, "config"); ok {
		cfg.ConfigFile = p
	} else if p := config.GetEnv("CONFIG_FILE", ""); p != "" {
		cfg.ConfigFile = p
	}
	cfg.SetDefaults()
	if err := cfg.LoadFile(cfg.ConfigFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, false, fmt.Errorf("load %s: %w", cfg.ConfigFile, err)
	}
	cfg.ApplyEnv()

	fs := flag.NewFlagSet("fogpool", flag.ContinueOnError)
	showVersion := fs.Bool("version", false, "print version and exit")
	cfg.BindFlagsFromCurrent(fs)
	fs.Usage = func() {
		_, _ = fmt.Fprintf(fs.Output(), "fogpool version=%s sha=%s date=%s\n\n", version, buildSHA, buildDate)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return cfg, false, err
	}
	if *showVersion {
		return cfg, true, nil
	}
	return cfg, false, cfg.Validate()
}

func tierOverride(in map[string][]string) (map[pool.Tier][]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[pool.Tier][]string, len(in))
	for k, v := range in {
		t, err := pool.ParseTier(k)
		if err != nil {
			return nil, err
		}
		out[t] = v
	}
	return out, nil
}

func main() {
	cfg, showVersion, err := loadConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if showVersion {
		fmt.Printf("fogpool version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(cfg.LogLevel)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("config")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)
	metrics.SetServerBuildInfo(version, buildSHA, buildDate)

	var rdb redis.UniversalClient
	stateStore := serverstate.Store(serverstate.NewMemoryStore())
	if cfg.RedisAddr != "" {
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err = serverstate.OpenRedis(rctx, cfg.RedisAddr)
		cancel()
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rdb.Close() }()
		stateStore = serverstate.NewRedisStore(rdb, "")
		logx.Log.Info().Str("addr", cfg.RedisAddr).Msg("using redis state store")
	}

	var chatStore chat.Store
	switch cfg.ChatStore {
	case config.ChatStoreFile:
		fsStore, err := chat.OpenFileStore(cfg.ChatFile)
		if err != nil {
			logx.Log.Fatal().Err(err).Str("path", cfg.ChatFile).Msg("open chat file")
		}
		chatStore = fsStore
	case config.ChatStoreRedis:
		chatStore = chat.NewRedisStore(rdb)
	default:
		chatStore = chat.NewMemoryStore()
	}

	override, err := tierOverride(cfg.TierPoolOverride)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("tier_pool_override")
	}
	assignor, err := pool.NewAssignor(pool.DefaultScorer(), pool.AssignorOptions{TierPoolOverride: override})
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("model pools")
	}
	policy, err := dispatch.ParsePolicy(cfg.AggregationPolicy)
	if err != nil {
		logx.Log.Fatal().Err(err).Msg("aggregation_policy")
	}

	hub := ctrl.NewHub()
	eng := engine.New(engine.Deps{
		Registry: pool.NewRegistry(assignor),
		Assignor: assignor,
		Inferer:  hub,
		Notifier: hub,
		RAG:      rag.NewStore(),
		Chat:     chatStore,
		State:    serverstate.NewTracker(stateStore),
	}, engine.Options{
		PerCallTimeout:      cfg.PerCallTimeout,
		GlobalTimeout:       cfg.GlobalTimeout,
		Policy:              policy,
		RAGTopK:             cfg.RAGTopK,
		ChatContextMessages: cfg.ChatContextMessages,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		StaleAfter:          cfg.StaleAfter,
		PurgeAfter:          cfg.PurgeAfter,
		ReassignInterval:    cfg.ReassignInterval,
		ReassignOnChurn:     cfg.ReassignOnChurn,
	})

	handler := server.New(cfg, server.Deps{
		Engine:   eng,
		Hub:      hub,
		MCP:      mcpserver.NewHandler(eng, version),
		Gatherer: reg,
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	var metricsSrv *http.Server
	if !server.MetricsOnAPIPort(cfg) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go eng.Run(ctx)

	// First signal drains, a second one (or the drain timeout) stops.
	shutdown := make(chan struct{}, 1)
	requestShutdown := func() {
		select {
		case shutdown <- struct{}{}:
		default:
		}
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range sigCh {
			if eng.State().IsDraining() {
				logx.Log.Warn().Msg("termination requested")
				cancel()
				return
			}
			requestShutdown()
		}
	}()
	if cfg.Console {
		go func() {
			if err := console.Run(ctx, os.Stdin, os.Stdout, eng); err != nil && !errors.Is(err, context.Canceled) {
				logx.Log.Error().Err(err).Msg("console")
			}
			requestShutdown()
		}()
	}
	go func() {
		select {
		case <-shutdown:
		case <-ctx.Done():
			return
		}
		eng.Drain()
		logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Msg("draining; send SIGTERM again to terminate immediately")
		sctx, scancel := context.WithTimeout(ctx, cfg.DrainTimeout)
		defer scancel()
		if err := srv.Shutdown(sctx); err != nil {
			logx.Log.Warn().Err(err).Msg("drain incomplete")
			_ = srv.Close()
		}
		cancel()
	}()

	if cfg.APIKey != "" {
		logx.Log.Info().Str("api_key", config.MaskSecret(cfg.APIKey)).Msg("API key auth enabled")
	}
	if cfg.ClientKey != "" {
		logx.Log.Info().Str("client_key", config.MaskSecret(cfg.ClientKey)).Msg("client key required")
	}
	if metricsSrv != nil {
		go func() {
			logx.Log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server starting")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logx.Log.Error().Err(err).Msg("metrics server error")
			}
		}()
		go func() {
			<-ctx.Done()
			if err := metricsSrv.Shutdown(context.Background()); err != nil {
				logx.Log.Error().Err(err).Msg("metrics server shutdown")
			}
		}()
	}
	logx.Log.Info().Int("port", cfg.Port).Str("policy", string(policy)).
		Str("models", strings.Join(assignor.Models(), ",")).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logx.Log.Fatal().Err(err).Msg("server error")
	}
	<-ctx.Done()
	logx.Log.Info().Msg("server stopped")
}
