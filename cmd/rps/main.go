package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlosrabelo/rps/internal/config"
	"github.com/carlosrabelo/rps/internal/httpapi"
	"github.com/carlosrabelo/rps/internal/metrics"
	"github.com/carlosrabelo/rps/internal/protocol"
	"github.com/carlosrabelo/rps/internal/ratelimit"
	"github.com/carlosrabelo/rps/internal/server"
	"github.com/carlosrabelo/rps/internal/upstream"
	"github.com/carlosrabelo/rps/pkg/logger"
)

func main() {
	cfgFile := flag.String("config", "config.json", "Path to configuration file")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Println("rps v0.1.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		logger.Error("failed to load config: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.NewCollector()

	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:                 cfg.RateLimit.Enabled,
		MaxConnectionsPerIP:     cfg.RateLimit.MaxConnectionsPerIP,
		MaxConnectionsPerMinute: cfg.RateLimit.MaxConnectionsPerMinute,
		BanDurationSeconds:      cfg.RateLimit.BanDurationSeconds,
		CleanupIntervalSeconds:  cfg.RateLimit.CleanupIntervalSeconds,
	})

	apiTimeout := time.Duration(cfg.API.TimeoutMs) * time.Millisecond
	pools := make([]*upstream.Pool, 0, len(cfg.Upstreams.Pools))
	for _, pc := range cfg.Upstreams.Pools {
		pool := upstream.NewPool(upstream.Protocol(pc.Proto), cfg.API.URL, apiTimeout)
		pool.Metrics = m
		pools = append(pools, pool)
	}
	registry := upstream.NewRegistry(pools, upstream.Schedule(cfg.Upstreams.Schedule), cfg.Upstreams.Hybrid)

	refreshInterval := time.Duration(cfg.API.RefreshIntervalMs) * time.Millisecond
	go registry.Refresher(ctx, refreshInterval)

	if cfg.HTTP.Listen != "" {
		httpSrv := &httpapi.Server{
			Listen:   cfg.HTTP.Listen,
			Metrics:  m,
			Registry: registry,
			Limiter:  limiter,
		}
		go httpSrv.Serve(ctx)
	}

	srv := server.New(server.Config{
		Listen:      cfg.Proxy.Listen,
		Protocol:    protocolFromString(cfg.Proxy.Protocol),
		Creds:       protocol.Credentials{Username: cfg.Proxy.Username, Password: cfg.Proxy.Password},
		RequireHost: cfg.Proxy.RequireHost,
		Realm:       "rps",
		IdleTimeout: time.Duration(cfg.Proxy.IdleTimeoutMs) * time.Millisecond,
		MaxSessions: cfg.Proxy.MaxSessions,
		DialTimeout: time.Duration(cfg.Proxy.DialTimeoutMs) * time.Millisecond,
	}, registry, limiter, m)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			logger.Error("server: %v", err)
			cancel()
		}
	}()

	<-sigCh
	logger.Notice("shutting down...")
	cancel()
	time.Sleep(2 * time.Second)
	logger.Notice("shutdown complete")
}

func protocolFromString(s string) server.Protocol {
	switch s {
	case "socks5":
		return server.ProtocolSOCKS5
	case "socks4":
		return server.ProtocolSOCKS4
	default:
		return server.ProtocolHTTP
	}
}
