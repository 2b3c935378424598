// Package main wires together the crawlfront edge proxy binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crawlfront/crawlfront/internal/admin"
	"github.com/crawlfront/crawlfront/internal/config"
	"github.com/crawlfront/crawlfront/internal/logging"
	"github.com/crawlfront/crawlfront/internal/metrics"
	"github.com/crawlfront/crawlfront/internal/probe"
	"github.com/crawlfront/crawlfront/internal/proxy"
	"github.com/crawlfront/crawlfront/internal/upstream"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	table, err := cfg.BuildTable()
	if err != nil {
		logger.Fatal("build route table failed", zap.Error(err))
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:            cfg.Upstream.BaseURL,
		BearerToken:        cfg.Upstream.BearerToken,
		Timeout:            cfg.UpstreamTimeout(),
		BreakerFailures:    cfg.Upstream.BreakerFailures,
		BreakerOpenTimeout: time.Duration(cfg.Upstream.BreakerOpenSeconds) * time.Second,
	}, logger.Named("upstream"))
	if err != nil {
		logger.Fatal("upstream client init failed", zap.Error(err))
	}

	prober := probe.New(client, cfg.ProbeInterval(), cfg.Probe.FailureThreshold, logger.Named("probe"))
	proxyServer := proxy.New(table, cfg.Proxy.BackendHost, cfg.RequestTimeout(), logger.Named("proxy"))
	adminServer := admin.NewServer(proxyServer, prober, logger.Named("admin"))

	if *cfgPath != "" {
		err := config.Watch(*cfgPath, logger.Named("config"), func(next config.Config) {
			nextTable, err := next.BuildTable()
			if err != nil {
				logger.Error("reloaded routes rejected", zap.Error(err))
				return
			}
			proxyServer.Swap(nextTable)
		})
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	edge := &http.Server{
		Addr:              cfg.Proxy.ListenAddr,
		Handler:           proxyServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ops := &http.Server{
		Addr:              cfg.Admin.ListenAddr,
		Handler:           adminServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health prober started",
			zap.String("upstream", cfg.Upstream.BaseURL),
			zap.Duration("interval", cfg.ProbeInterval()),
		)
		prober.Run(ctx)
	}()

	go func() {
		logger.Info("edge proxy started",
			zap.String("addr", cfg.Proxy.ListenAddr),
			zap.Int("rules", len(table.Rules())),
			zap.Int("default_port", table.DefaultPort()),
		)
		if err := edge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("edge proxy error", zap.Error(err))
			stop()
		}
	}()

	go func() {
		logger.Info("admin server started", zap.String("addr", cfg.Admin.ListenAddr))
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := edge.Shutdown(shutdownCtx); err != nil {
		logger.Error("edge proxy shutdown error", zap.Error(err))
	}
	if err := ops.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
