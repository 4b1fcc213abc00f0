// Package main wires together the link metadata service binary.
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

	"github.com/jinresearch/linkbeacon/internal/api"
	"github.com/jinresearch/linkbeacon/internal/cache"
	"github.com/jinresearch/linkbeacon/internal/clock/system"
	"github.com/jinresearch/linkbeacon/internal/config"
	collyfetcher "github.com/jinresearch/linkbeacon/internal/fetcher/colly"
	"github.com/jinresearch/linkbeacon/internal/hash/sha256"
	"github.com/jinresearch/linkbeacon/internal/icon"
	"github.com/jinresearch/linkbeacon/internal/logging"
	"github.com/jinresearch/linkbeacon/internal/metrics"
	"github.com/jinresearch/linkbeacon/internal/prober"
	"github.com/jinresearch/linkbeacon/internal/resolver"
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

	index, err := loadBrandIndex(cfg)
	if err != nil {
		logger.Fatal("brand index load failed", zap.Error(err))
	}
	logger.Info("brand index loaded",
		zap.String("version", index.Version()),
		zap.Int("entries", index.Len()),
	)

	pageFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.MetadataTimeout(),
		MaxBodyBytes: cfg.MaxBodyBytes(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})
	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.HTTP.UserAgent,
		Timeout:      cfg.ProbeTimeout(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
	})

	icons := icon.NewResolver(index, pageFetcher, icon.Config{
		FaviconService: cfg.Icons.FaviconService,
		FaviconTimeout: cfg.FaviconTimeout(),
		PaletteSize:    cfg.Icons.PaletteSize,
	}, logger.Named("icons"))

	probes := prober.New(probeFetcher, prober.Config{
		Concurrency: cfg.Prober.Concurrency,
		QueueDepth:  cfg.Prober.QueueDepth,
		Timeout:     cfg.ProbeTimeout(),
	}, logger.Named("prober"))

	svc := resolver.New(
		pageFetcher,
		icons,
		cache.New(),
		probes,
		sha256.New(),
		system.New(),
		resolver.Config{MetadataTimeout: cfg.MetadataTimeout()},
		logger.Named("resolver"),
	)

	apiServer := api.NewServer(svc, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	probes.Stop()
	logger.Info("shutdown complete")
}

func loadBrandIndex(cfg config.Config) (*icon.BrandIndex, error) {
	if cfg.Icons.IndexPath != "" {
		return icon.LoadIndexFile(cfg.Icons.IndexPath)
	}
	return icon.LoadEmbeddedIndex()
}
