// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nishisan-dev/backup-scheduler/internal/config"
	"github.com/nishisan-dev/backup-scheduler/internal/control"
	"github.com/nishisan-dev/backup-scheduler/internal/hashutil"
	"github.com/nishisan-dev/backup-scheduler/internal/logging"
	"github.com/nishisan-dev/backup-scheduler/internal/metrics"
	"github.com/nishisan-dev/backup-scheduler/internal/scheduler"
	"github.com/nishisan-dev/backup-scheduler/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "/etc/backup-scheduler/scheduler.yaml", "path to scheduler config file")
	flag.Parse()

	cfg, err := config.LoadSchedulerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	if err := os.MkdirAll(cfg.Backup.Path, 0o755); err != nil {
		logger.Error("creating backup directory failed", "path", cfg.Backup.Path, "error", err)
		os.Exit(1)
	}

	st, closeStore, err := openStore(cfg.Store.Path)
	if err != nil {
		logger.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Listen, reg, logger)
	}

	channel := control.NewChannel(cfg.Control.RequestBuffer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Control.Enabled {
		var verifier *control.TokenVerifier
		if cfg.Control.JWT.Enabled {
			verifier = control.NewTokenVerifier(cfg.Control.JWT.HMACKey)
		}
		front := control.NewSocketServer(channel, verifier, logger)
		go func() {
			if err := front.Serve(ctx, cfg.Control.SocketPath); err != nil {
				logger.Error("control socket server stopped", "error", err)
			}
		}()
	}

	sched := scheduler.New(scheduler.Config{
		BackupPath:      cfg.Backup.Path,
		MaxProcesses:    cfg.Backup.MaxProcesses,
		Store:           st,
		Channel:         channel,
		Hasher:          hashutil.NewXXHasher(),
		Logger:          logger,
		Metrics:         m,
		WaitForClient:   cfg.Backup.CommandChannelTimeout,
		SessionLogDir:   cfg.Backup.SessionLogDir,
		MaxArtifactSize: cfg.Backup.MaxArtifactSizeRaw,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("scheduler starting", "backup_path", cfg.Backup.Path, "max_processes", cfg.Backup.MaxProcesses)
	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler exited", "error", err)
		os.Exit(1)
	}
}

// openStore abre o BuntStore de acordo com cfg.Store.Path. ":memory:" (o
// default de config.validate) roda inteiramente em memória sem tocar
// disco, útil para um scheduler efêmero ou um smoke test do binário.
func openStore(path string) (store.Store, func(), error) {
	if path == ":memory:" {
		return store.NewMemoryStore(), func() {}, nil
	}
	bs, err := store.OpenBuntStore(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening bunt store: %w", err)
	}
	return bs, func() { bs.Close() }, nil
}

// serveMetrics expõe o registry Prometheus em /metrics até que o processo
// termine. Erros de bind são fatais ao processo de métricas, não ao
// scheduler — o motor segue rodando mesmo sem observabilidade.
func serveMetrics(listen string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(listen, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}
