// Package main is the entry point for the kitsh session server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HarryR/kitsh/internal/buildinfo"
	"github.com/HarryR/kitsh/internal/config"
	"github.com/HarryR/kitsh/internal/pidfile"
	"github.com/HarryR/kitsh/internal/task"
)

func main() {
	host := flag.String("host", "", "bind address (overrides config listen.address)")
	port := flag.Int("port", 0, "bind port (overrides config listen.port)")
	configPath := flag.String("config", "", "path to config file")
	logLevel := flag.String("log-level", "", "log level: trace, debug, info, warn, error (overrides config)")
	pidPath := flag.String("pidfile", "", "write process id to this file (overrides config pid_file)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfgPath, err := config.FindConfig(*configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		logger.Info("config loaded", "path", cfgPath)
	}

	if *host != "" {
		cfg.Listen.Address = *host
	}
	if *port != 0 {
		cfg.Listen.Port = *port
	}
	if *pidPath != "" {
		cfg.PidFile = *pidPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log level", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting kitshd", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	if err := pidfile.Write(cfg.PidFile); err != nil {
		logger.Error("failed to write pidfile", "error", err)
		os.Exit(1)
	}
	defer pidfile.Remove(cfg.PidFile, logger)

	manager := task.NewManager()
	srv := newServer(cfg, manager, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.routes(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		manager.StopAll()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("kitshd stopped")
}
