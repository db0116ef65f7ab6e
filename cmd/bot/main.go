package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mentionbot/internal/config"
	"mentionbot/internal/core"
	"mentionbot/pkg/logx"
)

var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "config.yaml", "path to the config file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("mentionbot", version)
		return
	}

	boot := logx.NewConsole("info")

	mgr := config.NewManager(*configPath)
	cfg, err := mgr.Load()
	if err != nil {
		boot.Error("config load failed", logx.String("path", *configPath), logx.Err(err))
		os.Exit(1)
	}

	log, closeLog := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer closeLog()
	mgr.SetLogger(log)

	log.Info("starting mentionbot",
		logx.String("version", version),
		logx.String("config", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := core.New(ctx, cfg, mgr, log)
	if err != nil {
		log.Error("startup failed", logx.Err(err))
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		log.Error("startup failed", logx.Err(err))
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	notifyReady(log)
	watchdogCtx, watchdogStop := context.WithCancel(ctx)
	go runWatchdog(watchdogCtx, log)

	<-ctx.Done()
	watchdogStop()
	log.Info("shutdown signal received")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	if err := app.Stop(context.Background()); err != nil {
		log.Error("shutdown failed", logx.Err(err))
		os.Exit(1)
	}
}

func notifyReady(log logx.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify failed", logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified ready")
	}
}

// runWatchdog pings systemd at half the configured watchdog interval.
// A no-op outside systemd or when WatchdogSec is unset.
func runWatchdog(ctx context.Context, log logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	log.Debug("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
