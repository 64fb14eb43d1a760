package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/veesix-networks/dpsync/internal/fpm"
	"github.com/veesix-networks/dpsync/internal/gateway"
	"github.com/veesix-networks/dpsync/internal/kernel"
	"github.com/veesix-networks/dpsync/internal/provider"
	"github.com/veesix-networks/dpsync/pkg/component"
	"github.com/veesix-networks/dpsync/pkg/config"
	"github.com/veesix-networks/dpsync/pkg/dataplane/vpp"
	"github.com/veesix-networks/dpsync/pkg/dplane"
	"github.com/veesix-networks/dpsync/pkg/logger"
	"github.com/veesix-networks/dpsync/pkg/metrics"
	"github.com/veesix-networks/dpsync/pkg/mirror"
	"github.com/veesix-networks/dpsync/pkg/version"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("dpsyncd", version.Full())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	components := make(map[string]logger.LogLevel, len(cfg.Logging.Components))
	for name, level := range cfg.Logging.Components {
		components[name] = logger.LogLevel(level)
	}
	logger.Configure(cfg.Logging.Format, logger.LogLevel(cfg.Logging.Level), components)

	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting dpsync", "version", version.Version, "config", *configPath, "api_socket", cfg.Dataplane.APISocket)

	priority, err := dplane.ParsePriority(cfg.Provider.Priority)
	if err != nil {
		log.Fatalf("Invalid provider priority: %v", err)
	}

	m := metrics.New()
	store := mirror.New(cfg.Dataplane.IfIndexOffset)
	m.WatchMirror(store.Len)

	dialer := &vpp.Dialer{
		Socket:       cfg.Dataplane.APISocket,
		ReplyTimeout: cfg.Dataplane.ReplyTimeout,
	}
	prov := provider.New(provider.Config{
		Name:          cfg.Provider.Name,
		Priority:      priority,
		RetryInterval: cfg.Dataplane.RetryInterval,
	}, dialer, store, m)

	resultLog := logger.Get(logger.Dplane)
	scheduler := dplane.NewScheduler(cfg.Provider.WorkLimit, func(op *dplane.Operation) {
		if op.Status == dplane.StatusFailure {
			resultLog.Info("Operation failed", "op", op.String())
			return
		}
		resultLog.Debug("Operation completed", "op", op.String(), "status", op.Status.String())
	})
	scheduler.Register(prov)

	orch := component.NewOrchestrator()
	orch.Register(metrics.NewServer(m, cfg.Monitoring.MetricsAddress))

	if cfg.Kernel.IsEnabled() {
		reflector := kernel.New(cfg.Kernel.NetNS, store, scheduler)
		store.Subscribe(reflector)
		orch.Register(reflector)
	}

	orch.Register(scheduler)
	orch.Register(fpm.NewServer(cfg.FPM.Listen, scheduler))
	orch.Register(gateway.New(cfg.API.Address, prov))

	ctx := context.Background()
	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start components: %v", err)
	}

	mainLog.Info("dpsync started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("Shutting down dpsync...")

	if err := orch.Stop(ctx); err != nil {
		mainLog.Error("Error stopping components", "error", err)
	}

	mainLog.Info("dpsync stopped")
}
