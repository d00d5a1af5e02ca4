package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/albertklubabot-sketch/gie20/internal/core"
	"github.com/albertklubabot-sketch/gie20/internal/decisionlog"
	"github.com/albertklubabot-sketch/gie20/internal/domain"
	"github.com/albertklubabot-sketch/gie20/internal/engine"
	"github.com/albertklubabot-sketch/gie20/internal/feed"
	"github.com/albertklubabot-sketch/gie20/internal/feedback"
	"github.com/albertklubabot-sketch/gie20/internal/hive"
	"github.com/albertklubabot-sketch/gie20/internal/knowledge"
	"github.com/albertklubabot-sketch/gie20/internal/metrics"
	"github.com/albertklubabot-sketch/gie20/internal/sensor"
	"github.com/albertklubabot-sketch/gie20/pkg/config"
	"github.com/albertklubabot-sketch/gie20/pkg/logger"
	"github.com/albertklubabot-sketch/gie20/pkg/persistence"
	"github.com/albertklubabot-sketch/gie20/pkg/shutdown"

	// Import the engine set to trigger init() registration.
	_ "github.com/albertklubabot-sketch/gie20/internal/engine/all"
)

// logSink prints every completed decision. The real execution side lives in
// a separate process and learns decisions from the decision log.
type logSink struct{}

func (logSink) Execute(ctx context.Context, d domain.Decision) error {
	logrus.Infof("decision %s: action=%s engine=%s confidence=%.3f degraded=%v",
		d.ID, d.Selected.Action, d.Selected.EngineID, d.Selected.Confidence, d.Degraded)
	return nil
}

func main() {
	configPath := flag.String("config", "", "config file path (.yaml)")
	dryRun := flag.Bool("dry-run", false, "force the synthetic feed regardless of config")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("init logging: %v", err))
	}

	if *configPath != "" {
		config.SetConfigPath(*configPath)
		logrus.Infof("using config file: %s", *configPath)
	} else if _, err := os.Stat("yml/gie.yaml"); err == nil {
		config.SetConfigPath("yml/gie.yaml")
		logrus.Info("using default config file: yml/gie.yaml")
	} else {
		logrus.Warn("no config file, using environment and defaults")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Errorf("load config: %v", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if cfg.LogFile != "" || cfg.LogLevel != "" {
		if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile}); err != nil {
			logrus.Errorf("reinit logging: %v", err)
			os.Exit(1)
		}
	}

	instanceID := cfg.Hive.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
		logrus.Infof("generated instance id %s", instanceID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	shutdownMgr := shutdown.NewManager()

	store, err := knowledge.Open(filepath.Join(cfg.DataDir, "knowledge"), instanceID)
	if err != nil {
		logrus.Errorf("open knowledge store: %v", err)
		os.Exit(1)
	}
	shutdownMgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		if err := store.Close(); err != nil {
			logrus.Errorf("close knowledge store: %v", err)
		}
	})

	dlog, err := decisionlog.Open(filepath.Join(cfg.DataDir, "decisions.db"))
	if err != nil {
		logrus.Errorf("open decision log: %v", err)
		os.Exit(1)
	}
	shutdownMgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		if err := dlog.Close(); err != nil {
			logrus.Errorf("close decision log: %v", err)
		}
	})

	persist := persistence.NewJSONFileService(filepath.Join(cfg.DataDir, "state"))

	engines, err := buildEngines(cfg.Engines)
	if err != nil {
		logrus.Errorf("build engines: %v", err)
		os.Exit(1)
	}

	sensors, err := sensor.Build(cfg.Sensors)
	if err != nil {
		logrus.Errorf("build sensors: %v", err)
		os.Exit(1)
	}
	set, err := sensor.NewSet(sensors...)
	if err != nil {
		logrus.Errorf("assemble sensor set: %v", err)
		os.Exit(1)
	}

	decisionCore, err := core.New(engines, set.Shape(), store, dlog, cfg.ArbitrationTimeout)
	if err != nil {
		logrus.Errorf("assemble decision core: %v", err)
		os.Exit(1)
	}
	logrus.Infof("engines active: %v", decisionCore.Engines())

	loop := feedback.NewLoop(store, dlog, cfg.LearningRate, cfg.MaxResolveRetries)

	hiveServer := hive.NewServer(instanceID, store, dlog, loop)
	hiveServer.StartAsync(ctx, cfg.Hive.ListenAddr)

	if len(cfg.Hive.Peers) > 0 {
		peers := make([]*hive.Client, 0, len(cfg.Hive.Peers))
		for _, p := range cfg.Hive.Peers {
			peers = append(peers, hive.NewClient(p))
		}
		syncer := hive.NewSyncer(store, peers, cfg.SyncInterval, uint64(cfg.StaleDeltaHorizon), persist)
		go func() {
			if err := syncer.Run(ctx); err != nil && err != context.Canceled {
				logrus.Errorf("syncer stopped: %v", err)
			}
		}()
		logrus.Infof("syncing with %d peers every %s", len(peers), cfg.SyncInterval)
	}

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logrus.Errorf("start metrics listener: %v", err)
			os.Exit(1)
		}
	}

	source := buildFeed(cfg)
	runner := core.NewRunner(decisionCore, source, set, logSink{}, cfg.CycleInterval, persist)

	runnerDone := make(chan error, 1)
	go func() { runnerDone <- runner.Run(ctx) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logrus.Infof("received %s, shutting down", s)
	case err := <-runnerDone:
		if err != nil && err != context.Canceled {
			logrus.Errorf("runner stopped: %v", err)
		}
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	shutdownMgr.Shutdown(shutdownCtx)
}

func buildEngines(configs []config.EngineConfig) ([]engine.Engine, error) {
	if len(configs) == 0 {
		for _, id := range engine.Registered() {
			configs = append(configs, config.EngineConfig{ID: id})
		}
	}
	engines := make([]engine.Engine, 0, len(configs))
	for _, ec := range configs {
		e, err := engine.New(ec.ID, ec.Params)
		if err != nil {
			return nil, err
		}
		engines = append(engines, e)
	}
	return engines, nil
}

func buildFeed(cfg *config.Config) feed.Source {
	if cfg.DryRun || cfg.Feed.Mode == "synthetic" {
		logrus.Info("using synthetic feed")
		return feed.NewSyntheticSource(cfg.Feed.Symbol, cfg.CycleInterval/2)
	}
	logrus.Infof("connecting feed %s symbol=%s", cfg.Feed.URL, cfg.Feed.Symbol)
	return feed.NewWebsocketSource(cfg.Feed.URL, cfg.Feed.Symbol)
}
