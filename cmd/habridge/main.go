package main

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"habridge/internal/clock"
	"habridge/internal/config"
	"habridge/internal/ha"
	"habridge/internal/metrics"
	"habridge/internal/mqtt"
	"habridge/internal/store"
	"habridge/pkg/entity"
	"habridge/pkg/platform"

	// Platform registration
	_ "habridge/internal/platforms/avr"
	_ "habridge/internal/platforms/gencover"
	_ "habridge/internal/platforms/sun"
	_ "habridge/internal/platforms/weather"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "habridge.yaml", "path to the configuration file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting habridge",
		zap.String("version", version),
		zap.String("host", cfg.Host.URL),
		zap.Bool("read_only", cfg.ReadOnly))

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("Failed to open state store",
			zap.String("path", cfg.Store.Path),
			zap.Error(err))
	}
	defer db.Close()

	haClient := ha.NewClient(cfg.Host.URL, cfg.Host.Token, logger)
	if err := haClient.Connect(); err != nil {
		logger.Fatal("Failed to connect to host", zap.Error(err))
	}
	defer haClient.Disconnect()

	brokerURL, err := url.Parse(cfg.MQTT.URL)
	if err != nil {
		logger.Fatal("Invalid MQTT URL", zap.Error(err))
	}
	broker, err := mqtt.NewClient(brokerURL, cfg.MQTT.ClientID, cfg.MQTT.Prefix, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer broker.Disconnect()

	ctx := &platform.Context{
		HA:        haClient,
		Publisher: broker,
		Discovery: &entity.Discovery{
			Prefix: cfg.MQTT.DiscoveryPrefix,
			NodeID: cfg.MQTT.NodeID,
		},
		Store:    db,
		Clock:    clock.NewRealClock(),
		Logger:   logger,
		ReadOnly: cfg.ReadOnly,
		Config:   cfg,
		Device: &entity.DeviceInfo{
			Identifiers:  []string{cfg.MQTT.NodeID},
			Name:         "habridge",
			Manufacturer: "habridge",
			Model:        "habridge",
			SWVersion:    version,
		},
	}

	platforms, err := platform.CreateAll(ctx)
	if err != nil {
		logger.Fatal("Failed to create platforms", zap.Error(err))
	}

	started := make([]platform.Platform, 0, len(platforms))
	for _, p := range platforms {
		if err := p.Start(); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop()
			}
			logger.Fatal("Failed to start platform",
				zap.String("platform", p.Name()),
				zap.Error(err))
		}
		started = append(started, p)
		logger.Info("Platform started", zap.String("platform", p.Name()))
	}

	go metrics.Serve(cfg.Metrics.Listen, logger)

	if cfg.ReadOnly {
		logger.Info("Running in READ-ONLY mode - no commands will be sent")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	for i := len(started) - 1; i >= 0; i-- {
		started[i].Stop()
	}
}
