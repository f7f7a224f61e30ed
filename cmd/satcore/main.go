// Package main is the entry point for satcore, the satellite swarm
// broker.
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

	"github.com/nugget/satcore/internal/audit"
	"github.com/nugget/satcore/internal/broker"
	"github.com/nugget/satcore/internal/buildinfo"
	"github.com/nugget/satcore/internal/config"
	"github.com/nugget/satcore/internal/mqttbridge"
	"github.com/nugget/satcore/internal/observer"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	runServe(logger, *configPath)
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting satcore", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
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
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("config loaded", "port", cfg.Listen.Port, "routers", cfg.RouterPool.Count, "max_satellites", cfg.Listen.MaxSatellites)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var auditStore *audit.Store
	if cfg.Audit.Enabled {
		auditStore, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			logger.Error("failed to open audit store", "path", cfg.Audit.Path, "error", err)
			os.Exit(1)
		}
		defer auditStore.Close()
		logger.Info("audit store opened", "path", cfg.Audit.Path)
	}

	var obsHub *observer.Hub
	if cfg.Observer.Enabled {
		obsHub = observer.NewHub(logger)
		go obsHub.Run(ctx)
		mux := http.NewServeMux()
		mux.HandleFunc("/fleet/stream", obsHub.ServeHTTP)
		addr := fmt.Sprintf("%s:%d", cfg.Observer.Address, cfg.Observer.Port)
		obsServer := &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Info("fleet observer listening", "addr", addr)
			if err := obsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("fleet observer failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = obsServer.Close()
		}()
	}

	// bridge is assigned below, after core exists, but the hooks closure
	// captures the variable itself so the forward reference is safe.
	var bridge *mqttbridge.Bridge

	hooks := &broker.Hooks{
		OnFleetEvent: func(ev broker.FleetEvent) {
			if obsHub != nil {
				obsHub.OnFleetEvent(ev)
			}
			if bridge != nil {
				bridge.OnFleetEvent(ev)
			}
			if auditStore != nil && (ev.Kind == broker.KindJoined || ev.Kind == broker.KindLeft) {
				kind := audit.KindConnected
				if ev.Kind == broker.KindLeft {
					kind = audit.KindDisconnected
				}
				go func() {
					if err := auditStore.Record(context.Background(), audit.Entry{
						Kind:        kind,
						SatelliteID: ev.SatelliteID,
						PeerAddr:    ev.PeerAddr,
						Reason:      ev.Reason,
					}); err != nil {
						logger.Warn("audit record failed", "error", err)
					}
				}()
			}
		},
	}

	core := broker.New(broker.Config{
		Address:       cfg.Listen.Address,
		Port:          cfg.Listen.Port,
		RouterCount:   cfg.RouterPool.Count,
		MaxSatellites: cfg.Listen.MaxSatellites,
		Logger:        logger,
		Hooks:         hooks,
	})

	if cfg.MQTT.Configured() {
		bridge = mqttbridge.New(cfg.MQTT, core, logger)
		go func() {
			if err := bridge.Start(ctx); err != nil {
				logger.Error("mqtt bridge failed", "error", err)
			}
		}()
	}

	if err := core.Start(); err != nil {
		logger.Error("failed to start core", "error", err)
		os.Exit(1)
	}
	logger.Info("satcore running", "addr", core.Addr())

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := core.Shutdown(); err != nil {
		logger.Error("core shutdown incomplete", "error", err)
		os.Exit(1)
	}
	logger.Info("satcore stopped")
}
