package main

import (
	"context"
	"fmt"
	"os"

	"github.com/motogarage/garage/internal/config"
	"github.com/motogarage/garage/internal/logging"
	"github.com/motogarage/garage/internal/offline/connectivity"
	"github.com/motogarage/garage/internal/offline/db"
	"github.com/motogarage/garage/internal/offline/engine"
	"github.com/motogarage/garage/internal/offline/kv"
	"github.com/motogarage/garage/internal/offline/queue"
	"github.com/motogarage/garage/internal/offline/remote"
	"github.com/motogarage/garage/internal/offline/store"
)

// app is the wired offline stack for one command invocation.
type app struct {
	cfg     *config.Config
	sink    *logging.Sink
	kv      kv.Store
	db      *db.DB // nil for the files backend
	queue   *queue.Queue
	store   *store.Store
	gateway *remote.HTTPGateway
	monitor connectivity.Monitor
	manual  *connectivity.Switch // nil when a flag file drives connectivity
	engine  *engine.Engine
}

// loadConfig loads the config and applies global flag overrides. It exits on
// error.
func loadConfig() *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if dataDirFlag != "" {
		cfg.DataDir = dataDirFlag
	}
	return cfg
}

// mustOpenApp opens the stack or exits.
func mustOpenApp() *app {
	a, err := openApp(loadConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

func openApp(cfg *config.Config) (*app, error) {
	sink, err := logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	a := &app{cfg: cfg, sink: sink}

	switch cfg.Store.Backend {
	case config.BackendFiles:
		files, err := kv.OpenFiles(cfg.StorePath())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.kv = files
	default:
		database, err := db.Open(cfg.StorePath())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.kv = database
		a.db = database
	}

	a.gateway, err = remote.NewHTTPGateway(cfg.Remote.URL, cfg.Remote.Timeout)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid remote url: %w", err)
	}

	switch {
	case offlineFlag:
		a.manual = connectivity.NewSwitch(false)
		a.monitor = a.manual
	case cfg.Connectivity.FlagFile != "":
		fm, err := connectivity.NewFileMonitor(cfg.Connectivity.FlagFile, sink.Logger("connectivity"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to watch connectivity flag: %w", err)
		}
		a.monitor = fm
	default:
		a.manual = connectivity.NewSwitch(true)
		a.monitor = a.manual
	}

	a.queue = queue.New(a.kv, sink.Logger("queue"))
	a.store = store.New(a.kv, a.queue, store.Config{Logger: sink.Logger("store")})
	a.engine = engine.New(a.queue, a.store, a.gateway, a.monitor, engine.Config{
		Logger: sink.Logger("engine"),
		State:  a.kv,
	})
	return a, nil
}

// checkBackend verifies the backend version. An unreachable backend is only
// a warning: the stack keeps working offline.
func (a *app) checkBackend(ctx context.Context) (string, error) {
	if !a.monitor.Online() {
		return "", nil
	}
	return a.gateway.CheckVersion(ctx)
}

// Close waits for in-flight dispatches, then releases the store, monitor and
// log sink in that order.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.queue != nil {
		if err := a.queue.Flush(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush queue: %v\n", err)
		}
	}
	if a.monitor != nil {
		a.monitor.Close()
	}
	if a.kv != nil {
		if err := a.kv.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
	}
	if a.sink != nil {
		a.sink.Close()
	}
}
