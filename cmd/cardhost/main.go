// cardhost hosts web application instances: it scans installed app
// descriptors, owns one instance per launch (windows plus activity
// registration over the service bus), and exposes a management API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/cardhost/pkg/api"
	"github.com/odvcencio/cardhost/pkg/bus"
	"github.com/odvcencio/cardhost/pkg/config"
	"github.com/odvcencio/cardhost/pkg/descriptor"
	"github.com/odvcencio/cardhost/pkg/logging"
	"github.com/odvcencio/cardhost/pkg/manager"
	"github.com/odvcencio/cardhost/pkg/storage"
	"github.com/odvcencio/cardhost/pkg/telemetry"
	"github.com/odvcencio/cardhost/pkg/window"
	"github.com/odvcencio/cardhost/pkg/window/adapters/luna"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.BoolVar(&verbose, "verbose", false, "enable debug logging")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		printVersion()
		return
	}

	if err := run(configPath, verbose); err != nil {
		fmt.Fprintf(os.Stderr, "cardhost: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	runID := ulid.Make().String()
	logDir := cfg.Log.Dir
	if logDir == "" {
		logDir = filepath.Join(cfg.Data.Dir, "logs")
	}
	log, err := logging.NewLogger(logDir, runID)
	if err != nil {
		return err
	}
	defer log.Close()
	if verbose {
		log.SetMinLevel(logging.LevelDebug)
	} else {
		log.SetMinLevel(logging.Level(cfg.Log.Level))
	}

	log.Info(logging.CategoryManager, "starting", "cardhost starting", map[string]any{
		"version":     version,
		"run_id":      runID,
		"bus_driver":  cfg.Bus.Driver,
		"toolkit":     cfg.Toolkit.Driver,
		"apps_dir":    cfg.Apps.Dir,
		"api_enabled": cfg.API.Enabled,
	})

	serviceBus, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	defer serviceBus.Close()

	toolkit, err := buildToolkit(cfg)
	if err != nil {
		return fmt.Errorf("toolkit: %w", err)
	}
	defer toolkit.Close()

	apps, err := descriptor.NewRegistry(cfg.Apps.Dir)
	if err != nil {
		return fmt.Errorf("app registry: %w", err)
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	store, err := storage.New(filepath.Join(cfg.Data.Dir, "cardhost.db"))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	tracer, err := telemetry.NewTracerProvider("cardhost", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracer.Shutdown(shutdownCtx)
	}()

	hub := telemetry.NewHub()
	metrics := telemetry.NewMetrics(telemetry.NewRegistry())

	mgr, err := manager.New(manager.Config{
		Bus:     serviceBus,
		Toolkit: toolkit,
		Apps:    apps,
		Store:   store,
		Log:     log,
		Hub:     hub,
		Metrics: metrics,
	})
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}

	var watcher *descriptor.Watcher
	if cfg.Apps.Watch {
		watcher, err = descriptor.NewWatcher(apps, log)
		if err != nil {
			log.Warn(logging.CategoryDescriptor, "watch_unavailable", "descriptor watching disabled", map[string]any{
				"error": err.Error(),
			})
		} else {
			defer watcher.Close()
			watcher.Subscribe(func() {
				hub.Publish(telemetry.Event{
					Type:      telemetry.EventAppsChanged,
					Timestamp: time.Now(),
					Data:      map[string]any{"count": apps.Len()},
				})
			})
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = api.NewServer(api.Config{
			Bind:    cfg.API.Bind,
			Manager: mgr,
			Apps:    apps,
			Store:   store,
			Metrics: metrics,
			Log:     log,
		})
		if err != nil {
			return fmt.Errorf("api: %w", err)
		}
		group.Go(func() error {
			log.Info(logging.CategoryAPI, "listening", "management API listening", map[string]any{
				"bind": cfg.API.Bind,
			})
			return apiServer.ListenAndServe()
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if apiServer != nil {
			apiServer.Shutdown(shutdownCtx)
		}
		mgr.Shutdown(shutdownCtx)
		hub.Close()
		return nil
	})

	err = group.Wait()
	log.Info(logging.CategoryManager, "stopped", "cardhost stopped", map[string]any{
		"run_id": runID,
	})
	return err
}

func buildBus(cfg *config.Config) (bus.ServiceBus, error) {
	switch cfg.Bus.Driver {
	case "nats":
		return bus.NewNATSBus(bus.Config{
			URL:     cfg.Bus.URL,
			Name:    "cardhost",
			Timeout: cfg.Bus.Timeout,
		})
	case "memory":
		return bus.NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Bus.Driver)
	}
}

func buildToolkit(cfg *config.Config) (window.Toolkit, error) {
	switch cfg.Toolkit.Driver {
	case "luna":
		lunaCfg := luna.DefaultConfig()
		if cfg.Toolkit.Socket != "" {
			lunaCfg.SocketPath = cfg.Toolkit.Socket
		}
		return luna.NewToolkit(lunaCfg)
	case "memory":
		return window.NewMemoryToolkit(), nil
	default:
		return nil, fmt.Errorf("unknown toolkit driver %q", cfg.Toolkit.Driver)
	}
}

func printVersion() {
	fmt.Printf("cardhost %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
