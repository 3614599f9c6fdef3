// Command conveyor-engine is the plan engine's entrypoint: it loads
// EngineConfig, wires the Plan Store Facade, the cloud driver registry, the
// Lifecycle Manager, the Mutation Engine, the Clone/Migrate Orchestrator,
// and the HTTP surface, then serves (spec.md §6, §9).
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hybrid-Cloud/conveyor/driver"
	"github.com/Hybrid-Cloud/conveyor/driver/agent"
	"github.com/Hybrid-Cloud/conveyor/engineconfig"
	"github.com/Hybrid-Cloud/conveyor/httpapi"
	"github.com/Hybrid-Cloud/conveyor/lifecycle"
	"github.com/Hybrid-Cloud/conveyor/mutation"
	"github.com/Hybrid-Cloud/conveyor/orchestrator"
	"github.com/Hybrid-Cloud/conveyor/planlock"
	"github.com/Hybrid-Cloud/conveyor/planstore"
	"github.com/Hybrid-Cloud/conveyor/resourcemodel"
)

func main() {
	configPath := flag.String("config", "/etc/conveyor/engine.yaml", "path to the engine YAML config")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := run(*configPath, logger); err != nil {
		logger.Error("conveyor-engine exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := engineconfig.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	cloudDriver, err := buildCloudDriver(ctx, cfg)
	if err != nil {
		return err
	}
	registry := driver.NewRegistry(cloudDriver)

	if stackDrv, ok, err := buildStackEngineDriver(ctx, cfg); err != nil {
		return err
	} else if ok {
		registry.Register(resourcemodel.TypeStack, &stackEngineOverride{CloudDriver: cloudDriver, stack: stackDrv})
	}

	// ResourceManagers routes individual resource types to a driver other
	// than CloneDriver (spec.md §9, engineconfig.EngineConfig.DriverFor).
	// This binary only ever links in one non-stack-engine cloud SDK per
	// build tag, so the only override name it can actually satisfy besides
	// CloneDriver itself is "stack_engine" (handled above); any other name
	// is logged and ignored rather than silently routed to the wrong cloud.
	for resType, driverName := range cfg.ResourceManagers {
		if driverName == cfg.CloneDriver || driverName == "stack_engine" {
			continue
		}
		logger.Warn("resource_managers entry names a driver this binary cannot build", "resource_type", resType, "driver", driverName)
	}

	extractor, _ := cloudDriver.(mutation.Extractor)
	subnets, _ := cloudDriver.(mutation.SubnetPoolResolver)
	mutator := mutation.NewEngine(extractor, subnets).WithRegistry(registry)

	locks := planlock.New()
	expireAfter, err := cfg.PlanExpireDuration()
	if err != nil {
		return err
	}
	manager := lifecycle.NewManager(store, locks, mutator, expireAfter, logger)

	agentClient := agent.NewClient(nil)
	orch := orchestrator.New(store, locks, registry, agentClient, cfg, nil, logger)

	handler := httpapi.NewHandler(manager, orch, store, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("conveyor-engine listening", "addr", cfg.HTTPAddr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildStore(ctx context.Context, cfg *engineconfig.EngineConfig) (planstore.Store, func(), error) {
	switch cfg.Store.Backend {
	case "", "memory":
		return planstore.NewInMemoryStore(), func() {}, nil
	case "postgres":
		pg, err := planstore.NewPGStore(ctx, planstore.PGConfig{DSN: cfg.Store.DSN})
		if err != nil {
			return nil, nil, err
		}
		if err := planstore.NewMigrator(pg.Pool()).Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil
	default:
		return nil, nil, errors.New("conveyor-engine: unknown store backend " + cfg.Store.Backend)
	}
}
