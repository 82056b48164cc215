// StateRelay keeps conversation, task-board, and workspace state in sync
// between two peers using versioned JSON Patch exchange with conflict
// resolution.
//
// Usage:
//
//	staterelay daemon [--config <path>]     # connect to peer and sync continuously
//	staterelay sync-once [--config <path>]  # single sync transaction then exit
//	staterelay serve [--config <path>]      # host the WebSocket sync endpoint
//	staterelay status                       # show config & snapshot DB state
//	staterelay version                      # print version
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
	"time"

	"github.com/haidar-ali/staterelay/internal/board"
	"github.com/haidar-ali/staterelay/internal/config"
	"github.com/haidar-ali/staterelay/internal/conversation"
	"github.com/haidar-ali/staterelay/internal/model"
	"github.com/haidar-ali/staterelay/internal/snapshot"
	syncp "github.com/haidar-ali/staterelay/internal/sync"
	"github.com/haidar-ali/staterelay/internal/telemetry"
	"github.com/haidar-ali/staterelay/internal/transport"
	"github.com/haidar-ali/staterelay/internal/workspace"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	switch cmd := os.Args[1]; cmd {
	case "daemon":
		return runSync(os.Args[2:], true)
	case "sync-once":
		return runSync(os.Args[2:], false)
	case "serve":
		return runServe(os.Args[2:])
	case "status":
		return runStatus()
	case "version":
		fmt.Println("staterelay", version)
		return nil
	default:
		return fmt.Errorf("unknown command %q — run 'staterelay' for usage", cmd)
	}
}

// printUsage shows help and points at the config location.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "StateRelay — sync IDE state between two peers")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  staterelay daemon [--config ...]      Connect to peer and sync continuously")
	fmt.Fprintln(os.Stderr, "  staterelay sync-once [--config ...]   Single sync transaction then exit")
	fmt.Fprintln(os.Stderr, "  staterelay serve [--config ...]       Host the WebSocket sync endpoint")
	fmt.Fprintln(os.Stderr, "  staterelay status                     Show config & snapshot DB state")
	fmt.Fprintln(os.Stderr, "  staterelay version                    Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found. Create one at %s to get started.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Subcommands -------------------------------------------------------------

// runSync handles both "daemon" and "sync-once" subcommands.
func runSync(args []string, daemon bool) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return startSync(*cfgPath, *verbose, daemon)
}

// runServe hosts the WebSocket sync endpoint for a remote peer to connect to.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	defaultCfg, _ := config.DefaultPath()
	cfgPath := fs.String("config", defaultCfg, "path to config.yaml")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(*verbose)
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", *cfgPath, err)
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	server := transport.NewServer(app.engine, func(conflicts []model.Conflict) {
		app.resolveConflicts(conflicts, logger)
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/sync", server)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving sync endpoint", "addr", cfg.ListenAddr, "path", "/sync")
		errCh <- httpSrv.ListenAndServe()
	}()

	// Persist snapshots on an interval while serving.
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("http shutdown", "error", err)
			}
			app.persist(context.Background(), logger)
			logger.Info("shutdown complete")
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("sync endpoint: %w", err)
		case <-ticker.C:
			app.persist(ctx, logger)
		}
	}
}

// runStatus prints the current configuration and snapshot DB state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()
	dbPath, _ := snapshot.DefaultDBPath()

	fmt.Println("StateRelay Status")
	fmt.Println("─────────────────")

	if _, err := os.Stat(cfgPath); err == nil {
		if cfg, loadErr := config.Load(cfgPath); loadErr == nil {
			fmt.Printf("  Config:    %s ✓\n", cfgPath)
			fmt.Printf("  Peer:      %s\n", orNone(cfg.PeerURL))
			fmt.Printf("  Listen:    %s\n", cfg.ListenAddr)
			fmt.Printf("  Entities:  %d type(s)\n", len(cfg.Entities))
			fmt.Printf("  Interval:  %s\n", cfg.SyncInterval)
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:    not found (%s)\n", cfgPath)
	}

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Printf("  Snapshots: %s (%s)\n", dbPath, humanSize(info.Size()))
	} else {
		fmt.Printf("  Snapshots: not found\n")
	}

	return nil
}

// --- Sync core (shared by daemon and sync-once) ------------------------------

// startSync is the shared implementation for daemon and sync-once modes.
func startSync(cfgPath string, verbose, daemon bool) error {
	logger := newLogger(verbose)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}
	if cfg.PeerURL == "" {
		return fmt.Errorf("peer_url is required for daemon and sync-once")
	}
	logger.Info("config loaded",
		"peer_url", cfg.PeerURL,
		"sync_interval", cfg.SyncInterval,
		"entities", len(cfg.Entities),
	)

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	// --- Engine, snapshots, adapters -----------------------------------------

	app, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Peer connection -----------------------------------------------------

	client, err := transport.Dial(ctx, cfg.PeerURL, logger)
	if err != nil {
		return fmt.Errorf("connecting to peer: %w", err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Error("closing peer connection", "error", closeErr)
		}
	}()

	// --- Dispatch mode -------------------------------------------------------

	if !daemon {
		logger.Info("running single sync transaction")
		return app.syncOnce(ctx, client, logger)
	}

	logger.Info("daemon starting", "sync_interval", cfg.SyncInterval)
	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			app.persist(context.Background(), logger)
			logger.Info("shutdown complete")
			return nil
		case <-app.engine.SyncNeeded():
			if err := app.syncOnce(ctx, client, logger); err != nil {
				logger.Error("immediate sync failed", "error", err)
			}
		case <-ticker.C:
			if err := app.syncOnce(ctx, client, logger); err != nil {
				logger.Error("scheduled sync failed", "error", err)
			}
		}
	}
}

// --- Application wiring ------------------------------------------------------

// app bundles the engine with its snapshot store and entity adapters.
type app struct {
	engine *syncp.Engine
	store  *snapshot.Store
	merges map[string]syncp.MergeFunc
}

// buildApp opens the snapshot store, constructs the engine, registers the
// configured entity types, and reseeds baselines from persisted snapshots.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	dbPath := cfg.SnapshotDB
	if dbPath == "" {
		var err error
		dbPath, err = snapshot.DefaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolving snapshot DB path: %w", err)
		}
	}
	store, err := snapshot.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot DB at %q: %w", dbPath, err)
	}
	logger.Info("snapshot DB opened", "path", dbPath)

	engine := syncp.New(logger)

	adapters := []syncp.Adapter{
		conversation.NewAdapter(),
		board.NewAdapter(),
		workspace.NewAdapter(),
	}
	merges := make(map[string]syncp.MergeFunc, len(adapters))
	for _, a := range adapters {
		merges[a.EntityType()] = a.Merge
	}

	for _, e := range cfg.Entities {
		strategy, err := model.ParseStrategy(e.Strategy)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("entity %q: %w", e.Type, err)
		}
		if err := engine.RegisterEntityType(e.Type, e.Priority, strategy); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("registering entity %q: %w", e.Type, err)
		}
	}

	// Reseed baselines from the last persisted snapshots.
	states, err := store.LoadAll(context.Background(), "")
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("loading snapshots: %w", err)
	}
	for _, s := range states {
		if err := engine.TrackState(s); err != nil {
			logger.Warn("skipping stored snapshot", "key", s.Key(), "error", err)
		}
	}
	if len(states) > 0 {
		logger.Info("baselines reseeded from snapshots", "count", len(states))
	}

	return &app{engine: engine, store: store, merges: merges}, nil
}

// syncOnce runs one sync transaction against the peer, auto-resolves any
// conflicts it produced, and persists the resulting baselines.
func (a *app) syncOnce(ctx context.Context, client *transport.Client, logger *slog.Logger) error {
	res, err := a.engine.PerformSync(ctx, client.SendPatches, client.ReceivePatches)
	if err != nil {
		return err
	}
	if len(res.Conflicts) > 0 {
		a.resolveConflicts(res.Conflicts, logger)
	}
	a.persist(ctx, logger)
	return nil
}

// resolveConflicts merges each conflict with the owning adapter's policy.
// Conflicts on entity types without a registered merge fall back to keeping
// the local fork.
func (a *app) resolveConflicts(conflicts []model.Conflict, logger *slog.Logger) {
	for _, c := range conflicts {
		merge, ok := a.merges[c.EntityType]
		resolution := model.ResolutionMerge
		if !ok {
			resolution = model.ResolutionLocal
			logger.Warn("no merge policy for entity type, keeping local fork",
				"type", c.EntityType, "id", c.EntityID)
		}
		if err := a.engine.ResolveConflict(c.EntityID, c.EntityType, resolution, merge); err != nil {
			logger.Error("conflict resolution failed",
				"type", c.EntityType, "id", c.EntityID, "error", err)
		}
	}
}

// persist writes every tracked baseline to the snapshot store.
func (a *app) persist(ctx context.Context, logger *slog.Logger) {
	for _, s := range a.engine.States() {
		if err := a.store.Save(ctx, s); err != nil {
			logger.Error("persisting snapshot", "key", s.Key(), "error", err)
		}
	}
}

func (a *app) close(logger *slog.Logger) {
	if err := a.store.Close(); err != nil {
		logger.Error("closing snapshot DB", "error", err)
	}
}

// --- Helpers -----------------------------------------------------------------

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
