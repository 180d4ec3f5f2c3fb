// Command soullink runs the companion backend: the HTTP API, the memory
// extraction pipeline, the workspace lifecycle manager, and the
// canonical-config watcher.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/soullink/soullink/internal/anythingllm"
	"github.com/soullink/soullink/internal/backup"
	"github.com/soullink/soullink/internal/config"
	"github.com/soullink/soullink/internal/llm"
	"github.com/soullink/soullink/internal/memory"
	"github.com/soullink/soullink/internal/observability"
	"github.com/soullink/soullink/internal/server"
	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/internal/storage/postgres"
	"github.com/soullink/soullink/internal/storage/sqlite"
	"github.com/soullink/soullink/internal/userlock"
	"github.com/soullink/soullink/internal/workspace"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[soullink] ")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("ERROR: Failed to load configuration: %v", err)
	}

	memStore, wsStore, closeStore, err := openStores(cfg)
	if err != nil {
		log.Fatalf("ERROR: Failed to open storage: %v", err)
	}
	defer closeStore()

	metrics := observability.NewMetrics("soullink")
	locks := userlock.New()

	// The extraction model is optional: without it chat still works and
	// personalization simply never grows.
	var generator llm.TextGenerator
	var gemini *llm.GeminiClient
	if cfg.LLM.GeminiAPIKey != "" {
		gemini, err = llm.NewGeminiClient(llm.GeminiConfig{
			BaseURL:           cfg.LLM.GeminiBaseURL,
			APIKey:            cfg.LLM.GeminiAPIKey,
			Model:             cfg.LLM.GeminiModel,
			RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		})
		if err != nil {
			log.Fatalf("ERROR: Failed to create Gemini client: %v", err)
		}
		generator = gemini
	} else {
		log.Printf("WARNING: SOULLINK_GEMINI_API_KEY not set, memory extraction is disabled")
	}

	engineConfig := memory.DefaultConfig()
	engineConfig.NumWorkers = cfg.Memory.NumWorkers
	engineConfig.QueueSize = cfg.Memory.QueueSize
	engineConfig.ConfidenceFloor = cfg.Memory.ConfidenceFloor
	engineConfig.HighConfidenceFloor = cfg.Memory.HighConfidenceFloor
	engineConfig.SyncEveryN = cfg.Memory.SyncEveryN

	engine, err := memory.NewEngine(memStore, generator, locks, metrics, engineConfig)
	if err != nil {
		log.Fatalf("ERROR: Failed to create memory engine: %v", err)
	}

	remote, err := anythingllm.NewClient(anythingllm.Config{
		BaseURL:     cfg.AnythingLLM.BaseURL,
		APIKey:      cfg.AnythingLLM.APIKey,
		Timeout:     cfg.AnythingLLM.Timeout,
		ChatTimeout: cfg.AnythingLLM.ChatTimeout,
	})
	if err != nil {
		log.Fatalf("ERROR: Failed to create AnythingLLM client: %v", err)
	}

	canonical, err := workspace.LoadCanonical(cfg.Workspace.CanonicalDir)
	if err != nil {
		log.Fatalf("ERROR: Failed to load canonical config: %v", err)
	}

	memoryText := func(ctx context.Context, userID string) (string, error) {
		block, err := engine.BuildContext(ctx, userID, cfg.Memory.ContextTokenBudget)
		if err != nil {
			return "", err
		}
		return block.Text(), nil
	}
	manager := workspace.NewManager(wsStore, remote, canonical, locks, metrics, memoryText)

	// Memory changes accumulate into deferred prompt syncs; the watcher
	// turns config edits into a fleet-wide reconcile.
	engine.OnSyncNeeded(manager.MarkSyncPending)

	var watcher *workspace.Watcher
	if cfg.Workspace.WatchEnabled {
		watcher, err = workspace.NewWatcher(canonical)
		if err != nil {
			log.Fatalf("ERROR: Failed to watch canonical config: %v", err)
		}
		watcher.OnChange(func(snap *workspace.Snapshot) {
			if _, err := manager.Reconcile(context.Background(), workspace.ScopeAll); err != nil {
				log.Printf("ERROR: Reconcile after config change: %v", err)
			}
		})
		go watcher.Watch(context.Background())
	}

	if generator != nil {
		if err := engine.Start(); err != nil {
			log.Fatalf("ERROR: Failed to start memory engine: %v", err)
		}
	}

	var backupCancel context.CancelFunc
	if cfg.Backup.Enabled && cfg.Storage.StorageEngine == "sqlite" {
		service, err := backup.NewService(backup.Config{
			SourcePath: filepath.Join(cfg.Storage.DataPath, "soullink.db"),
			Dir:        cfg.Backup.Dir,
			Interval:   cfg.Backup.Interval,
			Keep:       cfg.Backup.Keep,
			Verify:     cfg.Backup.Verify,
		})
		if err != nil {
			log.Fatalf("ERROR: Failed to create backup service: %v", err)
		}
		var backupCtx context.Context
		backupCtx, backupCancel = context.WithCancel(context.Background())
		go service.Run(backupCtx)
	}

	breakers := func() map[string]string {
		states := map[string]string{"anythingllm": remote.BreakerState()}
		if gemini != nil {
			states["gemini"] = gemini.BreakerState()
		}
		return states
	}

	srv := server.New(cfg, engine, manager, canonical, breakers)
	if _, err := srv.Start(); err != nil {
		log.Fatalf("ERROR: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP shutdown: %v", err)
	}
	if watcher != nil {
		watcher.Stop()
	}
	if backupCancel != nil {
		backupCancel()
	}
	if generator != nil {
		if err := engine.Stop(shutdownCtx); err != nil {
			log.Printf("ERROR: Engine shutdown: %v", err)
		}
	}
	log.Printf("Shutdown complete")
}

// openStores opens the configured storage engine and returns the memory
// and workspace store views plus a close function.
func openStores(cfg *config.Config) (storage.MemoryStore, storage.WorkspaceStore, func(), error) {
	switch cfg.Storage.StorageEngine {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("create data directory: %w", err)
		}
		store, err := sqlite.NewStore(filepath.Join(cfg.Storage.DataPath, "soullink.db"))
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store.Workspaces(), func() { store.Close() }, nil
	case "postgres":
		store, err := postgres.NewStore(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return store, store.Workspaces(), func() { store.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.StorageEngine)
	}
}
