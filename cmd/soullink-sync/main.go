// Command soullink-sync runs a one-shot bulk reconciliation of every
// workspace against the canonical configuration and prints the
// aggregate result. Intended for cron jobs and operator use after a
// prompt or document rollout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/soullink/soullink/internal/anythingllm"
	"github.com/soullink/soullink/internal/config"
	"github.com/soullink/soullink/internal/memory"
	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/internal/storage/postgres"
	"github.com/soullink/soullink/internal/storage/sqlite"
	"github.com/soullink/soullink/internal/userlock"
	"github.com/soullink/soullink/internal/workspace"
)

func main() {
	scopeFlag := flag.String("scope", "all", "what to reconcile: prompts, documents, or all")
	timeoutFlag := flag.Duration("timeout", 10*time.Minute, "overall run timeout")
	flag.Parse()

	log.SetFlags(0)

	scope := workspace.Scope(*scopeFlag)
	if !workspace.IsValidScope(scope) {
		log.Fatalf("ERROR: invalid scope %q (want prompts, documents, or all)", *scopeFlag)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("ERROR: Failed to load configuration: %v", err)
	}

	memStore, wsStore, closeStore, err := openStores(cfg)
	if err != nil {
		log.Fatalf("ERROR: Failed to open storage: %v", err)
	}
	defer closeStore()

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

	// The engine is used only for read-only context building here; the
	// extraction pipeline is never started.
	locks := userlock.New()
	engine, err := memory.NewEngine(memStore, nil, locks, nil, memory.DefaultConfig())
	if err != nil {
		log.Fatalf("ERROR: Failed to create memory engine: %v", err)
	}
	memoryText := func(ctx context.Context, userID string) (string, error) {
		block, err := engine.BuildContext(ctx, userID, cfg.Memory.ContextTokenBudget)
		if err != nil {
			return "", err
		}
		return block.Text(), nil
	}

	manager := workspace.NewManager(wsStore, remote, canonical, locks, nil, memoryText)

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	start := time.Now()
	result, err := manager.Reconcile(ctx, scope)
	if err != nil {
		log.Fatalf("ERROR: Reconcile failed: %v", err)
	}

	fmt.Printf("Reconcile (%s) finished in %s\n", scope, time.Since(start).Round(time.Millisecond))
	fmt.Printf("  succeeded: %d\n", result.Succeeded)
	fmt.Printf("  skipped:   %d\n", result.Skipped)
	fmt.Printf("  failed:    %d\n", len(result.Failed))
	for _, f := range result.Failed {
		fmt.Printf("    %s: %s\n", f.UserID, f.Reason)
	}

	if len(result.Failed) > 0 {
		os.Exit(1)
	}
}

func openStores(cfg *config.Config) (storage.MemoryStore, storage.WorkspaceStore, func(), error) {
	switch cfg.Storage.StorageEngine {
	case "sqlite":
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
