package workspace

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/soullink/soullink/pkg/types"
)

// Scope selects what a reconciliation run compares and pushes.
type Scope string

const (
	ScopePrompts   Scope = "prompts"
	ScopeDocuments Scope = "documents"
	ScopeAll       Scope = "all"
)

// IsValidScope reports whether s is a known reconciliation scope.
func IsValidScope(s Scope) bool {
	return s == ScopePrompts || s == ScopeDocuments || s == ScopeAll
}

// FailedWorkspace records one workspace a reconciliation run could not
// bring up to date.
type FailedWorkspace struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// Result aggregates a reconciliation run. A run never aborts on the
// first failure; every workspace is attempted and the outcome reported
// per workspace.
type Result struct {
	Succeeded int               `json:"succeeded"`
	Skipped   int               `json:"skipped"`
	Failed    []FailedWorkspace `json:"failed"`
}

// Reconcile walks every workspace and pushes canonical state to those
// that lag it. Workspaces already at the canonical versions are
// skipped, which makes a second run after a successful one a no-op.
// Local canonical state always wins; remote configuration is never
// read back to decide anything except the document diff.
func (m *Manager) Reconcile(ctx context.Context, scope Scope) (*Result, error) {
	if !IsValidScope(scope) {
		return nil, fmt.Errorf("workspace: unknown reconcile scope %q", scope)
	}

	// The snapshot is pinned once so a config reload mid-run cannot
	// leave half the fleet on one version and half on another.
	snap := m.canonical.Snapshot()

	workspaces, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("workspace: list for reconcile: %w", err)
	}

	result := &Result{Failed: []FailedWorkspace{}}
	for _, ws := range workspaces {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		outcome, reason := m.reconcileOne(ctx, ws, snap, scope)
		switch outcome {
		case reconcileSkipped:
			result.Skipped++
			m.metrics.RecordReconcileOutcome("skipped")
		case reconcileSucceeded:
			result.Succeeded++
			m.metrics.RecordReconcileOutcome("success")
		case reconcileFailed:
			log.Printf("ERROR: Reconcile failed for user %s: %s", ws.UserID, reason)
			result.Failed = append(result.Failed, FailedWorkspace{
				UserID: ws.UserID,
				Reason: reason,
			})
			m.metrics.RecordReconcileOutcome("failure")
		}
	}

	log.Printf("Reconcile (%s): %d succeeded, %d skipped, %d failed",
		scope, result.Succeeded, result.Skipped, len(result.Failed))
	return result, nil
}

type reconcileOutcome int

const (
	reconcileSkipped reconcileOutcome = iota
	reconcileSucceeded
	reconcileFailed
)

func (m *Manager) reconcileOne(ctx context.Context, ws *types.Workspace, snap *Snapshot, scope Scope) (reconcileOutcome, string) {
	unlock := m.locks.Lock(ws.UserID)
	defer unlock()

	// Re-read under the lock; the listing may be stale by now.
	current, err := m.store.Get(ctx, ws.UserID)
	if err != nil {
		return reconcileFailed, fmt.Sprintf("load record: %v", err)
	}
	ws = current

	// Provisioning and failed workspaces belong to the provision (retry)
	// path. A failed record may carry a locally-minted slug with no
	// remote behind it; marking it sync-pending here would make
	// EnsureWorkspace return it as-is and never retry the create.
	if !ws.HasRemote() || ws.Status == types.WorkspaceProvisioning || ws.Status == types.WorkspaceFailed {
		return reconcileSkipped, ""
	}

	wantPrompts := scope == ScopePrompts || scope == ScopeAll
	wantDocuments := scope == ScopeDocuments || scope == ScopeAll

	needPrompts := wantPrompts &&
		(ws.LastSyncedPromptVersion < snap.PromptVersion || ws.Status == types.WorkspaceSyncPending)
	needDocuments := wantDocuments && ws.LastSyncedDocumentVersion < snap.DocumentVersion

	if !needPrompts && !needDocuments {
		return reconcileSkipped, ""
	}

	if needPrompts {
		if err := m.pushConfiguration(ctx, ws, snap); err != nil {
			m.persistLagging(ctx, ws)
			return reconcileFailed, err.Error()
		}
		ws.LastSyncedPromptVersion = snap.PromptVersion
	}

	if needDocuments {
		if err := m.reconcileDocuments(ctx, ws, snap); err != nil {
			m.persistLagging(ctx, ws)
			return reconcileFailed, err.Error()
		}
		ws.LastSyncedDocumentVersion = snap.DocumentVersion
	}

	ws.Status = types.WorkspaceReady
	ws.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, ws); err != nil {
		return reconcileFailed, fmt.Sprintf("persist synced state: %v", err)
	}
	return reconcileSucceeded, ""
}

// reconcileDocuments diffs the remote embedding set against the
// canonical document list and pushes only the delta.
func (m *Manager) reconcileDocuments(ctx context.Context, ws *types.Workspace, snap *Snapshot) error {
	remoteDocs, err := m.remote.GetWorkspaceDocuments(ctx, ws.Slug)
	if err != nil {
		return fmt.Errorf("list remote documents: %w", err)
	}

	have := make(map[string]bool, len(remoteDocs))
	for _, d := range remoteDocs {
		have[d] = true
	}
	want := make(map[string]bool, len(snap.Documents))
	for _, d := range snap.Documents {
		want[d] = true
	}

	var adds, deletes []string
	for _, d := range snap.Documents {
		if !have[d] {
			adds = append(adds, d)
		}
	}
	for _, d := range remoteDocs {
		if !want[d] {
			deletes = append(deletes, d)
		}
	}

	if len(adds) == 0 && len(deletes) == 0 {
		return nil
	}
	if err := m.remote.UpdateEmbeddings(ctx, ws.Slug, adds, deletes); err != nil {
		return fmt.Errorf("push document delta: %w", err)
	}
	return nil
}

// persistLagging records that the workspace still lags canonical state
// after a failed push, so the next run retries it.
func (m *Manager) persistLagging(ctx context.Context, ws *types.Workspace) {
	ws.Status = types.WorkspaceSyncPending
	ws.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, ws); err != nil {
		log.Printf("ERROR: Failed to persist sync-pending state for user %s: %v", ws.UserID, err)
	}
}
