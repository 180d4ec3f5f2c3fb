package workspace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/soullink/soullink/internal/anythingllm"
	"github.com/soullink/soullink/internal/observability"
	"github.com/soullink/soullink/internal/reliability"
	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/internal/userlock"
	"github.com/soullink/soullink/pkg/types"
)

// Remote is the subset of the AnythingLLM client the lifecycle needs.
type Remote interface {
	CreateWorkspace(ctx context.Context, name string) (*anythingllm.RemoteWorkspace, error)
	UpdateWorkspace(ctx context.Context, slug string, update anythingllm.WorkspaceUpdate) error
	UpdateEmbeddings(ctx context.Context, slug string, adds, deletes []string) error
	GetWorkspaceDocuments(ctx context.Context, slug string) ([]string, error)
	Chat(ctx context.Context, slug, message, sessionID string) (string, error)
	DeleteWorkspace(ctx context.Context, slug string) error
}

// MemoryTextFunc produces the memory block injected at {{memory}} for a
// user. An error leaves the block empty rather than failing the push.
type MemoryTextFunc func(ctx context.Context, userID string) (string, error)

// Manager drives the workspace lifecycle: absent, provisioning, ready,
// sync-pending, failed. All transitions for a user happen under the
// user's lock, and concurrent provisioning requests collapse into a
// single remote create through singleflight.
type Manager struct {
	store      storage.WorkspaceStore
	remote     Remote
	canonical  *Canonical
	locks      *userlock.Keyed
	metrics    *observability.Metrics
	memoryText MemoryTextFunc

	provisioning singleflight.Group
}

// NewManager creates a workspace lifecycle manager. memoryText may be
// nil, in which case rendered prompts carry an empty memory block.
func NewManager(store storage.WorkspaceStore, remote Remote, canonical *Canonical,
	locks *userlock.Keyed, metrics *observability.Metrics, memoryText MemoryTextFunc) *Manager {
	if locks == nil {
		locks = userlock.New()
	}
	return &Manager{
		store:      store,
		remote:     remote,
		canonical:  canonical,
		locks:      locks,
		metrics:    metrics,
		memoryText: memoryText,
	}
}

// EnsureWorkspace returns the user's workspace, provisioning it when
// absent or retrying when a previous attempt failed. Ready and
// sync-pending workspaces are returned unchanged; sync-pending is
// resolved by reconciliation, not here. The variant is fixed on first
// creation and ignored for existing workspaces.
func (m *Manager) EnsureWorkspace(ctx context.Context, userID string, variant types.Variant,
	displayName, language string) (*types.Workspace, error) {
	if userID == "" {
		return nil, errors.New("workspace: user ID is required")
	}
	if !types.IsValidVariant(variant) {
		variant = types.VariantFemale
	}

	result, err, _ := m.provisioning.Do(userID, func() (any, error) {
		return m.ensure(ctx, userID, variant, displayName, language)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Workspace), nil
}

func (m *Manager) ensure(ctx context.Context, userID string, variant types.Variant,
	displayName, language string) (*types.Workspace, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	ws, err := m.store.Get(ctx, userID)
	switch {
	case err == nil:
		switch ws.Status {
		case types.WorkspaceReady, types.WorkspaceSyncPending:
			return ws, nil
		case types.WorkspaceProvisioning, types.WorkspaceFailed:
			// A stale provisioning row means a previous attempt died
			// mid-flight; retry the same way a failed row is retried,
			// reusing any remote resource it recorded.
			return m.provision(ctx, ws)
		default:
			return nil, reliability.Consistency(
				fmt.Errorf("workspace: user %s has unknown status %q", userID, ws.Status))
		}
	case errors.Is(err, storage.ErrNotFound):
		now := time.Now().UTC()
		ws = &types.Workspace{
			UserID:      userID,
			Status:      types.WorkspaceProvisioning,
			Slug:        GenerateSlug(userID),
			Variant:     variant,
			DisplayName: displayName,
			Language:    language,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.Create(ctx, ws); err != nil {
			if errors.Is(err, storage.ErrWorkspaceExists) {
				return nil, reliability.Consistency(
					fmt.Errorf("workspace: concurrent create for user %s: %w", userID, err))
			}
			return nil, fmt.Errorf("workspace: persist provisioning record: %w", err)
		}
		return m.provision(ctx, ws)
	default:
		return nil, fmt.Errorf("workspace: load record for user %s: %w", userID, err)
	}
}

// provision drives a workspace from provisioning (or a failed retry)
// to ready. On failure the record is marked failed but keeps whatever
// remote identity was established, so a retry reuses the remote
// resource instead of orphaning it.
func (m *Manager) provision(ctx context.Context, ws *types.Workspace) (*types.Workspace, error) {
	ws.Status = types.WorkspaceProvisioning
	ws.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, ws); err != nil {
		return nil, fmt.Errorf("workspace: persist provisioning state: %w", err)
	}

	if err := m.provisionRemote(ctx, ws); err != nil {
		ws.Status = types.WorkspaceFailed
		ws.UpdatedAt = time.Now().UTC()
		if updateErr := m.store.Update(ctx, ws); updateErr != nil {
			log.Printf("ERROR: Failed to persist failed state for user %s: %v", ws.UserID, updateErr)
		}
		m.metrics.RecordProvisioning("failure")
		return nil, fmt.Errorf("workspace: provision user %s: %w", ws.UserID, err)
	}

	snap := m.canonical.Snapshot()
	ws.Status = types.WorkspaceReady
	ws.LastSyncedPromptVersion = snap.PromptVersion
	ws.LastSyncedDocumentVersion = snap.DocumentVersion
	ws.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, ws); err != nil {
		return nil, fmt.Errorf("workspace: persist ready state: %w", err)
	}

	m.metrics.RecordProvisioning("success")
	log.Printf("Provisioned workspace %s for user %s (variant %s)", ws.Slug, ws.UserID, ws.Variant)
	return ws, nil
}

func (m *Manager) provisionRemote(ctx context.Context, ws *types.Workspace) error {
	if !ws.HasRemote() || ws.RemoteID == "" {
		remote, err := m.remote.CreateWorkspace(ctx, ws.UserID)
		switch {
		case errors.Is(err, anythingllm.ErrAlreadyExists):
			// The remote resource survives from an earlier attempt; the
			// slug we asked for is reusable as is.
			log.Printf("WARNING: Remote workspace for user %s already exists, reusing slug %s",
				ws.UserID, ws.Slug)
		case err != nil:
			return fmt.Errorf("create remote workspace: %w", err)
		default:
			// The remote slug is authoritative even when it differs from
			// the requested one.
			if remote.Slug != "" {
				ws.Slug = remote.Slug
			}
			ws.RemoteID = fmt.Sprintf("%d", remote.ID)
		}
		ws.UpdatedAt = time.Now().UTC()
		if err := m.store.Update(ctx, ws); err != nil {
			return fmt.Errorf("persist remote identity: %w", err)
		}
	}

	snap := m.canonical.Snapshot()
	if err := m.pushConfiguration(ctx, ws, snap); err != nil {
		return err
	}
	if len(snap.Documents) > 0 {
		if err := m.remote.UpdateEmbeddings(ctx, ws.Slug, snap.Documents, nil); err != nil {
			return fmt.Errorf("push documents: %w", err)
		}
	}
	return nil
}

// pushConfiguration renders and pushes the full prompt plus provider
// settings for the workspace against the given canonical snapshot.
func (m *Manager) pushConfiguration(ctx context.Context, ws *types.Workspace, snap *Snapshot) error {
	memory := ""
	if m.memoryText != nil {
		text, err := m.memoryText(ctx, ws.UserID)
		if err != nil {
			log.Printf("WARNING: Memory block unavailable for user %s, rendering without it: %v",
				ws.UserID, err)
		} else {
			memory = text
		}
	}

	vc := snap.Variant(ws.Variant)
	prompt := RenderSystemPrompt(vc, PromptData{
		Memory:       memory,
		UserName:     ws.DisplayName,
		Language:     ws.Language,
		CurrentModel: snap.ChatModel,
	})

	update := anythingllm.WorkspaceUpdate{
		OpenAiPrompt:  &prompt,
		ChatMode:      &snap.ChatMode,
		OpenAiTemp:    &snap.Temperature,
		OpenAiHistory: &snap.History,
		ChatProvider:  &snap.ChatProvider,
		ChatModel:     &snap.ChatModel,
	}
	if err := m.remote.UpdateWorkspace(ctx, ws.Slug, update); err != nil {
		return fmt.Errorf("push configuration: %w", err)
	}
	return nil
}

// Reconfigure switches an existing workspace to a new variant and
// pushes the re-rendered prompt immediately. This is the only path
// that changes a workspace's variant after creation.
func (m *Manager) Reconfigure(ctx context.Context, userID string, variant types.Variant) (*types.Workspace, error) {
	if !types.IsValidVariant(variant) {
		return nil, fmt.Errorf("workspace: unknown variant %q", variant)
	}

	unlock := m.locks.Lock(userID)
	defer unlock()

	ws, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("workspace: load record for user %s: %w", userID, err)
	}
	if !ws.HasRemote() {
		return nil, fmt.Errorf("workspace: user %s has no remote workspace to reconfigure", userID)
	}

	ws.Variant = variant
	snap := m.canonical.Snapshot()
	if err := m.pushConfiguration(ctx, ws, snap); err != nil {
		ws.Status = types.WorkspaceSyncPending
		ws.UpdatedAt = time.Now().UTC()
		if updateErr := m.store.Update(ctx, ws); updateErr != nil {
			log.Printf("ERROR: Failed to persist sync-pending state for user %s: %v", userID, updateErr)
		}
		return nil, fmt.Errorf("workspace: reconfigure user %s: %w", userID, err)
	}

	ws.Status = types.WorkspaceReady
	ws.LastSyncedPromptVersion = snap.PromptVersion
	ws.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, ws); err != nil {
		return nil, fmt.Errorf("workspace: persist reconfigured state: %w", err)
	}
	return ws, nil
}

// MarkSyncPending flags the user's workspace as lagging the canonical
// state. Called when accumulated memory changes warrant a prompt
// refresh; the reconciler picks it up. Missing or unprovisioned
// workspaces are skipped quietly.
func (m *Manager) MarkSyncPending(userID string) {
	ctx := context.Background()
	unlock := m.locks.Lock(userID)
	defer unlock()

	ws, err := m.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("ERROR: Failed to load workspace for user %s: %v", userID, err)
		}
		return
	}
	if ws.Status != types.WorkspaceReady {
		return
	}

	ws.Status = types.WorkspaceSyncPending
	ws.UpdatedAt = time.Now().UTC()
	if err := m.store.Update(ctx, ws); err != nil {
		log.Printf("ERROR: Failed to mark workspace sync-pending for user %s: %v", userID, err)
	}
}

// Get returns the user's workspace record.
func (m *Manager) Get(ctx context.Context, userID string) (*types.Workspace, error) {
	return m.store.Get(ctx, userID)
}

// Chat ensures the user's workspace and relays one chat turn to it.
// contextBlock, when non-empty, is injected ahead of the message so the
// companion sees the user's current memory state even between prompt
// syncs.
func (m *Manager) Chat(ctx context.Context, userID string, variant types.Variant,
	displayName, language, contextBlock, message, sessionID string) (string, error) {
	ws, err := m.EnsureWorkspace(ctx, userID, variant, displayName, language)
	if err != nil {
		return "", err
	}
	if contextBlock != "" {
		message = "[What you currently remember about the user]\n" + contextBlock + "\n\n" + message
	}
	reply, err := m.remote.Chat(ctx, ws.Slug, message, sessionID)
	if err != nil {
		return "", fmt.Errorf("workspace: chat for user %s: %w", userID, err)
	}
	m.metrics.RecordChatTurn()
	return reply, nil
}

// Delete removes the remote workspace and the local record. The remote
// delete runs first; a missing remote resource is fine, anything else
// aborts before local state is lost.
func (m *Manager) Delete(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	ws, err := m.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("workspace: load record for user %s: %w", userID, err)
	}

	if ws.Slug != "" {
		if err := m.remote.DeleteWorkspace(ctx, ws.Slug); err != nil {
			return fmt.Errorf("workspace: delete remote workspace %s: %w", ws.Slug, err)
		}
	}
	if err := m.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("workspace: delete record for user %s: %w", userID, err)
	}
	log.Printf("Deleted workspace %s for user %s", ws.Slug, userID)
	return nil
}
