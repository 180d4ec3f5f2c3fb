package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/pkg/types"
)

const workspaceColumns = `user_id, status, remote_id, slug, variant, display_name, language,
	last_synced_prompt_version, last_synced_document_version, created_at, updated_at`

// GetWorkspace retrieves the user's workspace record.
func (s *Store) GetWorkspace(ctx context.Context, userID string) (*types.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces WHERE user_id = ?`, userID)
	return scanWorkspace(row.Scan)
}

// CreateWorkspace inserts a new workspace record. The primary key on
// user_id enforces the at-most-one-workspace-per-user invariant; a
// constraint violation surfaces as ErrWorkspaceExists.
func (s *Store) CreateWorkspace(ctx context.Context, workspace *types.Workspace) error {
	if workspace.UserID == "" || !types.IsValidWorkspaceStatus(workspace.Status) {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspaces (`+workspaceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		workspace.UserID, string(workspace.Status), workspace.RemoteID,
		workspace.Slug, string(workspace.Variant),
		workspace.DisplayName, workspace.Language,
		workspace.LastSyncedPromptVersion, workspace.LastSyncedDocumentVersion,
		workspace.CreatedAt.UnixNano(), workspace.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrWorkspaceExists
		}
		return fmt.Errorf("create workspace: %w", err)
	}
	return nil
}

// UpdateWorkspace rewrites the user's workspace record.
func (s *Store) UpdateWorkspace(ctx context.Context, workspace *types.Workspace) error {
	if workspace.UserID == "" || !types.IsValidWorkspaceStatus(workspace.Status) {
		return storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET
			status = ?,
			remote_id = ?,
			slug = ?,
			variant = ?,
			display_name = ?,
			language = ?,
			last_synced_prompt_version = ?,
			last_synced_document_version = ?,
			updated_at = ?
		WHERE user_id = ?`,
		string(workspace.Status), workspace.RemoteID, workspace.Slug,
		string(workspace.Variant), workspace.DisplayName, workspace.Language,
		workspace.LastSyncedPromptVersion,
		workspace.LastSyncedDocumentVersion, workspace.UpdatedAt.UnixNano(),
		workspace.UserID,
	)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return requireRowAffected(res)
}

// ListWorkspaces returns every workspace record ordered by user_id for
// deterministic reconciliation passes.
func (s *Store) ListWorkspaces(ctx context.Context) ([]*types.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workspaceColumns+` FROM workspaces ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var workspaces []*types.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows.Scan)
		if err != nil {
			return nil, err
		}
		workspaces = append(workspaces, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return workspaces, nil
}

// DeleteWorkspace removes the user's workspace record (account deletion
// only; workspaces are never deleted automatically).
func (s *Store) DeleteWorkspace(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workspaces WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return requireRowAffected(res)
}

// WorkspaceStore adapts the Store to the storage.WorkspaceStore
// interface, whose method names collide with the memory methods.
type WorkspaceStore struct {
	*Store
}

// Workspaces returns the workspace-store view of s.
func (s *Store) Workspaces() *WorkspaceStore {
	return &WorkspaceStore{Store: s}
}

func (w *WorkspaceStore) Get(ctx context.Context, userID string) (*types.Workspace, error) {
	return w.GetWorkspace(ctx, userID)
}

func (w *WorkspaceStore) Create(ctx context.Context, workspace *types.Workspace) error {
	return w.CreateWorkspace(ctx, workspace)
}

func (w *WorkspaceStore) Update(ctx context.Context, workspace *types.Workspace) error {
	return w.UpdateWorkspace(ctx, workspace)
}

func (w *WorkspaceStore) List(ctx context.Context) ([]*types.Workspace, error) {
	return w.ListWorkspaces(ctx)
}

func (w *WorkspaceStore) Delete(ctx context.Context, userID string) error {
	return w.DeleteWorkspace(ctx, userID)
}

// scanWorkspace scans one workspace row via the given scan function,
// translating sql.ErrNoRows to storage.ErrNotFound.
func scanWorkspace(scan func(dest ...any) error) (*types.Workspace, error) {
	var (
		ws           types.Workspace
		status       string
		variant      string
		createdNanos int64
		updatedNanos int64
	)
	err := scan(&ws.UserID, &status, &ws.RemoteID, &ws.Slug, &variant,
		&ws.DisplayName, &ws.Language,
		&ws.LastSyncedPromptVersion, &ws.LastSyncedDocumentVersion,
		&createdNanos, &updatedNanos)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	ws.Status = types.WorkspaceStatus(status)
	ws.Variant = types.Variant(variant)
	ws.CreatedAt = time.Unix(0, createdNanos).UTC()
	ws.UpdatedAt = time.Unix(0, updatedNanos).UTC()
	return &ws, nil
}

// isUniqueViolation detects a SQLite primary key / unique constraint
// failure without depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed")
}
