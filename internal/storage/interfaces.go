// Package storage provides the persistence interfaces for the SoulLink
// system.
//
// The storage layer is deliberately primitive: stores persist records and
// enforce uniqueness constraints, while all tiering, scoring, and lifecycle
// logic lives in the engine and workspace packages. Backends (SQLite,
// Postgres) implement these interfaces independently.
package storage

import (
	"context"
	"time"

	"github.com/soullink/soullink/pkg/types"
)

// MemoryStore persists tiered memory records.
//
// Implementations must enforce uniqueness on (user_id, tier, content_hash)
// so that a retried Upsert can never double-insert a fact. Callers are
// responsible for per-user serialization of mutations.
type MemoryStore interface {
	// Upsert inserts the record, or replaces the existing row with the
	// same (user_id, tier, content_hash). The caller supplies all fields,
	// including the recomputed salience and reinforcement count.
	Upsert(ctx context.Context, record *types.MemoryRecord) error

	// Update rewrites an existing record by ID, including tier moves
	// during promotion. Returns ErrNotFound if the record doesn't exist.
	Update(ctx context.Context, record *types.MemoryRecord) error

	// Get retrieves a record by ID. Returns ErrNotFound if missing.
	Get(ctx context.Context, userID, id string) (*types.MemoryRecord, error)

	// GetByHash finds the record with the given normalized content hash in
	// any tier for the user. A fact never exists in two tiers at once, so
	// at most one row matches. Returns ErrNotFound if no tier holds it.
	GetByHash(ctx context.Context, userID, contentHash string) (*types.MemoryRecord, error)

	// GetByContent finds a record by exact content text in any tier.
	// Used to resolve correction targets. Returns ErrNotFound if missing.
	GetByContent(ctx context.Context, userID, content string) (*types.MemoryRecord, error)

	// ListByTier returns the user's records in one tier ordered by
	// salience descending, ties broken by last_reinforced_at descending.
	ListByTier(ctx context.Context, userID string, tier types.Tier) ([]*types.MemoryRecord, error)

	// ListAll returns all of the user's records ordered permanent first,
	// then long-term, then short-term, salience descending within a tier.
	ListAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error)

	// CountByTier returns the number of records the user holds in a tier.
	CountByTier(ctx context.Context, userID string, tier types.Tier) (int, error)

	// EvictionCandidate returns the record that capacity eviction should
	// remove from the tier: lowest salience, ties broken by oldest
	// last_reinforced_at. Returns ErrNotFound on an empty tier.
	EvictionCandidate(ctx context.Context, userID string, tier types.Tier) (*types.MemoryRecord, error)

	// Delete removes a record by ID. Returns ErrNotFound if missing.
	Delete(ctx context.Context, userID, id string) error

	// EvictStale removes records in the tier whose last_reinforced_at is
	// before cutoff. Returns the number of evicted records. Callers must
	// never pass the permanent tier.
	EvictStale(ctx context.Context, userID string, tier types.Tier, cutoff time.Time) (int, error)

	// DeleteUser removes every record the user holds (account deletion).
	DeleteUser(ctx context.Context, userID string) (int, error)

	// Close releases any resources held by the store.
	Close() error
}

// WorkspaceStore persists the user to remote-workspace mapping.
//
// Implementations must enforce at most one workspace row per user_id;
// "absent" is modeled as the row not existing.
type WorkspaceStore interface {
	// Get retrieves the user's workspace. Returns ErrNotFound when the
	// workspace is absent.
	Get(ctx context.Context, userID string) (*types.Workspace, error)

	// Create inserts a new workspace record. Returns ErrWorkspaceExists
	// if the user already has one; callers treat that as a consistency
	// violation, not something to silently resolve.
	Create(ctx context.Context, workspace *types.Workspace) error

	// Update rewrites the user's workspace record. Returns ErrNotFound
	// if the workspace is absent.
	Update(ctx context.Context, workspace *types.Workspace) error

	// List returns every workspace record. Used by reconciliation.
	List(ctx context.Context) ([]*types.Workspace, error)

	// Delete removes the user's workspace record (account deletion only;
	// workspaces are never deleted automatically).
	Delete(ctx context.Context, userID string) error

	// Close releases any resources held by the store.
	Close() error
}
