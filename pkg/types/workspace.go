package types

import "time"

// WorkspaceStatus tracks the provisioning lifecycle of a user's remote
// execution context.
type WorkspaceStatus string

const (
	// WorkspaceProvisioning means a create call is in flight. Concurrent
	// callers observe this state instead of issuing a duplicate call.
	WorkspaceProvisioning WorkspaceStatus = "provisioning"

	// WorkspaceReady means the remote workspace exists and is configured
	// with the current canonical prompt and documents.
	WorkspaceReady WorkspaceStatus = "ready"

	// WorkspaceSyncPending means the workspace exists but its prompt or
	// document state lags the canonical config.
	WorkspaceSyncPending WorkspaceStatus = "sync-pending"

	// WorkspaceFailed means provisioning or configuration failed
	// unrecoverably. A retry path leads back to provisioning. If the
	// remote create partially succeeded, RemoteID is still recorded so a
	// retry can reuse the remote resource instead of orphaning it.
	WorkspaceFailed WorkspaceStatus = "failed"
)

// IsValidWorkspaceStatus reports whether s is a known lifecycle state.
func IsValidWorkspaceStatus(s WorkspaceStatus) bool {
	switch s {
	case WorkspaceProvisioning, WorkspaceReady, WorkspaceSyncPending, WorkspaceFailed:
		return true
	}
	return false
}

// Variant selects the companion persona and prompt template for a
// workspace. Fixed at creation; changed only by explicit reconfigure.
type Variant string

const (
	VariantFemale Variant = "female"
	VariantMale   Variant = "male"
)

// IsValidVariant reports whether v is a known companion variant.
func IsValidVariant(v Variant) bool {
	return v == VariantFemale || v == VariantMale
}

// Workspace is the local record of a user's remote AI execution
// context. At most one non-absent workspace exists per user; "absent"
// is represented by the record simply not existing in the store.
type Workspace struct {
	UserID string          `json:"user_id"`
	Status WorkspaceStatus `json:"status"`

	// RemoteID and Slug identify the workspace on the remote side. The
	// slug returned by the remote create call is authoritative and may
	// differ from the one we requested.
	RemoteID string `json:"remote_id,omitempty"`
	Slug     string `json:"slug,omitempty"`

	Variant Variant `json:"variant"`

	// DisplayName and Language personalize the rendered system prompt.
	DisplayName string `json:"display_name,omitempty"`
	Language    string `json:"language,omitempty"`

	// Versions of the canonical config last pushed successfully. Drift
	// is detected by comparing these against the current canonical
	// versions; they only advance after a successful remote push.
	LastSyncedPromptVersion   int64 `json:"last_synced_prompt_version"`
	LastSyncedDocumentVersion int64 `json:"last_synced_document_version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRemote reports whether a remote resource is referenced locally.
func (w *Workspace) HasRemote() bool {
	return w.RemoteID != "" || w.Slug != ""
}
