package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/pkg/types"
)

// ContextBlock is the token-bounded memory selection injected into a
// chat turn.
type ContextBlock struct {
	// Lines are the selected memory bullet lines, permanent tier first,
	// salience order within each tier.
	Lines []string

	// Omitted is the number of stored records left out for budget reasons.
	Omitted int

	// EstimatedTokens is the estimated cost of Lines.
	EstimatedTokens int
}

// Text renders the block as the newline-joined bullet list placed into
// the system prompt.
func (b *ContextBlock) Text() string {
	return strings.Join(b.Lines, "\n")
}

// estimateTokens approximates the token cost of s. Four characters per
// token is the usual rough cut for latin-script text; the budget check
// only needs to be consistent, not exact.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// BuildContext selects records for injection, walking tiers from
// permanent down to short-term in salience order, until adding the next
// record would exceed tokenBudget. Selection then stops: later, cheaper
// records are not back-filled, so output is a strict prefix of the
// ranked record sequence and deterministic for a given store state.
// This is a read-only operation.
func (e *Engine) BuildContext(ctx context.Context, userID string, tokenBudget int) (*ContextBlock, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}
	if tokenBudget < 0 {
		return nil, fmt.Errorf("%w: token budget must be >= 0", storage.ErrInvalidInput)
	}

	block := &ContextBlock{}
	full := false

	for _, tier := range types.Tiers {
		records, err := e.store.ListByTier(ctx, userID, tier)
		if err != nil {
			return nil, fmt.Errorf("list %s tier: %w", tier, err)
		}
		for _, rec := range records {
			if full {
				block.Omitted++
				continue
			}
			line := "- " + rec.Content
			cost := estimateTokens(line)
			if block.EstimatedTokens+cost > tokenBudget {
				full = true
				block.Omitted++
				continue
			}
			block.Lines = append(block.Lines, line)
			block.EstimatedTokens += cost
		}
	}

	e.metrics.RecordContextOmissions(block.Omitted)
	return block, nil
}

// ListAll returns every record the user holds, permanent tier first.
// Thin passthrough for the API surface.
func (e *Engine) ListAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error) {
	return e.store.ListAll(ctx, userID)
}

// DeleteRecord removes a single record on explicit user request.
func (e *Engine) DeleteRecord(ctx context.Context, userID, id string) error {
	unlock := e.locks.Lock(userID)
	defer unlock()
	return e.store.Delete(ctx, userID, id)
}

// DeleteUser removes all memory for the user (account deletion).
func (e *Engine) DeleteUser(ctx context.Context, userID string) (int, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()
	return e.store.DeleteUser(ctx, userID)
}
