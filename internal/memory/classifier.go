package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/pkg/types"
)

// ClassifyOutcome summarizes what one classification pass did to the
// user's memory.
type ClassifyOutcome struct {
	Inserted     int
	Reinforced   int
	Promoted     int
	Corrected    int
	Evicted      int
	StaleEvicted int
	Failed       int
}

// Changed reports whether the pass mutated stored memory.
func (o *ClassifyOutcome) Changed() bool {
	return o.Inserted > 0 || o.Reinforced > 0 || o.Promoted > 0 ||
		o.Corrected > 0 || o.Evicted > 0 || o.StaleEvicted > 0
}

// Classify runs one consolidation pass for the user: expire stale
// records, apply corrections, then fold each candidate in. A candidate
// whose normalized hash already exists in any tier reinforces that
// record (a fact never duplicates across tiers); otherwise it enters
// short-term, evicting the lowest-salience short-term record if the
// tier is at capacity.
//
// The pass holds the user's lock for its whole duration. Individual
// store failures are logged and counted, never fatal to the pass.
func (e *Engine) Classify(ctx context.Context, userID string, candidates []types.Candidate, corrections []types.Correction, sourceConversationID string) (*ClassifyOutcome, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", storage.ErrInvalidInput)
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	now := time.Now().UTC()
	outcome := &ClassifyOutcome{}

	e.evictStale(ctx, userID, now, outcome)

	for _, corr := range corrections {
		if err := e.applyCorrection(ctx, userID, corr, now, outcome); err != nil {
			log.Printf("ERROR: correction failed for user %s: %v", userID, err)
			e.metrics.RecordExtractionFailure("classify")
			outcome.Failed++
		}
	}

	for _, cand := range candidates {
		if err := e.classifyCandidate(ctx, userID, cand, now, sourceConversationID, outcome); err != nil {
			log.Printf("ERROR: classification failed for user %s: %v", userID, err)
			e.metrics.RecordExtractionFailure("classify")
			outcome.Failed++
		}
	}

	return outcome, nil
}

// evictStale removes records in decaying tiers whose last reinforcement
// is older than the tier's TTL. The permanent tier never decays.
func (e *Engine) evictStale(ctx context.Context, userID string, now time.Time, outcome *ClassifyOutcome) {
	for tier, policy := range e.config.Policies {
		if !policy.Decays || policy.StaleTTL <= 0 {
			continue
		}
		n, err := e.store.EvictStale(ctx, userID, tier, now.Add(-policy.StaleTTL))
		if err != nil {
			log.Printf("ERROR: stale eviction failed for user %s tier %s: %v", userID, tier, err)
			outcome.Failed++
			continue
		}
		if n > 0 {
			log.Printf("Evicted %d stale %s records for user %s", n, tier, userID)
			outcome.StaleEvicted += n
		}
	}
}

func (e *Engine) classifyCandidate(ctx context.Context, userID string, cand types.Candidate, now time.Time, sourceConversationID string, outcome *ClassifyOutcome) error {
	hash := ContentHash(cand.Content)

	existing, err := e.store.GetByHash(ctx, userID, hash)
	switch {
	case err == nil:
		return e.reinforce(ctx, existing, cand.Confidence, now, outcome)
	case errors.Is(err, storage.ErrNotFound):
		return e.insertShortTerm(ctx, userID, cand, hash, now, sourceConversationID, outcome)
	default:
		return fmt.Errorf("lookup by hash: %w", err)
	}
}

// reinforce bumps an existing record and applies the promotion rule.
// Promotion moves at most one tier per reinforcement and is
// one-directional; records never demote by tier.
func (e *Engine) reinforce(ctx context.Context, rec *types.MemoryRecord, confidence float64, now time.Time, outcome *ClassifyOutcome) error {
	if err := e.applyReinforcement(ctx, rec, confidence, now, outcome); err != nil {
		return err
	}
	e.metrics.RecordMemoryMutation("reinforce")
	outcome.Reinforced++
	return nil
}

// applyReinforcement bumps, rescores, and persists the record without
// counting the pass as a reinforcement. The correction-merge path uses
// it directly so a merge counts once, as a correction.
func (e *Engine) applyReinforcement(ctx context.Context, rec *types.MemoryRecord, confidence float64, now time.Time, outcome *ClassifyOutcome) error {
	rec.ReinforcementCount++
	rec.LastReinforcedAt = now
	if confidence > rec.Confidence {
		rec.Confidence = confidence
	}
	e.scorer.Rescore(rec, now)

	promoted, err := e.maybePromote(ctx, rec, outcome)
	if err != nil {
		return err
	}
	if !promoted {
		if err := e.store.Update(ctx, rec); err != nil {
			return fmt.Errorf("update reinforced record: %w", err)
		}
	}
	return nil
}

// maybePromote moves rec to the next tier when its reinforcement count
// crosses the current tier's threshold. Promotion into permanent
// additionally requires high extraction confidence, and is deferred
// (not forfeited) while the permanent tier is full: permanent records
// are never capacity-evicted to make room.
func (e *Engine) maybePromote(ctx context.Context, rec *types.MemoryRecord, outcome *ClassifyOutcome) (bool, error) {
	next, ok := types.NextTier(rec.Tier)
	if !ok {
		return false, nil
	}
	policy := e.config.Policies[rec.Tier]
	if rec.ReinforcementCount < policy.PromotionThreshold {
		return false, nil
	}
	if next == types.TierPermanent {
		if rec.Confidence < e.config.HighConfidenceFloor {
			return false, nil
		}
		count, err := e.store.CountByTier(ctx, rec.UserID, next)
		if err != nil {
			return false, fmt.Errorf("count %s tier: %w", next, err)
		}
		if count >= e.config.Policies[next].MaxCapacity {
			return false, nil
		}
	} else {
		if err := e.makeRoom(ctx, rec.UserID, next, outcome); err != nil {
			return false, err
		}
	}

	from := rec.Tier
	rec.Tier = next
	if err := e.store.Update(ctx, rec); err != nil {
		rec.Tier = from
		return false, fmt.Errorf("promote record to %s: %w", next, err)
	}

	log.Printf("Promoted record %s for user %s: %s -> %s (reinforcements=%d)",
		rec.ID, rec.UserID, from, next, rec.ReinforcementCount)
	e.metrics.RecordMemoryMutation("promote")
	outcome.Promoted++
	return true, nil
}

// insertShortTerm creates a new short-term record for an unseen fact.
// All new facts enter at short-term regardless of the extractor's tier
// suggestion; placement above that is earned through reinforcement.
func (e *Engine) insertShortTerm(ctx context.Context, userID string, cand types.Candidate, hash string, now time.Time, sourceConversationID string, outcome *ClassifyOutcome) error {
	if err := e.makeRoom(ctx, userID, types.TierShortTerm, outcome); err != nil {
		return err
	}

	rec := &types.MemoryRecord{
		ID:                   uuid.NewString(),
		UserID:               userID,
		Tier:                 types.TierShortTerm,
		Content:              cand.Content,
		ContentHash:          hash,
		Category:             cand.Category,
		Confidence:           cand.Confidence,
		Salience:             e.scorer.Compute(1, now, now),
		ReinforcementCount:   1,
		CreatedAt:            now,
		LastReinforcedAt:     now,
		SourceConversationID: sourceConversationID,
	}
	if err := e.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("insert short-term record: %w", err)
	}

	e.metrics.RecordMemoryMutation("insert")
	outcome.Inserted++
	return nil
}

// makeRoom capacity-evicts the lowest-salience record in the tier when
// it is full, so one insertion can proceed. Ties go to the oldest
// last-reinforced record.
func (e *Engine) makeRoom(ctx context.Context, userID string, tier types.Tier, outcome *ClassifyOutcome) error {
	count, err := e.store.CountByTier(ctx, userID, tier)
	if err != nil {
		return fmt.Errorf("count %s tier: %w", tier, err)
	}
	if count < e.config.Policies[tier].MaxCapacity {
		return nil
	}

	victim, err := e.store.EvictionCandidate(ctx, userID, tier)
	if err != nil {
		return fmt.Errorf("pick eviction candidate in %s: %w", tier, err)
	}
	if err := e.store.Delete(ctx, userID, victim.ID); err != nil {
		return fmt.Errorf("evict record %s: %w", victim.ID, err)
	}

	log.Printf("Capacity-evicted record %s (salience=%.3f) from %s for user %s",
		victim.ID, victim.Salience, tier, userID)
	e.metrics.RecordMemoryMutation("evict")
	outcome.Evicted++
	return nil
}

// applyCorrection rewrites an existing record's content in place when
// the user corrected a fact. The record keeps its tier and history. If
// the corrected text collides with another stored fact, the two merge:
// the collision target is reinforced and the corrected record removed.
func (e *Engine) applyCorrection(ctx context.Context, userID string, corr types.Correction, now time.Time, outcome *ClassifyOutcome) error {
	target, err := e.store.GetByContent(ctx, userID, corr.OldContent)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("Correction target not found for user %s, skipping: %q", userID, corr.OldContent)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup correction target: %w", err)
	}

	newHash := ContentHash(corr.NewContent)
	if collision, err := e.store.GetByHash(ctx, userID, newHash); err == nil && collision.ID != target.ID {
		if err := e.store.Delete(ctx, userID, target.ID); err != nil {
			return fmt.Errorf("remove corrected record %s: %w", target.ID, err)
		}
		if err := e.applyReinforcement(ctx, collision, target.Confidence, now, outcome); err != nil {
			return err
		}
		e.metrics.RecordMemoryMutation("correct")
		outcome.Corrected++
		return nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("lookup corrected hash: %w", err)
	}

	target.Content = corr.NewContent
	target.ContentHash = newHash
	target.LastReinforcedAt = now
	e.scorer.Rescore(target, now)
	if err := e.store.Update(ctx, target); err != nil {
		return fmt.Errorf("update corrected record: %w", err)
	}

	e.metrics.RecordMemoryMutation("correct")
	outcome.Corrected++
	return nil
}
