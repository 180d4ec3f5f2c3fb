package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/internal/storage/sqlite"
	"github.com/soullink/soullink/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestEngine(t *testing.T) (*Engine, storage.MemoryStore) {
	t.Helper()
	store := newTestStore(t)
	engine, err := NewEngine(store, nil, nil, nil, DefaultConfig())
	require.NoError(t, err)
	return engine, store
}

func candidate(content string, confidence float64) types.Candidate {
	return types.Candidate{
		Content:    content,
		TierHint:   types.TierShortTerm,
		Category:   types.CategoryOther,
		Confidence: confidence,
	}
}

// seedRecord inserts a record directly, bypassing classification.
func seedRecord(t *testing.T, store storage.MemoryStore, userID string, tier types.Tier, content string, reinforcedAt time.Time) *types.MemoryRecord {
	t.Helper()
	rec := &types.MemoryRecord{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Tier:               tier,
		Content:            content,
		ContentHash:        ContentHash(content),
		Category:           types.CategoryOther,
		Confidence:         0.5,
		Salience:           0.5,
		ReinforcementCount: 1,
		CreatedAt:          reinforcedAt,
		LastReinforcedAt:   reinforcedAt,
	}
	require.NoError(t, store.Upsert(context.Background(), rec))
	return rec
}

func TestClassifyInsertsShortTerm(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	outcome, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("Lives in Berlin", 0.8),
	}, nil, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Inserted)
	assert.True(t, outcome.Changed())

	records, err := store.ListByTier(ctx, "u1", types.TierShortTerm)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Lives in Berlin", records[0].Content)
	assert.Equal(t, 1, records[0].ReinforcementCount)
	assert.Equal(t, "conv-1", records[0].SourceConversationID)
	assert.Greater(t, records[0].Salience, 0.0)
}

func TestClassifyMergesRewordedFact(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("Has a cat named Milo", 0.6),
	}, nil, "conv-1")
	require.NoError(t, err)

	// Same fact, different wording: must reinforce, never duplicate.
	outcome, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("has the cat named milo", 0.8),
	}, nil, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Inserted)
	assert.Equal(t, 1, outcome.Reinforced)

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 2, records[0].ReinforcementCount)
	assert.Equal(t, 0.8, records[0].Confidence)
	// Second mention crossed the short-term threshold.
	assert.Equal(t, types.TierLongTerm, records[0].Tier)
}

func TestPromotionHappensExactlyOnce(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	totalPromoted := 0
	for i := 0; i < 4; i++ {
		outcome, err := engine.Classify(ctx, "u1", []types.Candidate{
			candidate("Plays tennis on Sundays", 0.5),
		}, nil, "conv")
		require.NoError(t, err)
		totalPromoted += outcome.Promoted
	}

	assert.Equal(t, 1, totalPromoted)

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.TierLongTerm, records[0].Tier)
	assert.Equal(t, 4, records[0].ReinforcementCount)
}

func TestPromotionToPermanentRequiresHighConfidence(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	// Five low-confidence mentions: reaches the long-term threshold but
	// may not enter permanent.
	for i := 0; i < 5; i++ {
		_, err := engine.Classify(ctx, "u1", []types.Candidate{
			candidate("Sister is called Anna", 0.5),
		}, nil, "conv")
		require.NoError(t, err)
	}

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.TierLongTerm, records[0].Tier)

	// A high-confidence mention unlocks the promotion.
	outcome, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("Sister is called Anna", 0.95),
	}, nil, "conv")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Promoted)

	records, err = store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.TierPermanent, records[0].Tier)
}

func TestPromotionDeferredWhenPermanentFull(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < engine.config.Policies[types.TierPermanent].MaxCapacity; i++ {
		seedRecord(t, store, "u1", types.TierPermanent, "permanent fact number "+uuid.NewString(), now)
	}

	for i := 0; i < 6; i++ {
		_, err := engine.Classify(ctx, "u1", []types.Candidate{
			candidate("Born in Lisbon", 0.95),
		}, nil, "conv")
		require.NoError(t, err)
	}

	rec, err := store.GetByHash(ctx, "u1", ContentHash("Born in Lisbon"))
	require.NoError(t, err)
	// Permanent records are never capacity-evicted, so the promotion
	// waits instead.
	assert.Equal(t, types.TierLongTerm, rec.Tier)

	count, err := store.CountByTier(ctx, "u1", types.TierPermanent)
	require.NoError(t, err)
	assert.Equal(t, engine.config.Policies[types.TierPermanent].MaxCapacity, count)
}

func TestCapacityEvictionRemovesLowestSalience(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	facts := []string{
		"first distinct fact",
		"second distinct fact",
		"third distinct fact",
		"fourth distinct fact",
		"fifth distinct fact",
	}
	for _, f := range facts {
		_, err := engine.Classify(ctx, "u1", []types.Candidate{candidate(f, 0.5)}, nil, "conv")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	// Sixth distinct fact: tier is at capacity 5, the oldest of the
	// equal-salience records is evicted.
	outcome, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("sixth distinct fact", 0.5),
	}, nil, "conv")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Evicted)
	assert.Equal(t, 1, outcome.Inserted)

	count, err := store.CountByTier(ctx, "u1", types.TierShortTerm)
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	_, err = store.GetByHash(ctx, "u1", ContentHash("first distinct fact"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = store.GetByHash(ctx, "u1", ContentHash("sixth distinct fact"))
	assert.NoError(t, err)
}

func TestConcurrentReinforcementKeepsSingleRecord(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Classify(ctx, "u1", []types.Candidate{
				candidate("Favorite color is green", 0.5),
			}, nil, "conv")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, turns, records[0].ReinforcementCount)
}

func TestCorrectionRewritesInPlace(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("Works as a nurse", 0.8),
	}, nil, "conv")
	require.NoError(t, err)

	original, err := store.GetByHash(ctx, "u1", ContentHash("Works as a nurse"))
	require.NoError(t, err)

	outcome, err := engine.Classify(ctx, "u1", nil, []types.Correction{
		{OldContent: "Works as a nurse", NewContent: "Works as a teacher"},
	}, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Corrected)

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, original.ID, records[0].ID)
	assert.Equal(t, "Works as a teacher", records[0].Content)
	assert.Equal(t, ContentHash("Works as a teacher"), records[0].ContentHash)
	assert.Equal(t, original.Tier, records[0].Tier)
}

func TestCorrectionMissingTargetIsSkipped(t *testing.T) {
	engine, _ := newTestEngine(t)

	outcome, err := engine.Classify(context.Background(), "u1", nil, []types.Correction{
		{OldContent: "Never stored this", NewContent: "Something else"},
	}, "conv")
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.Corrected)
	assert.Equal(t, 0, outcome.Failed)
}

func TestCorrectionCollisionMergesRecords(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.Classify(ctx, "u1", []types.Candidate{
		candidate("Moved to Munich", 0.7),
		candidate("Lives in Hamburg", 0.7),
	}, nil, "conv")
	require.NoError(t, err)

	// Correcting one fact into the wording of the other merges them.
	outcome, err := engine.Classify(ctx, "u1", nil, []types.Correction{
		{OldContent: "Lives in Hamburg", NewContent: "Moved to Munich"},
	}, "conv-2")
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Corrected)
	// The merge counts once: the surviving record's bump is not also
	// reported as a reinforcement.
	assert.Equal(t, 0, outcome.Reinforced)

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ContentHash("Moved to Munich"), records[0].ContentHash)
	assert.Equal(t, 2, records[0].ReinforcementCount)
}

func TestStaleEvictionSparesPermanent(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-100 * 24 * time.Hour)

	seedRecord(t, store, "u1", types.TierShortTerm, "old short-term note", old)
	seedRecord(t, store, "u1", types.TierLongTerm, "old long-term note", old)
	seedRecord(t, store, "u1", types.TierPermanent, "old permanent note", old)

	outcome, err := engine.Classify(ctx, "u1", nil, nil, "conv")
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.StaleEvicted)

	records, err := store.ListAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, types.TierPermanent, records[0].Tier)
}
