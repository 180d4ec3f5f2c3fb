package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSalienceStaysInRange(t *testing.T) {
	scorer := NewSalienceScorer()
	now := time.Now()

	for _, count := range []int{0, 1, 5, 50} {
		for _, age := range []time.Duration{0, 24 * time.Hour, 90 * 24 * time.Hour} {
			s := scorer.Compute(count, now.Add(-age), now)
			assert.GreaterOrEqual(t, s, 0.0)
			assert.LessOrEqual(t, s, 1.0)
		}
	}
}

func TestSalienceDecaysWithAge(t *testing.T) {
	scorer := NewSalienceScorer()
	now := time.Now()

	fresh := scorer.Compute(1, now, now)
	week := scorer.Compute(1, now.Add(-7*24*time.Hour), now)
	month := scorer.Compute(1, now.Add(-30*24*time.Hour), now)

	assert.Greater(t, fresh, week)
	assert.Greater(t, week, month)
}

func TestSalienceGrowsWithReinforcement(t *testing.T) {
	scorer := NewSalienceScorer()
	now := time.Now()
	at := now.Add(-24 * time.Hour)

	once := scorer.Compute(1, at, now)
	five := scorer.Compute(5, at, now)
	assert.Greater(t, five, once)

	// The reinforcement factor saturates.
	ten := scorer.Compute(10, at, now)
	twenty := scorer.Compute(20, at, now)
	assert.Equal(t, ten, twenty)
}

func TestReinforcedOldOutranksFreshUnreinforced(t *testing.T) {
	scorer := NewSalienceScorer()
	now := time.Now()

	// A fact at the reinforcement cap but last seen a month ago beats a
	// fact mentioned once today: 1.0 saturated reinforcement plus ~0.226
	// recency averages to ~0.613 against the fresh fact's 0.55. Eviction
	// is salience-based, not strict LRU.
	oldReinforced := scorer.Compute(10, now.Add(-30*24*time.Hour), now)
	freshSingle := scorer.Compute(1, now, now)

	assert.Greater(t, oldReinforced, freshSingle)
}

func TestSalienceHalfLife(t *testing.T) {
	scorer := NewSalienceScorerWithHalfLife(336)
	now := time.Now()

	// At exactly one half-life the recency term is 0.5, so with zero
	// reinforcement the score is 0.25.
	s := scorer.Compute(0, now.Add(-336*time.Hour), now)
	assert.InDelta(t, 0.25, s, 0.001)
}

func TestSalienceClockSkew(t *testing.T) {
	scorer := NewSalienceScorer()
	now := time.Now()

	// A timestamp slightly in the future clamps to zero age.
	s := scorer.Compute(1, now.Add(time.Minute), now)
	assert.InDelta(t, scorer.Compute(1, now, now), s, 0.001)
}
