package memory

import (
	"math"
	"time"

	"github.com/soullink/soullink/pkg/types"
)

const (
	// defaultHalfLifeHours is the recency half-life (2 weeks). A record
	// untouched for two weeks contributes half its recency weight.
	defaultHalfLifeHours = 336.0

	// reinforcementStep is the per-reinforcement contribution to the
	// reinforcement factor, which saturates at 1.0 after ten mentions.
	reinforcementStep = 0.1
)

// SalienceScorer computes the retrieval-priority score for a record.
//
// The score combines an exponential recency factor with a saturating
// reinforcement factor:
//
//	salience = (min(reinforcementCount * 0.1, 1.0) + exp(-λ * hoursSince)) / 2
//
// where λ = ln(2) / halfLifeHours. Both terms are in [0,1], so dividing
// by 2 keeps the result in [0.0, 1.0]. A heavily-reinforced old fact can
// outrank a fresh unreinforced one, which is what capacity eviction
// relies on.
type SalienceScorer struct {
	halfLifeHours float64
}

// NewSalienceScorer returns a scorer with the default 336-hour half-life.
func NewSalienceScorer() *SalienceScorer {
	return &SalienceScorer{halfLifeHours: defaultHalfLifeHours}
}

// NewSalienceScorerWithHalfLife returns a scorer with a custom half-life.
// halfLifeHours must be > 0; if it is not, the default is used.
func NewSalienceScorerWithHalfLife(halfLifeHours float64) *SalienceScorer {
	if halfLifeHours <= 0 {
		halfLifeHours = defaultHalfLifeHours
	}
	return &SalienceScorer{halfLifeHours: halfLifeHours}
}

func (s *SalienceScorer) lambda() float64 {
	return math.Log(2) / s.halfLifeHours
}

// Compute returns the salience for a record with the given reinforcement
// count whose last reinforcement was at lastReinforcedAt, evaluated at
// now. The result is clamped to [0.0, 1.0].
func (s *SalienceScorer) Compute(reinforcementCount int, lastReinforcedAt, now time.Time) float64 {
	hours := now.Sub(lastReinforcedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	recency := math.Exp(-s.lambda() * hours)

	reinforcement := math.Min(float64(reinforcementCount)*reinforcementStep, 1.0)

	score := (reinforcement + recency) / 2.0
	return math.Min(math.Max(score, 0.0), 1.0)
}

// Rescore recomputes and writes back the salience for rec at now.
func (s *SalienceScorer) Rescore(rec *types.MemoryRecord, now time.Time) {
	rec.Salience = s.Compute(rec.ReinforcementCount, rec.LastReinforcedAt, now)
}
