package types

import "time"

// MemoryRecord is a single durable fact extracted from conversation.
// Records are the atomic units of companion memory: content plus the
// tiering, dedup, and ranking metadata the engine maintains.
type MemoryRecord struct {
	// Core identification
	ID     string `json:"id"`      // Unique identifier (format: mem:<hex>)
	UserID string `json:"user_id"` // Owning user
	Tier   Tier   `json:"tier"`    // Retention tier

	// Content and deduplication
	Content     string `json:"content"`      // The fact text, as extracted
	ContentHash string `json:"content_hash"` // SHA-256 of the normalized content
	Category    string `json:"category,omitempty"`

	// Scoring. Confidence reflects extraction certainty and is fixed at
	// creation (raised only when a reinforcement arrives with a higher
	// value). Salience reflects retrieval priority and is recomputed on
	// every reinforcement.
	Confidence float64 `json:"confidence"` // 0.0 - 1.0
	Salience   float64 `json:"salience"`   // 0.0 - 1.0

	// Reinforcement tracking
	ReinforcementCount int       `json:"reinforcement_count"`
	CreatedAt          time.Time `json:"created_at"`
	LastReinforcedAt   time.Time `json:"last_reinforced_at"`

	// SourceConversationID links back to the conversation turn that
	// produced (or last reinforced) the record.
	SourceConversationID string `json:"source_conversation_id,omitempty"`
}

// TierPolicy is the static retention policy for one tier.
type TierPolicy struct {
	// MaxCapacity is the per-user record cap for the tier. Inserting
	// beyond it evicts the lowest-salience record first.
	MaxCapacity int

	// PromotionThreshold is the reinforcement count at which a record
	// moves up one tier. Zero means the tier never promotes.
	PromotionThreshold int

	// StaleTTL is how long a record may go without reinforcement before
	// eviction. Ignored when Decays is false.
	StaleTTL time.Duration

	// Decays marks whether records in this tier expire at all.
	Decays bool
}

// TierPolicies maps every tier to its policy. A valid set covers all
// three tiers.
type TierPolicies map[Tier]TierPolicy

// DefaultTierPolicies returns the stock retention policy set:
// short-term caps at 5 with a 14-day TTL, long-term at 15 with a 90-day
// TTL, permanent at 10 and never decays.
func DefaultTierPolicies() TierPolicies {
	return TierPolicies{
		TierShortTerm: {
			MaxCapacity:        5,
			PromotionThreshold: 2,
			StaleTTL:           14 * 24 * time.Hour,
			Decays:             true,
		},
		TierLongTerm: {
			MaxCapacity:        15,
			PromotionThreshold: 5,
			StaleTTL:           90 * 24 * time.Hour,
			Decays:             true,
		},
		TierPermanent: {
			MaxCapacity: 10,
			Decays:      false,
		},
	}
}

// Validate checks that the policy set covers all tiers with sane values.
func (p TierPolicies) Validate() error {
	for _, tier := range Tiers {
		policy, ok := p[tier]
		if !ok {
			return &PolicyError{Tier: tier, Reason: "missing policy"}
		}
		if policy.MaxCapacity < 1 {
			return &PolicyError{Tier: tier, Reason: "MaxCapacity must be >= 1"}
		}
		if policy.Decays && policy.StaleTTL <= 0 {
			return &PolicyError{Tier: tier, Reason: "decaying tier requires StaleTTL > 0"}
		}
	}
	if p[TierPermanent].Decays {
		return &PolicyError{Tier: TierPermanent, Reason: "permanent tier must not decay"}
	}
	return nil
}

// PolicyError reports an invalid tier policy.
type PolicyError struct {
	Tier   Tier
	Reason string
}

func (e *PolicyError) Error() string {
	return "tier policy " + string(e.Tier) + ": " + e.Reason
}

// Candidate is a fact proposed by the extraction collaborator, before
// classification. Candidates with out-of-range confidence or an unknown
// tier hint are rejected at parse time.
type Candidate struct {
	Content    string  `json:"fact"`
	TierHint   Tier    `json:"type"`
	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Correction is an update proposed by the extraction collaborator: the
// user has amended a previously stored fact ("I changed jobs"). The old
// fact is matched by exact content against existing records.
type Correction struct {
	OldContent string `json:"old_fact"`
	NewContent string `json:"new_fact"`
}
