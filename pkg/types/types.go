// Package types defines the core data structures for the SoulLink companion
// memory system: tiered memory records, extraction candidates, and the
// per-user remote workspace mapping.
package types

// Tier is the retention class of a memory record.
type Tier string

const (
	// TierShortTerm holds recent events, moods, and temporary plans.
	// Aggressively decaying; scoped to recent sessions.
	TierShortTerm Tier = "short_term"

	// TierLongTerm holds hobbies, preferences, habits, and important
	// experiences. Decays on a long horizon unless reinforced.
	TierLongTerm Tier = "long_term"

	// TierPermanent holds identity-grade facts (family, pets, job,
	// hometown). Never decays; removed only by explicit action.
	TierPermanent Tier = "permanent"
)

// Tiers lists all tiers ordered from most to least durable. Retrieval
// walks this order so identity-grade facts win the token budget.
var Tiers = []Tier{TierPermanent, TierLongTerm, TierShortTerm}

// IsValidTier reports whether t is one of the three retention tiers.
func IsValidTier(t Tier) bool {
	switch t {
	case TierShortTerm, TierLongTerm, TierPermanent:
		return true
	}
	return false
}

// NextTier returns the tier a record promotes into, and false when the
// record is already permanent. Promotion is one-directional.
func NextTier(t Tier) (Tier, bool) {
	switch t {
	case TierShortTerm:
		return TierLongTerm, true
	case TierLongTerm:
		return TierPermanent, true
	default:
		return t, false
	}
}

// Memory category constants - what kind of fact a record captures.
const (
	CategoryIdentity     = "identity"     // name, birthday, hometown
	CategoryFamily       = "family"       // family members and pets
	CategoryWork         = "work"         // job, studies
	CategoryPreference   = "preference"   // likes, dislikes, habits
	CategoryExperience   = "experience"   // significant events
	CategoryRelationship = "relationship" // people in the user's life
	CategoryMood         = "mood"         // current emotional state
	CategoryPlan         = "plan"         // upcoming or temporary plans
	CategoryOther        = "other"
)

// ValidCategories is the allowed category set for extraction candidates.
var ValidCategories = []string{
	CategoryIdentity,
	CategoryFamily,
	CategoryWork,
	CategoryPreference,
	CategoryExperience,
	CategoryRelationship,
	CategoryMood,
	CategoryPlan,
	CategoryOther,
}

// IsValidCategory checks if the given category is in the allowed set.
func IsValidCategory(category string) bool {
	for _, c := range ValidCategories {
		if c == category {
			return true
		}
	}
	return false
}
