package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soullink/soullink/pkg/types"
)

// maxFactLength caps a single extracted fact. The prompt asks for under
// 20 words; anything wildly longer is the model ignoring instructions.
const maxFactLength = 300

// extractionResponse mirrors the JSON contract of the extraction prompt.
type extractionResponse struct {
	NewMemories []candidateResponse  `json:"new_memories"`
	Updates     []correctionResponse `json:"updates"`
}

type candidateResponse struct {
	Fact       string  `json:"fact"`
	Type       string  `json:"type"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

type correctionResponse struct {
	OldFact string `json:"old_fact"`
	NewFact string `json:"new_fact"`
}

// SkippedCandidate records one entry the parser rejected, for logging
// and metrics. Rejections are per-entry: one bad candidate never fails
// the batch.
type SkippedCandidate struct {
	Content string
	Reason  string
}

// ExtractionResult is the validated output of one extraction call.
type ExtractionResult struct {
	Candidates  []types.Candidate
	Corrections []types.Correction
	Skipped     []SkippedCandidate
}

// ParseExtractionResponse parses the raw model output into validated
// candidates and corrections. Markdown code fences and surrounding prose
// are stripped before parsing. Entries failing the candidate schema
// (empty fact, unknown tier, out-of-range or sub-floor confidence) are
// skipped and reported, not fatal; only malformed JSON is an error.
func ParseExtractionResponse(raw string, confidenceFloor float64) (*ExtractionResult, error) {
	cleanJSON := extractJSON(raw)

	var resp extractionResponse
	if err := json.Unmarshal([]byte(cleanJSON), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse extraction JSON: %w", err)
	}

	result := &ExtractionResult{}

	for _, entry := range resp.NewMemories {
		fact := strings.TrimSpace(entry.Fact)
		if fact == "" {
			result.Skipped = append(result.Skipped, SkippedCandidate{Reason: "empty fact"})
			continue
		}
		if len(fact) > maxFactLength {
			result.Skipped = append(result.Skipped, SkippedCandidate{
				Content: fact[:maxFactLength],
				Reason:  "fact too long",
			})
			continue
		}

		tier := types.Tier(strings.TrimSpace(entry.Type))
		if !types.IsValidTier(tier) {
			result.Skipped = append(result.Skipped, SkippedCandidate{
				Content: fact,
				Reason:  fmt.Sprintf("unknown tier %q", entry.Type),
			})
			continue
		}

		if entry.Confidence < 0 || entry.Confidence > 1 {
			result.Skipped = append(result.Skipped, SkippedCandidate{
				Content: fact,
				Reason:  fmt.Sprintf("confidence %.2f out of range", entry.Confidence),
			})
			continue
		}
		if entry.Confidence < confidenceFloor {
			result.Skipped = append(result.Skipped, SkippedCandidate{
				Content: fact,
				Reason:  fmt.Sprintf("confidence %.2f below floor %.2f", entry.Confidence, confidenceFloor),
			})
			continue
		}

		category := strings.TrimSpace(entry.Category)
		if !types.IsValidCategory(category) {
			category = types.CategoryOther
		}

		result.Candidates = append(result.Candidates, types.Candidate{
			Content:    fact,
			TierHint:   tier,
			Category:   category,
			Confidence: entry.Confidence,
		})
	}

	for _, entry := range resp.Updates {
		oldFact := strings.TrimSpace(entry.OldFact)
		newFact := strings.TrimSpace(entry.NewFact)
		if oldFact == "" || newFact == "" {
			result.Skipped = append(result.Skipped, SkippedCandidate{
				Content: oldFact,
				Reason:  "incomplete update",
			})
			continue
		}
		if len(newFact) > maxFactLength {
			result.Skipped = append(result.Skipped, SkippedCandidate{
				Content: oldFact,
				Reason:  "update too long",
			})
			continue
		}
		result.Corrections = append(result.Corrections, types.Correction{
			OldContent: oldFact,
			NewContent: newFact,
		})
	}

	return result, nil
}

// extractJSON extracts the first complete JSON object from a string that
// may contain extra text. This handles models that add explanations or
// markdown fences around the JSON despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text // No JSON found, let the parser fail with context.
	}

	braceCount := 0
	inString := false
	escape := false

	for i := start; i < len(text); i++ {
		char := text[i]

		if escape {
			escape = false
			continue
		}
		if char == '\\' {
			escape = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			switch char {
			case '{':
				braceCount++
			case '}':
				braceCount--
				if braceCount == 0 {
					return text[start : i+1]
				}
			}
		}
	}

	return text
}
