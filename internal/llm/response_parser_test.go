package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soullink/soullink/pkg/types"
)

func TestParseExtractionResponse(t *testing.T) {
	raw := `{"new_memories": [
		{"fact": "Has a golden retriever named Milo", "type": "permanent", "category": "family", "confidence": 0.95},
		{"fact": "Feeling stressed about a deadline", "type": "short_term", "category": "mood", "confidence": 0.8}
	], "updates": []}`

	result, err := ParseExtractionResponse(raw, 0.3)
	require.NoError(t, err)

	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "Has a golden retriever named Milo", result.Candidates[0].Content)
	assert.Equal(t, types.TierPermanent, result.Candidates[0].TierHint)
	assert.Equal(t, "family", result.Candidates[0].Category)
	assert.Equal(t, 0.95, result.Candidates[0].Confidence)
	assert.Empty(t, result.Corrections)
	assert.Empty(t, result.Skipped)
}

func TestParseExtractionResponseMarkdownFences(t *testing.T) {
	raw := "Here is the result:\n```json\n{\"new_memories\": [{\"fact\": \"Lives in Berlin\", \"type\": \"permanent\", \"category\": \"identity\", \"confidence\": 0.9}], \"updates\": []}\n```\nHope that helps!"

	result, err := ParseExtractionResponse(raw, 0.3)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Lives in Berlin", result.Candidates[0].Content)
}

func TestParseExtractionResponseCorrections(t *testing.T) {
	raw := `{"new_memories": [], "updates": [
		{"old_fact": "Works as a nurse", "new_fact": "Works as a teacher"}
	]}`

	result, err := ParseExtractionResponse(raw, 0.3)
	require.NoError(t, err)
	require.Len(t, result.Corrections, 1)
	assert.Equal(t, "Works as a nurse", result.Corrections[0].OldContent)
	assert.Equal(t, "Works as a teacher", result.Corrections[0].NewContent)
}

func TestParseExtractionResponseSkipsInvalidEntries(t *testing.T) {
	raw := `{"new_memories": [
		{"fact": "", "type": "permanent", "category": "identity", "confidence": 0.9},
		{"fact": "Likes jazz", "type": "medium_term", "category": "preference", "confidence": 0.9},
		{"fact": "Might like skiing", "type": "short_term", "category": "preference", "confidence": 0.1},
		{"fact": "Broken confidence", "type": "short_term", "category": "mood", "confidence": 1.5},
		{"fact": "Valid fact", "type": "long_term", "category": "preference", "confidence": 0.7}
	], "updates": [
		{"old_fact": "", "new_fact": "something"}
	]}`

	result, err := ParseExtractionResponse(raw, 0.3)
	require.NoError(t, err)

	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Valid fact", result.Candidates[0].Content)
	assert.Empty(t, result.Corrections)
	assert.Len(t, result.Skipped, 5)
}

func TestParseExtractionResponseUnknownCategory(t *testing.T) {
	raw := `{"new_memories": [
		{"fact": "Collects vintage stamps", "type": "long_term", "category": "hobbies!!", "confidence": 0.8}
	], "updates": []}`

	result, err := ParseExtractionResponse(raw, 0.3)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, types.CategoryOther, result.Candidates[0].Category)
}

func TestParseExtractionResponseMalformedJSON(t *testing.T) {
	_, err := ParseExtractionResponse("not json at all", 0.3)
	assert.Error(t, err)

	_, err = ParseExtractionResponse(`{"new_memories": [{"fact": "trunc`, 0.3)
	assert.Error(t, err)
}

func TestParseExtractionResponseEmptyLists(t *testing.T) {
	result, err := ParseExtractionResponse(`{"new_memories": [], "updates": []}`, 0.3)
	require.NoError(t, err)
	assert.Empty(t, result.Candidates)
	assert.Empty(t, result.Corrections)
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	raw := `{"new_memories": [{"fact": "Says {hello} a lot", "type": "short_term", "category": "other", "confidence": 0.5}], "updates": []} trailing garbage`

	result, err := ParseExtractionResponse(raw, 0.3)
	require.NoError(t, err)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Says {hello} a lot", result.Candidates[0].Content)
}
