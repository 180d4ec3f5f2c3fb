package llm

import (
	"fmt"
	"strings"
)

// extractionPromptTemplate asks the model to pull durable facts out of a
// single conversation turn, given a summary of what is already known so
// it does not re-extract. The output contract is plain JSON with a
// candidate list and a correction list.
const extractionPromptTemplate = `You are a memory extraction assistant. Extract key facts worth remembering from this conversation between a user and their AI companion.

User message: %s
AI reply: %s

User's existing memories:
%s

Rules:
1. Only extract genuinely useful NEW information. Skip pure chitchat.
2. If the user corrects or updates old info (e.g. "I changed jobs"), output an update referencing the exact old fact text.
3. Keep each fact SHORT (under 20 words), in the SAME language as the user's message.
4. Tier each fact:
   - permanent: identity, family, pets, job, hometown, birthday, real name - things that rarely change
   - long_term: hobbies, preferences, important experiences, relationships, habits
   - short_term: recent events, current mood, temporary plans
5. Pick a category from: identity, family, work, preference, experience, relationship, mood, plan, other.
6. Rate your confidence in each fact from 0.0 to 1.0.

Return ONLY valid JSON (no markdown, no explanation):
{"new_memories": [{"fact": "...", "type": "permanent|long_term|short_term", "category": "...", "confidence": 0.9}], "updates": [{"old_fact": "exact old fact text", "new_fact": "updated text"}]}

If nothing is worth remembering, return: {"new_memories": [], "updates": []}`

// BuildExtractionPrompt renders the extraction prompt for one turn.
// existingSummary is the compact bullet list of already-stored facts;
// pass an empty string when the user has none yet.
func BuildExtractionPrompt(userMessage, companionReply, existingSummary string) string {
	if strings.TrimSpace(existingSummary) == "" {
		existingSummary = "(none yet)"
	}
	return fmt.Sprintf(extractionPromptTemplate, userMessage, companionReply, existingSummary)
}
