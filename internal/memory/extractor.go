package memory

import (
	"log"
	"strings"

	"github.com/soullink/soullink/internal/llm"
	"github.com/soullink/soullink/pkg/types"
)

// BuildMemorySummary renders the user's stored records as the compact
// bullet list the extraction prompt receives, so the collaborator does
// not re-extract facts it can already see.
func BuildMemorySummary(records []*types.MemoryRecord) string {
	if len(records) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, rec := range records {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- [")
		sb.WriteString(string(rec.Tier))
		sb.WriteString("] ")
		sb.WriteString(rec.Content)
	}
	return sb.String()
}

// extractionWorker is a worker goroutine that processes extraction jobs.
// It runs until the extraction queue is closed.
func (e *Engine) extractionWorker(workerID int) {
	defer e.workerWaitGroup.Done()

	log.Printf("Extraction worker %d started", workerID)

	for job := range e.extractionQueue {
		e.processExtractionJob(workerID, job)
	}

	log.Printf("Extraction worker %d stopped", workerID)
}

// processExtractionJob runs one turn through the extraction
// collaborator and folds the result into the user's memory. All
// failures here are absorbed: the chat reply has already been sent, so
// the worst case is that one turn is not remembered.
func (e *Engine) processExtractionJob(workerID int, job *ExtractionJob) {
	// Worker context, not the chat request context: cancelling the chat
	// request must not abort an extraction already in flight.
	ctx := e.workerCtx

	records, err := e.store.ListAll(ctx, job.UserID)
	if err != nil {
		log.Printf("WARNING: Worker %d could not load memory summary for user %s: %v",
			workerID, job.UserID, err)
		records = nil
	}

	prompt := llm.BuildExtractionPrompt(job.UserMessage, job.CompanionReply, BuildMemorySummary(records))

	raw, err := e.generator.Complete(ctx, prompt)
	if err != nil {
		log.Printf("ERROR: Worker %d extraction call failed for user %s: %v",
			workerID, job.UserID, err)
		e.metrics.RecordExtractionFailure("call")
		return
	}

	result, err := llm.ParseExtractionResponse(raw, e.config.ConfidenceFloor)
	if err != nil {
		log.Printf("ERROR: Worker %d could not parse extraction output for user %s: %v",
			workerID, job.UserID, err)
		e.metrics.RecordExtractionFailure("parse")
		return
	}
	if len(result.Skipped) > 0 {
		log.Printf("Worker %d skipped %d invalid extraction entries for user %s",
			workerID, len(result.Skipped), job.UserID)
	}
	if len(result.Candidates) == 0 && len(result.Corrections) == 0 {
		return
	}

	outcome, err := e.Classify(ctx, job.UserID, result.Candidates, result.Corrections, job.ConversationID)
	if err != nil {
		log.Printf("ERROR: Worker %d classification failed for user %s: %v",
			workerID, job.UserID, err)
		e.metrics.RecordExtractionFailure("classify")
		return
	}

	log.Printf("Worker %d processed turn for user %s: inserted=%d reinforced=%d promoted=%d corrected=%d evicted=%d",
		workerID, job.UserID, outcome.Inserted, outcome.Reinforced, outcome.Promoted,
		outcome.Corrected, outcome.Evicted)

	if outcome.Changed() {
		e.noteChanged(job.UserID)
	}
}
