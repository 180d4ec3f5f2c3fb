// Package memory implements the three-tier memory engine: extraction of
// durable facts from conversation turns, tier classification with
// promotion and eviction, and token-bounded context retrieval.
//
// Extraction runs on a background worker pool so it never blocks the
// chat response path. All mutations for one user are serialized through
// a shared per-user lock.
package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/soullink/soullink/internal/llm"
	"github.com/soullink/soullink/internal/observability"
	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/internal/userlock"
	"github.com/soullink/soullink/pkg/types"
)

// ExtractionJob carries one conversation turn through the async
// extraction pipeline.
type ExtractionJob struct {
	// UserID identifies whose memory the turn feeds.
	UserID string

	// UserMessage and CompanionReply are the two halves of the turn.
	UserMessage    string
	CompanionReply string

	// ConversationID links extracted records back to their source turn.
	ConversationID string

	// Timestamp is when the job was queued.
	Timestamp time.Time
}

// Config holds configuration for the memory engine.
type Config struct {
	// NumWorkers is the number of extraction worker goroutines (default: 2).
	NumWorkers int

	// QueueSize is the extraction job queue buffer (default: 256).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on
	// shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// ConfidenceFloor rejects extraction candidates below this extraction
	// certainty (default: 0.3).
	ConfidenceFloor float64

	// HighConfidenceFloor gates promotion into the permanent tier
	// (default: 0.9).
	HighConfidenceFloor float64

	// SyncEveryN marks the user's workspace sync-pending after this many
	// extractions that changed stored memory (default: 5).
	SyncEveryN int

	// Policies are the per-tier capacity, promotion, and staleness rules.
	Policies types.TierPolicies
}

// DefaultConfig returns a Config with the standard tier policies.
func DefaultConfig() Config {
	return Config{
		NumWorkers:          2,
		QueueSize:           256,
		ShutdownTimeout:     30 * time.Second,
		ConfidenceFloor:     0.3,
		HighConfidenceFloor: 0.9,
		SyncEveryN:          5,
		Policies:            types.DefaultTierPolicies(),
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("ConfidenceFloor must be in [0,1], got %f", c.ConfidenceFloor)
	}
	if c.HighConfidenceFloor < 0 || c.HighConfidenceFloor > 1 {
		return fmt.Errorf("HighConfidenceFloor must be in [0,1], got %f", c.HighConfidenceFloor)
	}
	if c.SyncEveryN < 1 {
		return fmt.Errorf("SyncEveryN must be >= 1, got %d", c.SyncEveryN)
	}
	return c.Policies.Validate()
}

// Engine is the core orchestrator for memory extraction and tiering.
// Classify and BuildContext are usable synchronously; extraction of new
// turns goes through QueueExtraction and the worker pool.
type Engine struct {
	config    Config
	store     storage.MemoryStore
	generator llm.TextGenerator
	scorer    *SalienceScorer
	locks     *userlock.Keyed
	metrics   *observability.Metrics

	extractionQueue chan *ExtractionJob
	workerWaitGroup sync.WaitGroup
	workerCtx       context.Context
	workerCancel    context.CancelFunc

	started      bool
	shuttingDown bool
	mu           sync.RWMutex

	// changedSince counts extractions that mutated stored memory since
	// the last sync mark, per user.
	changedSince map[string]int
	changedMu    sync.Mutex
	onSyncNeeded func(userID string)
}

// NewEngine creates a memory engine. The generator is the external
// extraction collaborator; pass nil only when extraction is never queued
// (read-only tools). The locks set is shared with the workspace manager
// so one user's memory and workspace mutations serialize together.
func NewEngine(store storage.MemoryStore, generator llm.TextGenerator, locks *userlock.Keyed, metrics *observability.Metrics, config Config) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if locks == nil {
		locks = userlock.New()
	}

	return &Engine{
		config:          config,
		store:           store,
		generator:       generator,
		scorer:          NewSalienceScorer(),
		locks:           locks,
		metrics:         metrics,
		extractionQueue: make(chan *ExtractionJob, config.QueueSize),
		changedSince:    make(map[string]int),
	}, nil
}

// OnSyncNeeded registers the callback invoked when a user's memory has
// changed enough that their workspace prompt should be re-synced. Must
// be set before Start.
func (e *Engine) OnSyncNeeded(fn func(userID string)) {
	e.onSyncNeeded = fn
}

// Start launches the extraction worker pool.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	if e.generator == nil {
		return fmt.Errorf("text generator is required to start extraction workers")
	}

	e.workerCtx, e.workerCancel = context.WithCancel(context.Background())
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.extractionWorker(i)
	}
	e.started = true

	log.Printf("Started %d extraction workers", e.config.NumWorkers)
	return nil
}

// Stop drains the extraction queue and stops the workers. Jobs still
// queued after ShutdownTimeout are dropped; extraction is best-effort by
// contract, so dropped turns are only logged.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.shuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	// Closed under the lock so no queue send can race the close.
	close(e.extractionQueue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All extraction workers finished gracefully")
	case <-time.After(e.config.ShutdownTimeout):
		log.Printf("WARNING: Shutdown timeout reached, %d extraction jobs dropped", len(e.extractionQueue))
	case <-ctx.Done():
		log.Printf("WARNING: Context cancelled, %d extraction jobs dropped", len(e.extractionQueue))
		e.workerCancel()
		return ctx.Err()
	}

	e.workerCancel()
	return nil
}

// QueueExtraction enqueues a turn for background extraction. Returns
// false if the engine is stopped or the queue is full; the caller never
// retries, a dropped turn simply isn't remembered.
func (e *Engine) QueueExtraction(job *ExtractionJob) bool {
	// The read lock is held across the send so Stop cannot close the
	// queue between the state check and the send.
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.started || e.shuttingDown {
		return false
	}

	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now().UTC()
	}

	select {
	case e.extractionQueue <- job:
		return true
	default:
		log.Printf("WARNING: Extraction queue full (size=%d), dropping turn for user %s",
			e.config.QueueSize, job.UserID)
		e.metrics.RecordExtractionFailure("queue_full")
		return false
	}
}

// QueueLength returns the number of jobs waiting for a worker.
func (e *Engine) QueueLength() int {
	return len(e.extractionQueue)
}

// noteChanged bumps the user's changed-extraction counter and fires the
// sync callback every SyncEveryN changes.
func (e *Engine) noteChanged(userID string) {
	e.changedMu.Lock()
	e.changedSince[userID]++
	fire := e.changedSince[userID] >= e.config.SyncEveryN
	if fire {
		e.changedSince[userID] = 0
	}
	e.changedMu.Unlock()

	if fire && e.onSyncNeeded != nil {
		e.onSyncNeeded(userID)
	}
}
