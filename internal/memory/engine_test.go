package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/pkg/types"
)

// fakeGenerator returns canned extraction responses and signals each
// completed call on done.
type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	calls     int
	err       error
	done      chan struct{}
}

func (f *fakeGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer func() {
		if f.done != nil {
			f.done <- struct{}{}
		}
	}()

	f.calls++
	if f.err != nil {
		return "", f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

func (f *fakeGenerator) GetModel() string { return "fake-model" }

func extractionResponseFor(fact string) string {
	return fmt.Sprintf(`{"new_memories": [{"fact": %q, "type": "short_term", "category": "other", "confidence": 0.8}], "updates": []}`, fact)
}

func startedEngine(t *testing.T, gen *fakeGenerator, mutate func(*Config)) (*Engine, storage.MemoryStore) {
	t.Helper()
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := NewEngine(store, gen, nil, nil, cfg)
	require.NoError(t, err)
	require.NoError(t, engine.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Stop(ctx)
	})
	return engine, store
}

func TestExtractionPipelineEndToEnd(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{extractionResponseFor("Adopted a puppy last weekend")},
		done:      make(chan struct{}, 1),
	}
	engine, store := startedEngine(t, gen, nil)

	ok := engine.QueueExtraction(&ExtractionJob{
		UserID:         "u1",
		UserMessage:    "we adopted a puppy last weekend!",
		CompanionReply: "that's wonderful, what's their name?",
		ConversationID: "conv-1",
	})
	require.True(t, ok)

	select {
	case <-gen.done:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction call never happened")
	}

	// The store write happens after the generator call returns; poll
	// briefly for it.
	require.Eventually(t, func() bool {
		records, err := store.ListAll(context.Background(), "u1")
		return err == nil && len(records) == 1
	}, 5*time.Second, 10*time.Millisecond)

	records, err := store.ListAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Adopted a puppy last weekend", records[0].Content)
	assert.Equal(t, types.TierShortTerm, records[0].Tier)
	assert.Equal(t, "conv-1", records[0].SourceConversationID)
}

func TestExtractionFailureLeavesStoreUntouched(t *testing.T) {
	gen := &fakeGenerator{
		err:  errors.New("collaborator unavailable"),
		done: make(chan struct{}, 1),
	}
	engine, store := startedEngine(t, gen, nil)

	require.True(t, engine.QueueExtraction(&ExtractionJob{
		UserID:      "u1",
		UserMessage: "hello",
	}))

	select {
	case <-gen.done:
	case <-time.After(5 * time.Second):
		t.Fatal("extraction call never happened")
	}

	// Drain any in-flight classification before checking.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))

	records, err := store.ListAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMalformedExtractionOutputIsAbsorbed(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{"sorry, I can't produce JSON today"},
		done:      make(chan struct{}, 1),
	}
	engine, store := startedEngine(t, gen, nil)

	require.True(t, engine.QueueExtraction(&ExtractionJob{UserID: "u1", UserMessage: "hi"}))

	<-gen.done
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))

	records, err := store.ListAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSyncCallbackFiresEveryN(t *testing.T) {
	gen := &fakeGenerator{
		responses: []string{
			extractionResponseFor("fact one"),
			extractionResponseFor("fact two"),
			extractionResponseFor("fact three"),
		},
		done: make(chan struct{}, 3),
	}

	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	cfg.SyncEveryN = 2
	engine, err := NewEngine(store, gen, nil, nil, cfg)
	require.NoError(t, err)

	syncs := make(chan string, 4)
	engine.OnSyncNeeded(func(userID string) { syncs <- userID })
	require.NoError(t, engine.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		engine.Stop(ctx)
	})

	for i := 0; i < 3; i++ {
		require.True(t, engine.QueueExtraction(&ExtractionJob{UserID: "u1", UserMessage: "msg"}))
	}
	for i := 0; i < 3; i++ {
		<-gen.done
	}

	// Two changed extractions trigger one sync; the third starts a new
	// window.
	select {
	case userID := <-syncs:
		assert.Equal(t, "u1", userID)
	case <-time.After(5 * time.Second):
		t.Fatal("sync callback never fired")
	}
	select {
	case <-syncs:
		t.Fatal("sync callback fired more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueExtractionRejectsWhenStopped(t *testing.T) {
	store := newTestStore(t)
	engine, err := NewEngine(store, &fakeGenerator{responses: []string{"{}"}}, nil, nil, DefaultConfig())
	require.NoError(t, err)

	// Never started.
	assert.False(t, engine.QueueExtraction(&ExtractionJob{UserID: "u1"}))

	require.NoError(t, engine.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))

	assert.False(t, engine.QueueExtraction(&ExtractionJob{UserID: "u1"}))
}

func TestQueueExtractionDuringStopDoesNotPanic(t *testing.T) {
	gen := &fakeGenerator{responses: []string{`{"new_memories": [], "updates": []}`}}
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.NumWorkers = 1
	engine, err := NewEngine(store, gen, nil, nil, cfg)
	require.NoError(t, err)
	require.NoError(t, engine.Start())

	// Hammer the queue while Stop closes it; a send must never hit the
	// closed channel.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					engine.QueueExtraction(&ExtractionJob{UserID: "u1", UserMessage: "hi"})
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Stop(ctx))
	close(stop)
	wg.Wait()

	assert.False(t, engine.QueueExtraction(&ExtractionJob{UserID: "u1"}))
}

func TestStartRequiresGenerator(t *testing.T) {
	store := newTestStore(t)
	engine, err := NewEngine(store, nil, nil, nil, DefaultConfig())
	require.NoError(t, err)
	assert.Error(t, engine.Start())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero workers", func(c *Config) { c.NumWorkers = 0 }, false},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, false},
		{"negative floor", func(c *Config) { c.ConfidenceFloor = -0.1 }, false},
		{"floor above one", func(c *Config) { c.ConfidenceFloor = 1.1 }, false},
		{"zero sync window", func(c *Config) { c.SyncEveryN = 0 }, false},
		{"broken policies", func(c *Config) {
			p := c.Policies[types.TierShortTerm]
			p.MaxCapacity = 0
			c.Policies[types.TierShortTerm] = p
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
