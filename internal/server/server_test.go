package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soullink/soullink/internal/anythingllm"
	"github.com/soullink/soullink/internal/config"
	"github.com/soullink/soullink/internal/memory"
	"github.com/soullink/soullink/internal/storage/sqlite"
	"github.com/soullink/soullink/internal/userlock"
	"github.com/soullink/soullink/internal/workspace"
	"github.com/soullink/soullink/pkg/types"
)

// stubRemote satisfies workspace.Remote with canned responses.
type stubRemote struct {
	mu          sync.Mutex
	chatReply   string
	chatErr     error
	lastMessage string
}

func (s *stubRemote) CreateWorkspace(ctx context.Context, name string) (*anythingllm.RemoteWorkspace, error) {
	return &anythingllm.RemoteWorkspace{ID: 1, Slug: "remote-" + name}, nil
}

func (s *stubRemote) UpdateWorkspace(ctx context.Context, slug string, update anythingllm.WorkspaceUpdate) error {
	return nil
}

func (s *stubRemote) UpdateEmbeddings(ctx context.Context, slug string, adds, deletes []string) error {
	return nil
}

func (s *stubRemote) GetWorkspaceDocuments(ctx context.Context, slug string) ([]string, error) {
	return nil, nil
}

func (s *stubRemote) Chat(ctx context.Context, slug, message, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMessage = message
	if s.chatErr != nil {
		return "", s.chatErr
	}
	return s.chatReply, nil
}

func (s *stubRemote) DeleteWorkspace(ctx context.Context, slug string) error {
	return nil
}

func writeCanonicalConfig(t *testing.T, dir string) {
	t.Helper()
	manifest := `prompt_version: 1
document_version: 1
chat_provider: ollama
chat_model: llama3.1:70b
variants:
  female:
    companion_name: Abigail
  male:
    companion_name: Daniel
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, workspace.ManifestName), []byte(manifest), 0o644))
}

type testHarness struct {
	server *httptest.Server
	remote *stubRemote
	engine *memory.Engine
	token  string
}

func newTestHarness(t *testing.T, token string) *testHarness {
	t.Helper()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	locks := userlock.New()
	engine, err := memory.NewEngine(store, nil, locks, nil, memory.DefaultConfig())
	require.NoError(t, err)

	dir := t.TempDir()
	writeCanonicalConfig(t, dir)
	canonical, err := workspace.LoadCanonical(dir)
	require.NoError(t, err)

	remote := &stubRemote{chatReply: "hello there"}
	manager := workspace.NewManager(store.Workspaces(), remote, canonical, locks, nil,
		func(ctx context.Context, userID string) (string, error) {
			block, err := engine.BuildContext(ctx, userID, 1000)
			if err != nil {
				return "", err
			}
			return block.Text(), nil
		})

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Memory.ContextTokenBudget = 1000
	cfg.Security.APIToken = token

	srv := New(cfg, engine, manager, canonical, func() map[string]string {
		return map[string]string{"anythingllm": "closed"}
	})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testHarness{server: ts, remote: remote, engine: engine, token: token}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestChatTurn(t *testing.T) {
	h := newTestHarness(t, "")

	resp := h.do(t, http.MethodPost, "/api/chat", map[string]string{
		"user_id": "u1",
		"message": "hi!",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "hello there", body["reply"])
}

func TestChatInjectsMemoryContext(t *testing.T) {
	h := newTestHarness(t, "")

	seedMemory(t, h, "u1", "user has a cat named milo")

	resp := h.do(t, http.MethodPost, "/api/chat", map[string]string{
		"user_id": "u1",
		"message": "how is my cat?",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	h.remote.mu.Lock()
	defer h.remote.mu.Unlock()
	assert.Contains(t, h.remote.lastMessage, "cat named milo")
	assert.Contains(t, h.remote.lastMessage, "how is my cat?")
}

func TestChatValidatesInput(t *testing.T) {
	h := newTestHarness(t, "")

	resp := h.do(t, http.MethodPost, "/api/chat", map[string]string{"user_id": "u1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatFailureIsGenericAndRetryable(t *testing.T) {
	h := newTestHarness(t, "")
	h.remote.chatErr = fmt.Errorf("model exploded with internal details")

	resp := h.do(t, http.MethodPost, "/api/chat", map[string]string{
		"user_id": "u1",
		"message": "hi",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.NotContains(t, body["error"], "exploded")
}

func TestTokenAuth(t *testing.T) {
	h := newTestHarness(t, "secret-token")

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/api/chat",
		bytes.NewReader([]byte(`{"user_id":"u1","message":"hi"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// With the token the same request succeeds.
	ok := h.do(t, http.MethodPost, "/api/chat", map[string]string{
		"user_id": "u1", "message": "hi",
	})
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	h := newTestHarness(t, "secret-token")

	resp, err := http.Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.NotNil(t, body["breakers"])
}

func TestMemoryListAndDelete(t *testing.T) {
	h := newTestHarness(t, "")

	seedMemory(t, h, "u1", "user likes hiking")
	seedMemory(t, h, "u1", "user works as a nurse")

	resp := h.do(t, http.MethodGet, "/api/memory/u1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[struct {
		Memories []types.MemoryRecord `json:"memories"`
		Count    int                  `json:"count"`
	}](t, resp)
	require.Equal(t, 2, list.Count)

	del := h.do(t, http.MethodDelete, "/api/memory/u1/"+list.Memories[0].ID, nil)
	assert.Equal(t, http.StatusOK, del.StatusCode)

	missing := h.do(t, http.MethodDelete, "/api/memory/u1/"+list.Memories[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	wipe := h.do(t, http.MethodDelete, "/api/memory/u1", nil)
	require.Equal(t, http.StatusOK, wipe.StatusCode)
	wiped := decode[map[string]any](t, wipe)
	assert.Equal(t, float64(1), wiped["count"])
}

func TestWorkspaceEndpoints(t *testing.T) {
	h := newTestHarness(t, "")

	// Chat provisions the workspace as a side effect.
	resp := h.do(t, http.MethodPost, "/api/chat", map[string]string{
		"user_id": "u1", "message": "hi",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	get := h.do(t, http.MethodGet, "/api/workspace/u1", nil)
	require.Equal(t, http.StatusOK, get.StatusCode)
	ws := decode[types.Workspace](t, get)
	assert.Equal(t, types.WorkspaceReady, ws.Status)
	assert.Equal(t, "remote-u1", ws.Slug)

	reconf := h.do(t, http.MethodPost, "/api/workspace/u1/reconfigure",
		map[string]string{"variant": "male"})
	require.Equal(t, http.StatusOK, reconf.StatusCode)
	reconfigured := decode[types.Workspace](t, reconf)
	assert.Equal(t, types.VariantMale, reconfigured.Variant)

	bad := h.do(t, http.MethodPost, "/api/workspace/u1/reconfigure",
		map[string]string{"variant": "robot"})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	del := h.do(t, http.MethodDelete, "/api/workspace/u1", nil)
	assert.Equal(t, http.StatusOK, del.StatusCode)

	gone := h.do(t, http.MethodGet, "/api/workspace/u1", nil)
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestAdminReconcile(t *testing.T) {
	h := newTestHarness(t, "")

	resp := h.do(t, http.MethodPost, "/api/admin/reconcile", map[string]string{"scope": "all"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[workspace.Result](t, resp)
	assert.Empty(t, result.Failed)

	bad := h.do(t, http.MethodPost, "/api/admin/reconcile", map[string]string{"scope": "everything"})
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAdminConfigReload(t *testing.T) {
	h := newTestHarness(t, "")

	resp := h.do(t, http.MethodPost, "/api/admin/config/reload", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, float64(1), body["prompt_version"])
}

// seedMemory inserts one short-term record directly through the engine's
// classification path.
func seedMemory(t *testing.T, h *testHarness, userID, fact string) {
	t.Helper()
	outcome, err := h.engine.Classify(context.Background(), userID, []types.Candidate{{
		Content:    fact,
		TierHint:   types.TierShortTerm,
		Category:   types.CategoryOther,
		Confidence: 0.8,
	}}, nil, "seed")
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Inserted)
}
