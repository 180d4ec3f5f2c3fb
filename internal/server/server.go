// Package server provides the HTTP boundary of the SoulLink service: a
// thin layer of token check, JSON decode, and handler dispatch in front
// of the memory engine and the workspace manager.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/soullink/soullink/internal/config"
	"github.com/soullink/soullink/internal/memory"
	"github.com/soullink/soullink/internal/observability"
	"github.com/soullink/soullink/internal/reliability"
	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/internal/workspace"
	"github.com/soullink/soullink/pkg/types"
)

// BreakerStates reports the circuit breaker state of each external
// collaborator for health reporting.
type BreakerStates func() map[string]string

// Server wires the HTTP surface to the engine and workspace manager.
type Server struct {
	config    *config.Config
	engine    *memory.Engine
	manager   *workspace.Manager
	canonical *workspace.Canonical
	breakers  BreakerStates

	httpServer *http.Server
}

// New creates the HTTP server. breakers may be nil.
func New(cfg *config.Config, engine *memory.Engine, manager *workspace.Manager,
	canonical *workspace.Canonical, breakers BreakerStates) *Server {
	return &Server{
		config:    cfg,
		engine:    engine,
		manager:   manager,
		canonical: canonical,
		breakers:  breakers,
	}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Post("/api/chat", s.handleChat)

		r.Route("/api/memory/{userID}", func(r chi.Router) {
			r.Get("/", s.handleListMemories)
			r.Delete("/", s.handleDeleteUserMemories)
			r.Delete("/{recordID}", s.handleDeleteMemory)
		})

		r.Route("/api/workspace/{userID}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkspace)
			r.Post("/reconfigure", s.handleReconfigure)
			r.Delete("/", s.handleDeleteWorkspace)
		})

		r.Post("/api/admin/reconcile", s.handleReconcile)
		r.Post("/api/admin/config/reload", s.handleConfigReload)
	})

	return r
}

// Start begins serving and returns the bound address, which matters
// when the configured port is 0.
func (s *Server) Start() (string, error) {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: HTTP server: %v", err)
		}
	}()

	log.Printf("HTTP server listening on %s", listener.Addr())
	return listener.Addr().String(), nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// securityHeaders adds defensive response headers on every route.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// requireToken enforces bearer-token auth when a token is configured.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.config.Security.APIToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != token {
			writeError(w, http.StatusUnauthorized, "invalid or missing API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type chatRequest struct {
	UserID      string `json:"user_id"`
	Message     string `json:"message"`
	Variant     string `json:"variant,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Language    string `json:"language,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

// handleChat runs one chat turn: ensure the workspace, build the memory
// context block, relay the message, and hand the transcript to the
// extraction pipeline. Extraction is fire-and-forget; its failures
// never surface here.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	contextText := ""
	block, err := s.engine.BuildContext(r.Context(), req.UserID, s.config.Memory.ContextTokenBudget)
	if err != nil {
		log.Printf("WARNING: Context build failed for user %s, chatting without memory: %v", req.UserID, err)
	} else {
		contextText = block.Text()
	}

	reply, err := s.manager.Chat(r.Context(), req.UserID, types.Variant(req.Variant),
		req.DisplayName, req.Language, contextText, req.Message, req.SessionID)
	if err != nil {
		log.Printf("ERROR: Chat turn failed for user %s: %v", req.UserID, err)
		status := http.StatusBadGateway
		if reliability.IsRetryable(err) {
			status = http.StatusServiceUnavailable
		}
		// Generic message only; internals stay in the log.
		writeError(w, status, "companion is temporarily unavailable, please retry")
		return
	}

	if !s.engine.QueueExtraction(&memory.ExtractionJob{
		UserID:         req.UserID,
		UserMessage:    req.Message,
		CompanionReply: reply,
		ConversationID: req.SessionID,
		Timestamp:      time.Now().UTC(),
	}) {
		log.Printf("WARNING: Extraction queue full, dropping job for user %s", req.UserID)
	}

	writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	records, err := s.engine.ListAll(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list memories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": records, "count": len(records)})
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	recordID := chi.URLParam(r, "recordID")
	if err := s.engine.DeleteRecord(r.Context(), userID, recordID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete memory")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDeleteUserMemories(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	deleted, err := s.engine.DeleteUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete memories")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": deleted})
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ws, err := s.manager.Get(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load workspace")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

type reconfigureRequest struct {
	Variant string `json:"variant"`
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req reconfigureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ws, err := s.manager.Reconfigure(r.Context(), userID, types.Variant(req.Variant))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "workspace not found")
			return
		}
		if !types.IsValidVariant(types.Variant(req.Variant)) {
			writeError(w, http.StatusBadRequest, "unknown variant")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "reconfigure failed, please retry")
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.manager.Delete(r.Context(), userID); err != nil {
		writeError(w, http.StatusServiceUnavailable, "workspace deletion failed, please retry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type reconcileRequest struct {
	Scope string `json:"scope"`
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	req := reconcileRequest{Scope: string(workspace.ScopeAll)}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	result, err := s.manager.Reconcile(r.Context(), workspace.Scope(req.Scope))
	if err != nil {
		if !workspace.IsValidScope(workspace.Scope(req.Scope)) {
			writeError(w, http.StatusBadRequest, "scope must be prompts, documents, or all")
			return
		}
		writeError(w, http.StatusInternalServerError, "reconcile failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	snap, err := s.canonical.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("reload rejected: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prompt_version":   snap.PromptVersion,
		"document_version": snap.DocumentVersion,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	if s.breakers != nil {
		health["breakers"] = s.breakers()
	}
	writeJSON(w, http.StatusOK, health)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
