// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/nanochat/internal/model"
	"github.com/jeranaias/nanochat/internal/models"
	"github.com/jeranaias/nanochat/internal/nanogpt"
	"github.com/jeranaias/nanochat/internal/session"
	"github.com/jeranaias/nanochat/internal/storage"
	"github.com/jeranaias/nanochat/internal/telemetry"
	"github.com/jeranaias/nanochat/internal/tools"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8080

	// MaxRequestBodySize is the maximum size for a request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageCount is the maximum number of messages in a chat request.
	MaxMessageCount = 200

	// MaxContentLength is the maximum length of one message's content.
	MaxContentLength = 100000

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API surface: the chat proxy, the model catalog, and
// conversation CRUD.
type Server struct {
	addr   string
	router *http.ServeMux
	server *http.Server

	apiKey   string
	upstream *nanogpt.Client
	registry *models.Registry
	convs    *storage.ConversationStore
	prefs    *storage.PreferenceStore
	usage    *telemetry.Store
	toolbox  *tools.Registry

	sendMu   sync.Mutex
	inFlight map[string]bool
}

// Options configures a Server. Usage and Toolbox are optional.
type Options struct {
	Addr     string
	APIKey   string
	Upstream *nanogpt.Client
	Registry *models.Registry
	Convs    *storage.ConversationStore
	Prefs    *storage.PreferenceStore
	Usage    *telemetry.Store
	Toolbox  *tools.Registry
}

// NewServer creates a server with all routes configured.
func NewServer(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = fmt.Sprintf(":%d", DefaultPort)
	}

	s := &Server{
		addr:     opts.Addr,
		router:   http.NewServeMux(),
		apiKey:   opts.APIKey,
		upstream: opts.Upstream,
		registry: opts.Registry,
		convs:    opts.Convs,
		prefs:    opts.Prefs,
		usage:    opts.Usage,
		toolbox:  opts.Toolbox,
		inFlight: make(map[string]bool),
	}

	s.setupRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler(limiter *RateLimiter) http.Handler {
	chain := Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(log.Default()),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig()),
		RateLimitMiddleware(limiter),
	)
	return chain(s.router)
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, handler http.Handler) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Printf("SERVER_SHUTDOWN | addr=%s", s.addr)
		return s.server.Shutdown(shutdownCtx)
	}
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("GET /api/models", s.handleModels)

	s.router.HandleFunc("GET /api/conversations", s.handleListConversations)
	s.router.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	s.router.HandleFunc("DELETE /api/conversations", s.handleClearConversations)
	s.router.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	s.router.HandleFunc("PUT /api/conversations/{id}", s.handleRenameConversation)
	s.router.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	s.router.HandleFunc("PUT /api/conversations/{id}/messages", s.handleSetMessages)
	s.router.HandleFunc("POST /api/conversations/{id}/send", s.handleSendMessage)

	s.router.HandleFunc("GET /api/preference", s.handleGetPreference)
	s.router.HandleFunc("PUT /api/preference", s.handleSetPreference)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// ============================================================================
// CHAT HANDLER
// ============================================================================

// chatRequest is the inbound chat payload. Unknown message fields are
// ignored.
type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamFrame is one outbound SSE payload.
type streamFrame struct {
	Content      string `json:"content,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// handleChat proxies a streaming completion. The model is chosen via the
// x-model-id header and resolved against the catalog; unknown ids fall
// back to the default model rather than failing the request.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := nanogpt.ValidateCredentials(s.apiKey); err != nil {
		log.Printf("CHAT_CONFIG_ERROR | err=%v", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("CHAT_BAD_BODY | err=%v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, "Messages array is required")
		return
	}
	if len(req.Messages) > MaxMessageCount {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Too many messages: maximum is %d", MaxMessageCount))
		return
	}

	// Drop messages with roles outside the persistable set; reject when
	// nothing survives.
	history := make([]nanogpt.ChatMessage, 0, len(req.Messages))
	for i, m := range req.Messages {
		if !model.ValidRole(model.Role(m.Role)) {
			continue
		}
		if len(m.Content) > MaxContentLength {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Message %d exceeds maximum length of %d", i, MaxContentLength))
			return
		}
		history = append(history, nanogpt.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if len(history) == 0 {
		s.writeError(w, http.StatusBadRequest, "No valid messages in request")
		return
	}

	modelID, err := s.registry.Resolve(r.Header.Get("x-model-id"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "No models available")
		return
	}

	ch, err := s.upstream.StreamChat(r.Context(), nanogpt.ChatRequest{
		Model:    modelID,
		Messages: history,
	})
	if err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for chunk := range ch {
		if chunk.Err != nil {
			// Headers are already sent; all we can do is log and stop.
			log.Printf("CHAT_STREAM_ERROR | err=%v", chunk.Err)
			break
		}
		s.sendFrame(w, flusher, streamFrame{
			Content:      chunk.Content,
			Reasoning:    chunk.Reasoning,
			FinishReason: chunk.FinishReason,
		})
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// sendFrame writes one SSE data frame.
func (s *Server) sendFrame(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeUpstreamError maps the typed upstream error taxonomy onto HTTP
// statuses.
func (s *Server) writeUpstreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, nanogpt.ErrUnauthorized):
		s.writeError(w, http.StatusUnauthorized, "Invalid NanoGPT API key")
	case errors.Is(err, nanogpt.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "Rate limited by upstream, try again shortly")
	default:
		var apiErr *nanogpt.APIError
		if errors.As(err, &apiErr) {
			log.Printf("CHAT_UPSTREAM_ERROR | status=%d msg=%s", apiErr.Status, apiErr.Message)
			s.writeError(w, http.StatusBadGateway, "Upstream request failed")
			return
		}
		log.Printf("CHAT_ERROR | err=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Request processing failed. Please try again.")
	}
}

// ============================================================================
// MODELS HANDLER
// ============================================================================

// modelsResponse mirrors the catalog document plus a degradation note
// when the configured catalog failed to load and the fallback is in use.
type modelsResponse struct {
	Models []models.ModelConfig `json:"models"`
	Error  string               `json:"error,omitempty"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, modelsResponse{
		Models: s.registry.Models(),
		Error:  s.registry.LoadError(),
	})
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"conversations": s.convs.All(),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	// An empty body is fine; the conversation starts untitled.
	var req struct {
		FirstMessage string `json:"firstMessage"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	conv, err := s.convs.Create(req.FirstMessage)
	if err != nil {
		log.Printf("CONVERSATION_CREATE_ERROR | err=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	s.writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv := s.convs.Get(r.PathValue("id"))
	if conv == nil {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "Title is required")
		return
	}

	found, err := s.convs.Rename(r.PathValue("id"), strings.TrimSpace(req.Title))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to rename conversation")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := s.convs.Delete(id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	if s.usage != nil {
		if err := s.usage.DeleteConversation(id); err != nil {
			log.Printf("TELEMETRY_DELETE_ERROR | conversation=%s err=%v", id, err)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	if err := s.convs.Clear(); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to clear conversations")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// wireMessage is the inbound message shape for transcript writes. The
// invocation list arrives untyped so it can be normalized; the outer
// field shadows the embedded one during decoding.
type wireMessage struct {
	model.Message
	ToolInvocations any `json:"toolInvocations"`
}

func (s *Server) handleSetMessages(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req struct {
		Messages []wireMessage `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	// Client-supplied invocation records are untrusted; everything that
	// crosses this boundary goes through the normalizer.
	msgs := make([]model.Message, 0, len(req.Messages))
	for _, wm := range req.Messages {
		m := wm.Message
		m.ToolInvocations = tools.NormalizeInvocations(wm.ToolInvocations)
		msgs = append(msgs, m)
	}

	found, err := s.convs.SetMessages(r.PathValue("id"), msgs)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save messages")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleSendMessage runs one full server-side exchange: the session
// controller streams the completion, executes tool calls against the
// toolbox, and persists the transcript through the change gate. The
// response is the settled conversation. Unlike /api/chat, this path
// does the reconciliation on the server.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if err := nanogpt.ValidateCredentials(s.apiKey); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "Text is required")
		return
	}

	// One exchange per conversation at a time, across requests; a second
	// send for the same conversation while one is streaming is rejected.
	id := r.PathValue("id")
	if !s.beginSend(id) {
		s.writeError(w, http.StatusConflict, "A response is already streaming for this conversation")
		return
	}
	defer s.endSend(id)

	opts := session.Options{
		Registry: s.registry,
		Prefs:    s.prefs,
		Store:    s.convs,
		Upstream: s.upstream,
		Toolbox:  s.toolbox,
	}
	if s.usage != nil {
		opts.Usage = s.usage
	}

	ctrl, err := session.NewController(opts, id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	if err := ctrl.Send(r.Context(), req.Text); err != nil {
		s.writeUpstreamError(w, err)
		return
	}

	conv := s.convs.Get(ctrl.ConversationID())
	if conv == nil {
		s.writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	s.writeJSON(w, http.StatusOK, conv)
}

// beginSend marks a conversation's exchange as in flight. Reports false
// when one is already running.
func (s *Server) beginSend(id string) bool {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.inFlight[id] {
		return false
	}
	s.inFlight[id] = true
	return true
}

func (s *Server) endSend(id string) {
	s.sendMu.Lock()
	delete(s.inFlight, id)
	s.sendMu.Unlock()
}

// ============================================================================
// PREFERENCE HANDLERS
// ============================================================================

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"selectedModelId": s.prefs.Load(),
	})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req struct {
		SelectedModelID string `json:"selectedModelId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SelectedModelID == "" {
		s.writeError(w, http.StatusBadRequest, "selectedModelId is required")
		return
	}
	if !s.registry.IsValid(req.SelectedModelID) {
		s.writeError(w, http.StatusBadRequest, "Unknown model id")
		return
	}
	if err := s.prefs.Save(req.SelectedModelID); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save preference")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	totals, err := s.usage.Totals()
	if err != nil {
		log.Printf("STATS_ERROR | err=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read usage stats")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"enabled":         true,
		"exchanges":       totals.Exchanges,
		"promptChars":     totals.PromptChars,
		"completionChars": totals.CompletionChars,
		"elapsedMs":       totals.Elapsed.Milliseconds(),
	})
}

// ============================================================================
// RESPONSE HELPERS
// ============================================================================

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("RESPONSE_ENCODE_ERROR | err=%v", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
