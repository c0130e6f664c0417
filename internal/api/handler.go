// Package api exposes the HTTP surface: session minting, the streaming chat
// endpoint, the sync endpoint set the editor plugin polls, and chat CRUD.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studiosync/studiosync/internal/pipeline"
	"github.com/studiosync/studiosync/internal/provider"
	"github.com/studiosync/studiosync/internal/storage"
	"github.com/studiosync/studiosync/internal/workspace"
)

const maxRequestBodySize = 1 << 20 // 1MB

// GenerationRunner is the pipeline contract the chat endpoint depends on.
type GenerationRunner interface {
	Generate(ctx context.Context, userID, message string, history []provider.Message, wsContext []string, emit func(pipeline.Event))
}

// Deps holds the collaborators the handlers need.
type Deps struct {
	Store     *storage.Store
	Workspace *workspace.Store
	Generator GenerationRunner
}

// NewHandler builds the full router. Everything except token minting sits
// behind session auth.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/api/auth/token", handleCreateToken(deps))

	r.Group(func(r chi.Router) {
		r.Use(SessionAuth(deps.Store))

		r.Post("/api/chat", handleChat(deps))

		r.Get("/api/sync/pending", handleSyncPending(deps))
		r.Post("/api/sync/push", handleSyncPush(deps))
		r.Post("/api/sync/confirm", handleSyncConfirm(deps))
		r.Post("/api/sync/error", handleSyncError(deps))
		r.Get("/api/sync/heartbeat", handleSyncHeartbeat(deps))
		r.Get("/api/sync/context", handleGetContext(deps))
		r.Post("/api/sync/context", handleReplaceContext(deps))
		r.Post("/api/sync/place", handleSyncPlace(deps))

		r.Get("/api/chats", handleListChats(deps))
		r.Post("/api/chats", handleCreateChat(deps))
		r.Get("/api/chats/{id}", handleGetChat(deps))
		r.Patch("/api/chats/{id}", handleRenameChat(deps))
		r.Delete("/api/chats/{id}", handleDeleteChat(deps))
		r.Get("/api/chats/{id}/messages", handleChatMessages(deps))
		r.Post("/api/chats/{id}/messages", handleAppendChatMessage(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleCreateToken(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		sess, err := deps.Store.CreateSession(req.UserID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create session: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"token":      sess.Token,
			"expires_at": sess.ExpiresAt,
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
