package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/studiosync/studiosync/internal/storage"
)

const defaultChatListLimit = 50

type chatPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	ProjectID string `json:"project_id,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toChatPayload(c storage.Chat) chatPayload {
	return chatPayload{
		ID:        c.ID,
		Title:     c.Title,
		ProjectID: c.ProjectID,
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultChatListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}

		chats, err := deps.Store.ListChats(userID(r), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list chats: %v", err)
			return
		}
		payload := make([]chatPayload, 0, len(chats))
		for _, c := range chats {
			payload = append(payload, toChatPayload(c))
		}
		writeJSON(w, map[string]any{"chats": payload})
	}
}

func handleCreateChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Title     string `json:"title"`
			ProjectID string `json:"project_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		chat, err := deps.Store.CreateChat(userID(r), req.Title, req.ProjectID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create chat: %v", err)
			return
		}
		writeJSON(w, toChatPayload(chat))
	}
}

func handleGetChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chat, err := deps.Store.GetChat(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no such chat")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load chat: %v", err)
			return
		}
		writeJSON(w, toChatPayload(chat))
	}
}

func handleRenameChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title is required")
			return
		}

		if err := deps.Store.RenameChat(userID(r), chi.URLParam(r, "id"), req.Title); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no such chat")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to rename chat: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	}
}

func handleDeleteChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteChat(userID(r), chi.URLParam(r, "id")); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no such chat")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete chat: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	}
}

func handleChatMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Store.ChatMessages(userID(r), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no such chat")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load messages: %v", err)
			return
		}

		type messagePayload struct {
			Role      string `json:"role"`
			Content   string `json:"content"`
			CreatedAt string `json:"created_at"`
		}
		payload := make([]messagePayload, 0, len(msgs))
		for _, m := range msgs {
			payload = append(payload, messagePayload{
				Role:      m.Role,
				Content:   m.Content,
				CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, map[string]any{"messages": payload})
	}
}

// handleAppendChatMessage persists one finalized turn. Transient stream states
// are never written; only user text and the assistant's finished display text
// belong here.
func handleAppendChatMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Role != "user" && req.Role != "assistant" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "role must be user or assistant")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		if err := deps.Store.AppendChatMessage(userID(r), chi.URLParam(r, "id"), req.Role, req.Content); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no such chat")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to append message: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	}
}
