package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/studiosync/studiosync/internal/storage"
	"github.com/studiosync/studiosync/internal/workspace"
)

type queueItemPayload struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt string          `json:"created_at"`
}

func toQueueItemPayload(item storage.QueueItem) queueItemPayload {
	return queueItemPayload{
		ID:        item.ID,
		Payload:   json.RawMessage(item.PayloadJSON),
		CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type runtimeErrorPayload struct {
	Message string `json:"message"`
	Script  string `json:"script,omitempty"`
	Line    int    `json:"line,omitempty"`
}

func toRuntimeErrorPayload(re workspace.RuntimeError) *runtimeErrorPayload {
	return &runtimeErrorPayload{Message: re.Message, Script: re.Script, Line: re.Line}
}

// handleSyncPending returns the oldest undelivered item for the caller, or an
// explicit null when the queue is empty. Reading does not remove the item;
// only a confirm does. Any runtime error reported since the last poll rides
// along and is consumed by this read.
func handleSyncPending(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := userID(r)

		item, err := deps.Store.OldestPending(uid)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read queue: %v", err)
			return
		}

		resp := struct {
			Item      *queueItemPayload    `json:"item"`
			LastError *runtimeErrorPayload `json:"lastError,omitempty"`
		}{}
		if item != nil {
			p := toQueueItemPayload(*item)
			resp.Item = &p
		}
		if re, ok := deps.Workspace.TakeError(uid); ok {
			resp.LastError = toRuntimeErrorPayload(re)
		}
		writeJSON(w, resp)
	}
}

// handleSyncPush accepts an externally produced payload into the caller's
// queue. The payload must at least be a JSON object; its contents are stored
// verbatim.
func handleSyncPush(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		var probe map[string]any
		if err := json.Unmarshal(req.Payload, &probe); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "payload must be a JSON object")
			return
		}

		item, err := deps.Store.PushQueueItem(userID(r), string(req.Payload))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue: %v", err)
			return
		}
		writeJSON(w, toQueueItemPayload(item))
	}
}

// handleSyncConfirm removes a delivered item. Confirming an id that is gone,
// never existed, or belongs to another user is the same 404.
func handleSyncConfirm(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "id is required")
			return
		}

		if err := deps.Store.ConfirmQueueItem(userID(r), req.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found_error", "no such item")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to confirm: %v", err)
			return
		}
		writeJSON(w, map[string]bool{"ok": true})
	}
}

// handleSyncError records a runtime failure the editor hit while applying
// work. The item is parked in an error state so the poll loop moves past it,
// and the report is surfaced once on the next pending read.
func handleSyncError(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			Script  string `json:"script"`
			Line    int    `json:"line"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		uid := userID(r)
		if req.ID != "" {
			if err := deps.Store.MarkQueueItemError(uid, req.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to mark item: %v", err)
				return
			}
		}
		deps.Workspace.RecordError(uid, workspace.RuntimeError{
			Message: req.Message,
			Script:  req.Script,
			Line:    req.Line,
		})
		writeJSON(w, map[string]bool{"ok": true})
	}
}

// handleSyncHeartbeat is the plugin's liveness probe. A pending runtime error
// rides along and is consumed by the read, same contract as pending: whichever
// endpoint surfaces it first dismisses it.
func handleSyncHeartbeat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := struct {
			Status    string               `json:"status"`
			Timestamp string               `json:"timestamp"`
			LastError *runtimeErrorPayload `json:"lastError,omitempty"`
		}{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if re, ok := deps.Workspace.TakeError(userID(r)); ok {
			resp.LastError = toRuntimeErrorPayload(re)
		}
		writeJSON(w, resp)
	}
}

func handleGetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"context": deps.Workspace.Context(userID(r))})
	}
}

// handleReplaceContext swaps the caller's workspace snapshot wholesale. An
// empty list clears it; there is no merge.
func handleReplaceContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			Context []string `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		deps.Workspace.ReplaceContext(userID(r), req.Context)
		writeJSON(w, map[string]bool{"ok": true})
	}
}

func handleSyncPlace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req struct {
			PlaceID string `json:"placeId"`
			GameID  string `json:"gameId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		deps.Workspace.RecordPlace(userID(r), workspace.Place{PlaceID: req.PlaceID, GameID: req.GameID})
		writeJSON(w, map[string]bool{"ok": true})
	}
}
