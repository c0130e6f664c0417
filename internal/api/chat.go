package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/studiosync/studiosync/internal/pipeline"
	"github.com/studiosync/studiosync/internal/provider"
)

type chatRequest struct {
	Message string             `json:"message"`
	ChatID  string             `json:"chatId,omitempty"`
	History []provider.Message `json:"conversationHistory,omitempty"`
}

// sseFrame is one wire frame of the chat stream. Exactly one field is set.
type sseFrame struct {
	Delta      string `json:"delta,omitempty"`
	Building   *bool  `json:"building,omitempty"`
	CodePushed *bool  `json:"codePushed,omitempty"`
	Error      string `json:"error,omitempty"`
	Done       *bool  `json:"done,omitempty"`
}

// handleChat streams one generation as server-sent events. Each frame is a
// single-field JSON object; the stream always ends with either an error frame
// or a done frame.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := pipeline.ValidateMessage(req.Message); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		uid := userID(r)
		wsContext := deps.Workspace.Context(uid)

		deps.Generator.Generate(r.Context(), uid, req.Message, req.History, wsContext, func(e pipeline.Event) {
			writeSSEFrame(w, flusher, e)
		})
	}
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, e pipeline.Event) {
	yes, no := true, false

	var frame sseFrame
	switch e.Type {
	case pipeline.EventDelta:
		if e.Text == "" {
			return
		}
		frame.Delta = e.Text
	case pipeline.EventBuilding:
		frame.Building = &yes
	case pipeline.EventOutcome:
		if e.Pushed {
			frame.CodePushed = &yes
		} else {
			frame.CodePushed = &no
		}
	case pipeline.EventError:
		frame.Error = e.Message
	case pipeline.EventDone:
		frame.Done = &yes
	default:
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to marshal stream frame", "error", err)
		return
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
	flusher.Flush()
}
