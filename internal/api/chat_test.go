package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/studiosync/studiosync/internal/pipeline"
)

func sseFrames(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f sseFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", line, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestChat_StreamsFrames(t *testing.T) {
	h, store, ws, gen := setupHandler(t)
	token := mintToken(t, store, "u1")

	gen.events = []pipeline.Event{
		{Type: pipeline.EventDelta, Text: "Here "},
		{Type: pipeline.EventDelta, Text: "you go."},
		{Type: pipeline.EventBuilding},
		{Type: pipeline.EventOutcome, Pushed: true},
		{Type: pipeline.EventDone},
	}
	ws.ReplaceContext("u1", []string{"Baseplate"})

	rec := doReq(t, h, http.MethodPost, "/api/chat", `{"message":"make a door"}`, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 5 {
		t.Fatalf("got %d frames: %s", len(frames), rec.Body.String())
	}
	if frames[0].Delta != "Here " || frames[1].Delta != "you go." {
		t.Errorf("delta frames = %+v %+v", frames[0], frames[1])
	}
	if frames[2].Building == nil || !*frames[2].Building {
		t.Errorf("building frame = %+v", frames[2])
	}
	if frames[3].CodePushed == nil || !*frames[3].CodePushed {
		t.Errorf("codePushed frame = %+v", frames[3])
	}
	if frames[4].Done == nil || !*frames[4].Done {
		t.Errorf("done frame = %+v", frames[4])
	}
	if gen.userID != "u1" || gen.message != "make a door" {
		t.Errorf("generator got user=%q message=%q", gen.userID, gen.message)
	}
	if len(gen.context) != 1 || gen.context[0] != "Baseplate" {
		t.Errorf("generator context = %v, want the workspace snapshot", gen.context)
	}
}

// A failed push still produces an explicit false frame, not a missing field.
func TestChat_CodePushedFalse(t *testing.T) {
	h, store, _, gen := setupHandler(t)
	token := mintToken(t, store, "u1")

	gen.events = []pipeline.Event{
		{Type: pipeline.EventBuilding},
		{Type: pipeline.EventOutcome, Pushed: false},
		{Type: pipeline.EventDone},
	}

	rec := doReq(t, h, http.MethodPost, "/api/chat", `{"message":"hi"}`, token)
	body := rec.Body.String()
	if !strings.Contains(body, `"codePushed":false`) {
		t.Errorf("no explicit codePushed:false frame in %s", body)
	}
}

func TestChat_ErrorFrameTerminal(t *testing.T) {
	h, store, _, gen := setupHandler(t)
	token := mintToken(t, store, "u1")

	gen.events = []pipeline.Event{
		{Type: pipeline.EventDelta, Text: "partial"},
		{Type: pipeline.EventError, Message: "Failed to get response"},
	}

	rec := doReq(t, h, http.MethodPost, "/api/chat", `{"message":"hi"}`, token)
	frames := sseFrames(t, rec.Body.String())
	last := frames[len(frames)-1]
	if last.Error != "Failed to get response" {
		t.Errorf("last frame = %+v, want the error frame", last)
	}
}

func TestChat_RejectsBlankMessage(t *testing.T) {
	h, store, _, _ := setupHandler(t)
	token := mintToken(t, store, "u1")

	rec := doReq(t, h, http.MethodPost, "/api/chat", `{"message":"  \n"}`, token)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChat_RequiresAuth(t *testing.T) {
	h, _, _, _ := setupHandler(t)
	rec := doReq(t, h, http.MethodPost, "/api/chat", `{"message":"hi"}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

// Empty deltas are dropped rather than sent as empty frames.
func TestWriteSSEFrame_SkipsEmptyDelta(t *testing.T) {
	h, store, _, gen := setupHandler(t)
	token := mintToken(t, store, "u1")

	gen.events = []pipeline.Event{
		{Type: pipeline.EventDelta, Text: ""},
		{Type: pipeline.EventDone},
	}

	rec := doReq(t, h, http.MethodPost, "/api/chat", `{"message":"hi"}`, token)
	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 1 || frames[0].Done == nil {
		t.Errorf("frames = %+v, want only the done frame", frames)
	}
}
