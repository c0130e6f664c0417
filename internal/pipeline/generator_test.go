package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/studiosync/studiosync/internal/provider"
	"github.com/studiosync/studiosync/internal/storage"
)

// fakeStreamer replays chunks and then either completes or fails.
type fakeStreamer struct {
	chunks []string
	err    error
	system string
	msgs   []provider.Message
}

func (f *fakeStreamer) Stream(ctx context.Context, system string, messages []provider.Message, emit func(string) error) error {
	f.system = system
	f.msgs = messages
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return f.err
}

// fakeQueue records pushes; ids listed in failIDs (by payload substring) fail.
type fakeQueue struct {
	pushed  []string
	failAll bool
	failOn  string
}

func (f *fakeQueue) PushQueueItem(userID, payloadJSON string) (storage.QueueItem, error) {
	if f.failAll || (f.failOn != "" && strings.Contains(payloadJSON, f.failOn)) {
		return storage.QueueItem{}, errors.New("store unavailable")
	}
	f.pushed = append(f.pushed, payloadJSON)
	return storage.QueueItem{ID: fmt.Sprintf("item-%d", len(f.pushed)), UserID: userID, PayloadJSON: payloadJSON}, nil
}

func collect(g *Generator, message string, history []provider.Message, wsContext []string) []Event {
	var events []Event
	g.Generate(context.Background(), "user-1", message, history, wsContext, func(e Event) {
		events = append(events, e)
	})
	return events
}

func kinds(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func visibleText(events []Event) string {
	var sb strings.Builder
	for _, e := range events {
		if e.Type == EventDelta {
			sb.WriteString(e.Text)
		}
	}
	return sb.String()
}

const partBody = `{"type":"part","name":"LavaBrick","className":"Part","properties":{"Anchored":true}}`
const scriptBody = `{"scriptType":"Script","targetService":"ServerScriptService","name":"LavaFloor","code":"print(1)"}`

func fence(body string) string {
	return "```json\n" + body + "\n```"
}

// Two valid blocks, the second without a type discriminant: both enqueued, in
// text order, the second normalized as a script.
func TestGenerate_MultiBlockEnqueueOrder(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{
		"Here you go.\n",
		fence(partBody) + "\n",
		"And the script:\n",
		fence(scriptBody),
	}}
	queue := &fakeQueue{}
	g := NewGenerator(streamer, queue)

	events := collect(g, "make a lava floor", nil, nil)

	if len(queue.pushed) != 2 {
		t.Fatalf("pushed %d items, want 2", len(queue.pushed))
	}
	if !strings.Contains(queue.pushed[0], "LavaBrick") {
		t.Errorf("first pushed = %q, want the part block first", queue.pushed[0])
	}
	if !strings.Contains(queue.pushed[1], `"type":"script"`) {
		t.Errorf("second pushed = %q, want normalized script variant", queue.pushed[1])
	}

	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Errorf("last event = %v, want EventDone", last.Type)
	}

	var sawBuilding bool
	for _, e := range events {
		if e.Type == EventBuilding {
			sawBuilding = true
		}
		if e.Type == EventOutcome && !e.Pushed {
			t.Error("outcome pushed = false, want true")
		}
	}
	if !sawBuilding {
		t.Errorf("no EventBuilding in %v", kinds(events))
	}
}

// An invalid block is skipped: nothing enqueued, outcome false, visible text
// unaffected.
func TestGenerate_InvalidBlockSkipped(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{
		"Try this:\n```json\n{not valid json\n```\nGood luck!",
	}}
	queue := &fakeQueue{}
	g := NewGenerator(streamer, queue)

	events := collect(g, "make something", nil, nil)

	if len(queue.pushed) != 0 {
		t.Fatalf("pushed %d items, want 0", len(queue.pushed))
	}
	for _, e := range events {
		if e.Type == EventOutcome && e.Pushed {
			t.Error("outcome pushed = true, want false")
		}
	}
	text := visibleText(events)
	if !strings.Contains(text, "Try this:") || !strings.Contains(text, "Good luck!") {
		t.Errorf("visible text = %q", text)
	}
	if strings.Contains(text, "```") {
		t.Errorf("visible text contains fence markup: %q", text)
	}
}

// A stream that fails before completion ends with a terminal error and no
// extraction, even if the accumulator already holds a complete block.
func TestGenerate_StreamFailureSkipsExtraction(t *testing.T) {
	streamer := &fakeStreamer{
		chunks: []string{fence(scriptBody) + "\nand then the connection "},
		err:    provider.ErrStreamTruncated,
	}
	queue := &fakeQueue{}
	g := NewGenerator(streamer, queue)

	events := collect(g, "make a script", nil, nil)

	if len(queue.pushed) != 0 {
		t.Fatalf("pushed %d items after stream failure, want 0", len(queue.pushed))
	}
	last := events[len(events)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %v, want EventError", last.Type)
	}
	for _, e := range events[:len(events)-1] {
		if e.Type == EventError || e.Type == EventDone {
			t.Error("terminal event emitted before the end")
		}
	}
}

// A plain-text answer produces deltas and Done only.
func TestGenerate_NoBlocks(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Luau is Roblox's ", "typed Lua dialect."}}
	queue := &fakeQueue{}
	g := NewGenerator(streamer, queue)

	events := collect(g, "what is Luau?", nil, nil)

	want := []EventType{EventDelta, EventDelta, EventDone}
	got := kinds(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
	if visibleText(events) != "Luau is Roblox's typed Lua dialect." {
		t.Errorf("visible = %q", visibleText(events))
	}
}

// Fence markup never reaches delta events, even when the opener is split
// across chunk boundaries.
func TestGenerate_NoFenceFlashAcrossChunks(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{
		"Here:\n``", "`js", "on\n", scriptBody, "\n``", "`\nDone.",
	}}
	queue := &fakeQueue{}
	g := NewGenerator(streamer, queue)

	events := collect(g, "script please", nil, nil)

	for _, e := range events {
		if e.Type == EventDelta && strings.Contains(e.Text, "`") {
			t.Errorf("delta contains backtick: %q", e.Text)
		}
	}
	if len(queue.pushed) != 1 {
		t.Errorf("pushed %d items, want 1", len(queue.pushed))
	}
	text := visibleText(events)
	if !strings.Contains(text, "Done.") {
		t.Errorf("trailing prose lost: %q", text)
	}
}

// A push failure on one block does not prevent delivery of its siblings, and
// any success makes the aggregate outcome true.
func TestGenerate_PartialPushFailure(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{fence(partBody) + "\n" + fence(scriptBody)}}
	queue := &fakeQueue{failOn: "LavaBrick"}
	g := NewGenerator(streamer, queue)

	events := collect(g, "both please", nil, nil)

	if len(queue.pushed) != 1 || !strings.Contains(queue.pushed[0], "LavaFloor") {
		t.Fatalf("pushed = %v, want only the script", queue.pushed)
	}
	for _, e := range events {
		if e.Type == EventOutcome && !e.Pushed {
			t.Error("outcome pushed = false, want true when any push succeeds")
		}
	}
}

func TestGenerate_AllPushesFail(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{fence(scriptBody)}}
	queue := &fakeQueue{failAll: true}
	g := NewGenerator(streamer, queue)

	events := collect(g, "script please", nil, nil)

	var sawOutcome bool
	for _, e := range events {
		if e.Type == EventOutcome {
			sawOutcome = true
			if e.Pushed {
				t.Error("outcome pushed = true, want false when all pushes fail")
			}
		}
	}
	if !sawOutcome {
		t.Errorf("no EventOutcome in %v", kinds(events))
	}
	if events[len(events)-1].Type != EventDone {
		t.Error("queue failure must still end with EventDone, not a generation error")
	}
}

func TestTrimHistory_Bound(t *testing.T) {
	var history []provider.Message
	for i := 0; i < 50; i++ {
		history = append(history, provider.Message{Role: "user", Content: fmt.Sprintf("turn %d", i)})
	}

	trimmed := TrimHistory(history)
	if len(trimmed) > 20 {
		t.Fatalf("trimmed length = %d, want <= 20", len(trimmed))
	}
	if trimmed[0].Content != "turn 0" || trimmed[1].Content != "turn 1" {
		t.Errorf("first two anchors lost: %v %v", trimmed[0], trimmed[1])
	}
	if trimmed[len(trimmed)-1].Content != "turn 49" {
		t.Errorf("most recent turn lost: %v", trimmed[len(trimmed)-1])
	}
}

func TestTrimHistory_ShortUnchanged(t *testing.T) {
	history := []provider.Message{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	trimmed := TrimHistory(history)
	if len(trimmed) != 2 {
		t.Errorf("trimmed length = %d, want 2", len(trimmed))
	}
}

// Workspace context is prepended to the instruction prelude, not appended.
func TestGenerate_ContextPrepended(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"ok"}}
	g := NewGenerator(streamer, &fakeQueue{})

	collect(g, "hi", nil, []string{"Baseplate", "SpawnLocation"})

	idxCtx := strings.Index(streamer.system, "Baseplate")
	idxPrelude := strings.Index(streamer.system, "expert Roblox game developer")
	if idxCtx == -1 || idxPrelude == -1 || idxCtx > idxPrelude {
		t.Errorf("context not prepended before prelude (ctx at %d, prelude at %d)", idxCtx, idxPrelude)
	}
}

func TestGenerate_EmptyContextOmitted(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"ok"}}
	g := NewGenerator(streamer, &fakeQueue{})

	collect(g, "hi", nil, nil)

	if strings.Contains(streamer.system, "currently contains") {
		t.Errorf("context preamble included for empty context: %q", streamer.system)
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("make a door"); err != nil {
		t.Errorf("ValidateMessage(valid) = %v", err)
	}
	if err := ValidateMessage("   \n"); err == nil {
		t.Error("ValidateMessage(whitespace) = nil, want error")
	}
}
