// Package pipeline orchestrates one generation: stream the model response to
// the caller as it arrives, then extract fenced work blocks from the full
// text and hand each to the per-user delivery queue.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/studiosync/studiosync/internal/blocks"
	"github.com/studiosync/studiosync/internal/provider"
	"github.com/studiosync/studiosync/internal/storage"
)

const systemPrelude = `You are an expert Roblox game developer specializing in Luau scripting.

CRITICAL RULES:
- Always write code in Luau, never plain Lua.
- Always specify which Roblox service the script belongs in.
- Valid services: ServerScriptService, StarterPlayerScripts, ReplicatedStorage, StarterGui.

When your response includes a script, you MUST include a JSON block formatted exactly like this:

` + "```json" + `
{
  "scriptType": "Script" | "LocalScript" | "ModuleScript",
  "targetService": "ServerScriptService" | "StarterPlayerScripts" | "ReplicatedStorage" | "StarterGui",
  "name": "DescriptiveScriptName",
  "code": "-- full Luau code here"
}
` + "```" + `

To create an object instead of a script, use "type": "part" with "name", "className", and a "properties" map.

Place the JSON block after any explanation text. The code field must contain the complete, ready-to-use Luau script.`

// History limits: the first turns anchor the task, the most recent carry the
// working state. Everything between is dropped so the prompt cannot grow
// without bound.
const (
	historyHead = 2
	historyTail = 16
)

// Streamer is the model provider contract the pipeline depends on.
type Streamer interface {
	Stream(ctx context.Context, system string, messages []provider.Message, emit func(text string) error) error
}

// QueueStore is the slice of the storage layer the pipeline writes to.
type QueueStore interface {
	PushQueueItem(userID, payloadJSON string) (storage.QueueItem, error)
}

// Generator runs generations for authenticated users.
type Generator struct {
	provider Streamer
	queue    QueueStore
	logger   *slog.Logger
}

func NewGenerator(p Streamer, q QueueStore) *Generator {
	return &Generator{provider: p, queue: q, logger: slog.Default()}
}

// TrimHistory bounds a conversation before it is sent to the model: the first
// two turns plus the most recent sixteen, order preserved. Shorter histories
// pass through unchanged.
func TrimHistory(history []provider.Message) []provider.Message {
	if len(history) <= historyHead+historyTail {
		return history
	}
	trimmed := make([]provider.Message, 0, historyHead+historyTail)
	trimmed = append(trimmed, history[:historyHead]...)
	trimmed = append(trimmed, history[len(history)-historyTail:]...)
	return trimmed
}

// systemPrompt builds the outgoing instruction. A non-empty workspace context
// is prepended, not appended, so it has priority when the model reads top to
// bottom.
func systemPrompt(wsContext []string) string {
	if len(wsContext) == 0 {
		return systemPrelude
	}
	var sb strings.Builder
	sb.WriteString("The user's place currently contains the following objects. Keep new work consistent with them:\n")
	for _, d := range wsContext {
		sb.WriteString("- ")
		sb.WriteString(d)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	sb.WriteString(systemPrelude)
	return sb.String()
}

// Generate streams one exchange. Display text is forwarded through emit as it
// arrives; once the model signals completion, fenced blocks are extracted in
// order and pushed to the user's queue. emit always receives exactly one
// terminal event, last.
//
// Delta events carry markup-stripped text: each emitted chunk is the
// difference between the stripped accumulator before and after the raw chunk,
// so a still-open fence never reaches the caller.
func (g *Generator) Generate(ctx context.Context, userID, message string, history []provider.Message, wsContext []string, emit func(Event)) {
	trimmed := TrimHistory(history)
	messages := make([]provider.Message, 0, len(trimmed)+1)
	messages = append(messages, trimmed...)
	messages = append(messages, provider.Message{Role: "user", Content: message})

	var raw strings.Builder
	shown := ""

	err := g.provider.Stream(ctx, systemPrompt(wsContext), messages, func(text string) error {
		raw.WriteString(text)
		// Hold back a trailing partial fence marker so its backticks never
		// flash on screen before Strip can recognize the full opener.
		visible := holdbackPartialFence(blocks.Strip(raw.String()))
		if len(visible) > len(shown) && strings.HasPrefix(visible, shown) {
			emit(Event{Type: EventDelta, Text: visible[len(shown):]})
			shown = visible
		}
		return nil
	})
	if err != nil {
		g.logger.Warn("generation stream failed", "user_id", userID, "error", err)
		// A prematurely-cut fenced block cannot be parsed reliably, so no
		// extraction happens on a partial accumulator.
		emit(Event{Type: EventError, Message: "Failed to get response"})
		return
	}

	// Flush any display text the holdback withheld at the very end.
	if final := blocks.Strip(raw.String()); len(final) > len(shown) && strings.HasPrefix(final, shown) {
		emit(Event{Type: EventDelta, Text: final[len(shown):]})
	}

	bodies := blocks.Scan(raw.String())
	if len(bodies) == 0 {
		emit(Event{Type: EventDone})
		return
	}

	emit(Event{Type: EventBuilding})

	pushed := false
	for i, body := range bodies {
		payload, err := blocks.Parse(body)
		if err != nil {
			g.logger.Warn("skipping unparseable block", "user_id", userID, "index", i, "error", err)
			continue
		}
		payloadJSON, err := json.Marshal(payload)
		if err != nil {
			g.logger.Warn("skipping unmarshalable block", "user_id", userID, "index", i, "error", err)
			continue
		}
		item, err := g.queue.PushQueueItem(userID, string(payloadJSON))
		if err != nil {
			// One failed push must not prevent delivery of sibling blocks.
			g.logger.Error("queue push failed", "user_id", userID, "index", i, "error", err)
			continue
		}
		g.logger.Info("queued work item", "user_id", userID, "item_id", item.ID, "type", payload.Type, "name", payload.Name)
		pushed = true
	}

	emit(Event{Type: EventOutcome, Pushed: pushed})
	emit(Event{Type: EventDone})
}

// holdbackPartialFence trims a trailing prefix of the block open marker
// ("`", "``", ... "```json") from display text.
func holdbackPartialFence(s string) string {
	const marker = "```json"
	for n := len(marker); n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return s[:len(s)-n]
		}
	}
	return s
}

// ValidateMessage rejects an empty or whitespace-only user message before any
// stream or queue work begins.
func ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}
