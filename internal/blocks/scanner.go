// Package blocks extracts fenced JSON work blocks from free-form generated
// text. Scanning is a pure function over the final accumulated text so it can
// be tested independently of any transport.
package blocks

import "strings"

const (
	openMarker  = "```json"
	closeMarker = "```"
)

// Scan returns the raw bodies of all complete fenced blocks, in the order
// they appear. An unterminated fence at the tail is not a block and is
// ignored here (Strip removes it from display text).
func Scan(text string) []string {
	var bodies []string
	rest := text
	for {
		open := strings.Index(rest, openMarker)
		if open == -1 {
			return bodies
		}
		after := rest[open+len(openMarker):]
		end := strings.Index(after, closeMarker)
		if end == -1 {
			return bodies
		}
		body := strings.TrimSpace(after[:end])
		if body != "" {
			bodies = append(bodies, body)
		}
		rest = after[end+len(closeMarker):]
	}
}

// Strip removes fenced block markup from display text: every complete block,
// and a still-open fence at the tail so partial text never flashes raw block
// syntax mid-stream. Stripping already-stripped text is a no-op.
func Strip(text string) string {
	var b strings.Builder
	rest := text
	for {
		open := strings.Index(rest, openMarker)
		if open == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:open])
		after := rest[open+len(openMarker):]
		end := strings.Index(after, closeMarker)
		if end == -1 {
			// Open fence with no close yet: drop everything from the marker on.
			break
		}
		rest = after[end+len(closeMarker):]
	}
	return strings.TrimRight(b.String(), " \t\n")
}
