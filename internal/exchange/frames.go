// Package exchange drives one chat exchange from the consumer side: it decodes
// the server's event stream, folds the frames into a small exchange state
// machine, and watches for stalls and overdue delivery confirmations.
package exchange

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
)

// Frame is one decoded stream event. Exactly one field is set per frame.
type Frame struct {
	Delta      string `json:"delta,omitempty"`
	Building   *bool  `json:"building,omitempty"`
	CodePushed *bool  `json:"codePushed,omitempty"`
	Error      string `json:"error,omitempty"`
	Done       *bool  `json:"done,omitempty"`
}

const maxFrameSize = 1024 * 1024

// ReadFrames decodes "data: {...}" events from r and hands each to handle,
// until the stream ends or handle returns an error. Line buffering absorbs
// arbitrary network chunk boundaries, so a frame split across reads is
// reassembled before decoding. Malformed frames are skipped.
func ReadFrames(r io.Reader, handle func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var f Frame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
			continue
		}
		if err := handle(f); err != nil {
			return err
		}
	}
	return scanner.Err()
}
