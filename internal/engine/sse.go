package engine

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is a single server-sent event.
type sseEvent struct {
	Type string
	Data string
}

// sseReader reads SSE events from an io.Reader.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &sseReader{scanner: sc}
}

// Next returns the next event, or io.EOF at end of stream.
// Servers that emit bare JSON lines without a blank-line terminator are
// tolerated: every "data:" line dispatches immediately.
func (r *sseReader) Next() (sseEvent, error) {
	var ev sseEvent
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			if ev.Type != "" {
				return ev, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(strings.ToLower(line), "data:"):
			ev.Data = strings.TrimSpace(line[len("data:"):])
			return ev, nil
		case strings.HasPrefix(line, "{"):
			ev.Data = line
			return ev, nil
		}
		// id:, retry: and comments are ignored
	}
	if err := r.scanner.Err(); err != nil {
		return sseEvent{}, err
	}
	return sseEvent{}, io.EOF
}
