// internal/protocol/tokenizer.go
package protocol

import "strings"

// StreamTokenizer splits a raw controller stream into event and data messages.
//
// Text between '<' and '>' is an event. Tags may nest: the inner tag is emitted
// first and its text is removed from the enclosing tag. Text outside of tags,
// terminated by a newline, is a data message. Incomplete tags and lines are
// held until a later Push completes them.
type StreamTokenizer struct {
	// open tags, innermost last
	tags   [][]byte
	line   []byte
	events []string
	data   []string
}

// NewStreamTokenizer creates an empty tokenizer
func NewStreamTokenizer() *StreamTokenizer {
	return &StreamTokenizer{}
}

// Push feeds the next chunk of the stream
func (t *StreamTokenizer) Push(chunk string) {
	for i := 0; i < len(chunk); i++ {
		c := chunk[i]
		depth := len(t.tags)

		switch {
		case c == '<':
			t.tags = append(t.tags, nil)

		case c == '>' && depth > 0:
			content := t.tags[depth-1]
			t.tags = t.tags[:depth-1]
			t.events = append(t.events, strings.TrimRight(string(content), " \t\r\n"))

		case depth > 0:
			t.tags[depth-1] = append(t.tags[depth-1], c)

		case c == '\n':
			if msg := strings.TrimSpace(string(t.line)); msg != "" {
				t.data = append(t.data, msg)
			}
			t.line = t.line[:0]

		default:
			t.line = append(t.line, c)
		}
	}
}

// EventMessages returns the events completed since the last call
func (t *StreamTokenizer) EventMessages() []string {
	events := t.events
	t.events = nil
	return events
}

// DataMessages returns the data lines completed since the last call
func (t *StreamTokenizer) DataMessages() []string {
	data := t.data
	t.data = nil
	return data
}

// Pending reports whether an incomplete tag or line is buffered
func (t *StreamTokenizer) Pending() bool {
	return len(t.tags) > 0 || len(t.line) > 0
}
