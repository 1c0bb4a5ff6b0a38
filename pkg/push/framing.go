// Package push frames sync messages for the WebSocket push channel and
// carries them over gorilla/websocket connections.
package push

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/grovetools/statesync/errors"
)

const (
	// WebSocketBufferSize is the transport buffer size in bytes.
	WebSocketBufferSize = 16384
	// WebSocketFragmentSize bounds a fragment in characters so that even at
	// four bytes per character it fits the buffer.
	WebSocketFragmentSize = WebSocketBufferSize/4 - 1
	// MessageDelimiter separates fragments and ends the length header.
	MessageDelimiter = '|'
)

// Fragment splits msg into fragments of at most WebSocketFragmentSize
// characters.
func Fragment(msg string) []string {
	return FragmentSize(msg, WebSocketFragmentSize)
}

// FragmentSize splits msg into fragments of at most size characters. An
// empty message yields one empty fragment.
func FragmentSize(msg string, size int) []string {
	if size <= 0 {
		size = WebSocketFragmentSize
	}
	if utf8.RuneCountInString(msg) <= size {
		return []string{msg}
	}
	var out []string
	runes := []rune(msg)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

// Join concatenates fragments separated by MessageDelimiter.
func Join(fragments []string) string {
	return strings.Join(fragments, string(MessageDelimiter))
}

// Split splits a joined message at every MessageDelimiter.
func Split(joined string) []string {
	return strings.Split(joined, string(MessageDelimiter))
}

// Reassemble reverses Join. It is only lossless for messages that contain
// no MessageDelimiter; use FragmentedMessage otherwise.
func Reassemble(joined string) string {
	return strings.Join(Split(joined), "")
}

// FragmentedMessage fragments a message behind a "<length>|" header so
// the receiver can reassemble it regardless of its content. The length is
// counted in characters.
type FragmentedMessage struct {
	message string
	size    int
}

// NewFragmentedMessage prepares msg with the default fragment size.
func NewFragmentedMessage(msg string) *FragmentedMessage {
	return NewFragmentedMessageSize(msg, WebSocketFragmentSize)
}

// NewFragmentedMessageSize prepares msg with fragments of at most size
// characters, header included.
func NewFragmentedMessageSize(msg string, size int) *FragmentedMessage {
	if size <= 0 {
		size = WebSocketFragmentSize
	}
	return &FragmentedMessage{message: msg, size: size}
}

// Len returns the message length in characters.
func (m *FragmentedMessage) Len() int {
	return utf8.RuneCountInString(m.message)
}

// Fragments returns the wire fragments in send order.
func (m *FragmentedMessage) Fragments() []string {
	header := strconv.Itoa(m.Len()) + string(MessageDelimiter)
	first := max(m.size-len(header), 1)

	runes := []rune(m.message)
	if len(runes) <= first {
		return []string{header + m.message}
	}
	out := []string{header + string(runes[:first])}
	return append(out, FragmentSize(string(runes[first:]), m.size)...)
}

// Reader reassembles messages produced by FragmentedMessage. It is not
// safe for concurrent use.
type Reader struct {
	buf       strings.Builder
	remaining int
	active    bool
}

// Feed consumes one fragment. It returns the message and true once the
// last fragment of a message has been fed.
func (r *Reader) Feed(fragment string) (string, bool, error) {
	if !r.active {
		i := strings.IndexByte(fragment, MessageDelimiter)
		if i <= 0 {
			return "", false, errors.InvalidFragment("missing length header").
				WithDetail("fragment", truncate(fragment))
		}
		n, err := strconv.Atoi(fragment[:i])
		if err != nil || n < 0 {
			return "", false, errors.InvalidFragment("invalid length header").
				WithDetail("header", fragment[:i])
		}
		r.active = true
		r.remaining = n
		r.buf.Reset()
		fragment = fragment[i+1:]
	}

	count := utf8.RuneCountInString(fragment)
	if count > r.remaining {
		r.Reset()
		return "", false, errors.InvalidFragment("fragment exceeds declared message length").
			WithDetail("excess", count)
	}
	r.buf.WriteString(fragment)
	r.remaining -= count
	if r.remaining > 0 {
		return "", false, nil
	}
	msg := r.buf.String()
	r.Reset()
	return msg, true, nil
}

// Pending reports whether a message is partially assembled.
func (r *Reader) Pending() bool {
	return r.active
}

// Reset discards any partial message.
func (r *Reader) Reset() {
	r.buf.Reset()
	r.remaining = 0
	r.active = false
}

func truncate(s string) string {
	const limit = 32
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
