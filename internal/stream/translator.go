// Package stream translates the vendor's newline-delimited SSE body into
// OpenAI-compatible output, either incrementally (Relay) or buffered whole
// (Collect).
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// doneToken terminates the vendor stream; it carries no payload.
const doneToken = "[DONE]"

// Event is one decoded vendor stream event.
type Event struct {
	// Text is the content fragment, nil when the event carried none.
	Text *string
	// Finish is the vendor finish reason, empty until the final event.
	Finish string
	// Done is set for the literal [DONE] terminator line.
	Done bool
}

type wireEvent struct {
	Text         *string `json:"text"`
	FinishReason string  `json:"finish_reason"`
}

// Scanner extracts vendor events from a byte stream one line at a time.
//
// Lines are significant only when they start with "data:" after trimming
// surrounding whitespace. Malformed JSON payloads are logged and skipped;
// a final line without a trailing newline is still delivered.
type Scanner struct {
	reader *bufio.Reader
	logger *slog.Logger
}

// NewScanner wraps r for event extraction.
func NewScanner(r io.Reader, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		reader: bufio.NewReader(r),
		logger: logger,
	}
}

// Next returns the next decoded event. io.EOF signals the end of the input
// with no event pending; any other error is an upstream read failure.
func (s *Scanner) Next() (Event, error) {
	for {
		line, readErr := s.reader.ReadString('\n')

		if ev, ok := s.parseLine(line); ok {
			// The reader re-reports io.EOF on the next call, so a trailing
			// unterminated line loses nothing by being returned first.
			return ev, nil
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("read vendor stream: %w", readErr)
		}
	}
}

func (s *Scanner) parseLine(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	payload, ok := strings.CutPrefix(trimmed, "data:")
	if !ok {
		return Event{}, false
	}

	payload = strings.TrimSpace(payload)
	if payload == doneToken {
		return Event{Done: true}, true
	}

	var wire wireEvent
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		s.logger.Warn("skipping malformed vendor event", "error", err)
		return Event{}, false
	}

	return Event{Text: wire.Text, Finish: wire.FinishReason}, true
}

// Collect buffers the whole vendor stream and concatenates every text
// fragment in arrival order. Used for non-streaming requests.
func Collect(r io.Reader, logger *slog.Logger) (string, error) {
	sc := NewScanner(r, logger)
	var b strings.Builder
	for {
		ev, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if ev.Done {
			return b.String(), nil
		}
		if ev.Text != nil {
			b.WriteString(*ev.Text)
		}
	}
}

// WriteError marks a failed write to the downstream client. The relay loop
// stops immediately and the caller must not attempt the terminator.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "downstream write failed: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }

// EmitFunc delivers one translated chunk downstream. finish is nil for
// intermediate chunks and set exactly once, on the final one.
type EmitFunc func(delta string, finish *string) error

// Relay consumes the vendor stream and emits one chunk per text fragment,
// strictly in arrival order.
//
// A vendor finish reason ends the stream after its chunk; the [DONE]
// terminator ends it without a chunk. A nil return means the stream ended
// normally and the caller should send its own terminator. A *WriteError
// means the downstream side failed; any other error is an upstream failure.
// Either way the caller must abort without a terminator.
func Relay(ctx context.Context, body io.Reader, emit EmitFunc, logger *slog.Logger) error {
	sc := NewScanner(body, logger)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		ev, err := sc.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if ev.Done {
			return nil
		}

		if ev.Finish != "" {
			finish := ev.Finish
			var delta string
			if ev.Text != nil {
				delta = *ev.Text
			}
			if werr := emit(delta, &finish); werr != nil {
				return &WriteError{Err: werr}
			}
			return nil
		}

		if ev.Text == nil {
			continue
		}
		if werr := emit(*ev.Text, nil); werr != nil {
			return &WriteError{Err: werr}
		}
	}
}
