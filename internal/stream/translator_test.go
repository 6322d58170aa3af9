package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

const helloStream = "data: {\"text\":\"Hel\"}\ndata: {\"text\":\"lo\"}\ndata: {\"finish_reason\":\"stop\"}\n"

type emitted struct {
	delta  string
	finish *string
}

func record(calls *[]emitted) EmitFunc {
	return func(delta string, finish *string) error {
		*calls = append(*calls, emitted{delta: delta, finish: finish})
		return nil
	}
}

func TestCollectConcatenatesFragments(t *testing.T) {
	got, err := Collect(strings.NewReader(helloStream), nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "Hello" {
		t.Fatalf("Collect = %q, want %q", got, "Hello")
	}
}

func TestCollectSkipsMalformedAndNonDataLines(t *testing.T) {
	body := "event: ping\n" +
		": comment\n" +
		"data: {not json}\n" +
		"data: {\"text\":\"ok\"}\n" +
		"\n" +
		"data: [DONE]\n"

	got, err := Collect(strings.NewReader(body), nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "ok" {
		t.Fatalf("Collect = %q, want %q", got, "ok")
	}
}

func TestCollectFinalUnterminatedLine(t *testing.T) {
	got, err := Collect(strings.NewReader("data: {\"text\":\"tail\"}"), nil)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got != "tail" {
		t.Fatalf("Collect = %q, want %q", got, "tail")
	}
}

func TestRelayEmitsChunksInOrder(t *testing.T) {
	var calls []emitted
	if err := Relay(context.Background(), strings.NewReader(helloStream), record(&calls), nil); err != nil {
		t.Fatalf("Relay: %v", err)
	}

	if len(calls) != 3 {
		t.Fatalf("emitted %d chunks, want 3: %+v", len(calls), calls)
	}
	if calls[0].delta != "Hel" || calls[0].finish != nil {
		t.Errorf("chunk 0 = %+v, want delta Hel finish nil", calls[0])
	}
	if calls[1].delta != "lo" || calls[1].finish != nil {
		t.Errorf("chunk 1 = %+v, want delta lo finish nil", calls[1])
	}
	if calls[2].delta != "" || calls[2].finish == nil || *calls[2].finish != "stop" {
		t.Errorf("chunk 2 = %+v, want empty delta finish stop", calls[2])
	}
}

// Byte-at-a-time reads exercise the carry-over of incomplete lines between
// reads; the emitted chunks must not change.
func TestRelayHandlesFragmentedReads(t *testing.T) {
	var calls []emitted
	body := iotest.OneByteReader(strings.NewReader(helloStream))
	if err := Relay(context.Background(), body, record(&calls), nil); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if len(calls) != 3 || calls[0].delta != "Hel" || calls[1].delta != "lo" {
		t.Fatalf("fragmented reads changed output: %+v", calls)
	}
}

func TestRelayDoneTerminatorStopsReading(t *testing.T) {
	var calls []emitted
	body := "data: [DONE]\ndata: {\"text\":\"after\"}\n"
	if err := Relay(context.Background(), strings.NewReader(body), record(&calls), nil); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if len(calls) != 0 {
		t.Fatalf("emitted %d chunks after [DONE], want 0: %+v", len(calls), calls)
	}
}

func TestRelayFinishReasonStopsReading(t *testing.T) {
	var calls []emitted
	body := helloStream + "data: {\"text\":\"after\"}\n"
	if err := Relay(context.Background(), strings.NewReader(body), record(&calls), nil); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("emitted %d chunks, want 3 (nothing after finish): %+v", len(calls), calls)
	}
}

func TestRelayWriteFailureAborts(t *testing.T) {
	writeFailed := errors.New("broken pipe")
	var calls int
	emit := func(delta string, finish *string) error {
		calls++
		if calls == 2 {
			return writeFailed
		}
		return nil
	}

	err := Relay(context.Background(), strings.NewReader(helloStream), emit, nil)

	var werr *WriteError
	if !errors.As(err, &werr) {
		t.Fatalf("Relay error = %v, want *WriteError", err)
	}
	if !errors.Is(err, writeFailed) {
		t.Fatalf("WriteError does not wrap the underlying failure: %v", err)
	}
	if calls != 2 {
		t.Fatalf("emit called %d times after failure, want exactly 2", calls)
	}
}

func TestRelayUpstreamErrorIsNotWriteError(t *testing.T) {
	readFailed := errors.New("connection reset")
	body := io.MultiReader(
		strings.NewReader("data: {\"text\":\"Hel\"}\n"),
		iotest.ErrReader(readFailed),
	)

	var calls []emitted
	err := Relay(context.Background(), body, record(&calls), nil)
	if err == nil {
		t.Fatal("Relay returned nil for a broken upstream")
	}
	var werr *WriteError
	if errors.As(err, &werr) {
		t.Fatalf("upstream failure reported as WriteError: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("emitted %d chunks before the failure, want 1", len(calls))
	}
}

func TestRelayContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Relay(ctx, strings.NewReader(helloStream), record(new([]emitted)), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Relay error = %v, want context.Canceled", err)
	}
}

func TestScannerFinishWithText(t *testing.T) {
	sc := NewScanner(strings.NewReader("data: {\"text\":\"bye\",\"finish_reason\":\"stop\"}\n"), nil)
	ev, err := sc.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Text == nil || *ev.Text != "bye" || ev.Finish != "stop" {
		t.Fatalf("event = %+v, want text bye finish stop", ev)
	}
	if _, err := sc.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last event, got %v", err)
	}
}
