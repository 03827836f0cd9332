package stream

import (
	"context"
	"io"
	"strings"
	"testing"
)

func sseBody(events ...string) io.ReadCloser {
	var b strings.Builder
	for _, ev := range events {
		b.WriteString("data: ")
		b.WriteString(ev)
		b.WriteString("\n\n")
	}
	return io.NopCloser(strings.NewReader(b.String()))
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var events []Event
	for {
		ev, err := r.Next(context.Background())
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, ev)
	}
}

func TestReader_ContentFragments(t *testing.T) {
	r := NewReader(sseBody(
		`{"model":"gpt-4o","choices":[{"delta":{"content":"Hello"}}]}`,
		`{"model":"gpt-4o","choices":[{"delta":{"content":" world"}}]}`,
		`[DONE]`,
	))
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d: %v", len(events), events)
	}

	frag, ok := events[0].(ContentFragment)
	if !ok {
		t.Fatalf("Expected ContentFragment, got %T", events[0])
	}
	if frag.Model != "gpt-4o" || frag.Text != "Hello" {
		t.Errorf("Unexpected fragment: %+v", frag)
	}

	if _, ok := events[2].(Done); !ok {
		t.Errorf("Expected Done terminator, got %T", events[2])
	}
}

func TestReader_UsageChunk(t *testing.T) {
	r := NewReader(sseBody(
		`{"model":"gpt-4o","choices":[{"delta":{"content":"hi"}}]}`,
		`{"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":7}}`,
		`[DONE]`,
	))
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	usage, ok := events[1].(UsageFinal)
	if !ok {
		t.Fatalf("Expected UsageFinal, got %T", events[1])
	}
	if usage.InputUnits != 12 || usage.OutputUnits != 7 {
		t.Errorf("Unexpected usage: %+v", usage)
	}
}

func TestReader_ErrorChunk(t *testing.T) {
	r := NewReader(sseBody(
		`{"error":{"message":"rate limited"}}`,
		`[DONE]`,
	))
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	errEv, ok := events[0].(ErrorEvent)
	if !ok {
		t.Fatalf("Expected ErrorEvent, got %T", events[0])
	}
	if errEv.Message != "rate limited" {
		t.Errorf("Unexpected message: %q", errEv.Message)
	}
}

func TestReader_SkipsNonBillableChunks(t *testing.T) {
	r := NewReader(sseBody(
		`{"model":"gpt-4o","choices":[{"delta":{}}]}`,
		`{"model":"gpt-4o","choices":[{"delta":{"content":"real"}}]}`,
		`[DONE]`,
	))
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 2 {
		t.Fatalf("Expected role-only delta to be skipped, got %d events", len(events))
	}
	if frag, ok := events[0].(ContentFragment); !ok || frag.Text != "real" {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
}

func TestReader_HangupWithoutDone(t *testing.T) {
	r := NewReader(sseBody(
		`{"model":"gpt-4o","choices":[{"delta":{"content":"partial"}}]}`,
	))
	defer r.Close()

	events := readAll(t, r)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event before EOF, got %d", len(events))
	}
}

func TestReader_MalformedChunk(t *testing.T) {
	r := NewReader(sseBody(`{not json`))
	defer r.Close()

	_, err := r.Next(context.Background())
	if err == nil || err == io.EOF {
		t.Fatalf("Expected decode error, got %v", err)
	}
}

func TestReader_MultiLineData(t *testing.T) {
	body := "data: {\"model\":\"gpt-4o\",\ndata: \"choices\":[{\"delta\":{\"content\":\"joined\"}}]}\n\n"
	r := NewReader(io.NopCloser(strings.NewReader(body)))
	defer r.Close()

	ev, err := r.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	frag, ok := ev.(ContentFragment)
	if !ok || frag.Text != "joined" {
		t.Errorf("Expected joined multi-line data, got %+v", ev)
	}
}

func TestReader_ContextCancellation(t *testing.T) {
	r := NewReader(sseBody(`[DONE]`))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Next(ctx)
	if err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestReader_CloseThenNext(t *testing.T) {
	r := NewReader(sseBody(`[DONE]`))
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Second Close failed: %v", err)
	}
	if _, err := r.Next(context.Background()); err != io.EOF {
		t.Errorf("Expected io.EOF after close, got %v", err)
	}
}
