package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// doneSentinel terminates an OpenAI-style SSE stream.
const doneSentinel = "[DONE]"

// maxEventSize bounds a single SSE event. Chat completion deltas are
// small; anything past this is a malformed or hostile upstream.
const maxEventSize = 1 << 20

// chunk mirrors the OpenAI-compatible streaming chunk shape, which is
// what most aggregator upstreams emit regardless of the backing model.
type chunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Reader decodes a text/event-stream body into stream events.
type Reader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
}

// NewReader wraps an SSE response body. The caller retains responsibility
// for closing the reader.
func NewReader(body io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)
	return &Reader{
		body:    body,
		scanner: scanner,
	}
}

// Next returns the next decoded event. Returns Done followed by io.EOF at
// normal end of stream; a bare io.EOF means the upstream hung up without
// the done sentinel, which callers treat the same way.
func (r *Reader) Next(ctx context.Context) (Event, error) {
	if r.closed {
		return nil, io.EOF
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, err := r.readData()
		if err != nil {
			return nil, err
		}
		if data == "" {
			continue
		}
		if data == doneSentinel {
			return Done{}, nil
		}

		ev, err := decodeChunk(data)
		if err != nil {
			return nil, err
		}
		if ev == nil {
			continue
		}
		return ev, nil
	}
}

// readData reads one SSE event's data payload, joining multi-line data
// fields. Empty string means an event with no data field (keep-alives).
func (r *Reader) readData() (string, error) {
	var dataLines []string
	sawField := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line terminates the event
		if line == "" {
			if sawField {
				break
			}
			continue
		}
		sawField = true

		if data, ok := strings.CutPrefix(line, "data: "); ok {
			dataLines = append(dataLines, data)
		}
		// Other SSE fields (event, id, retry) carry nothing we price
	}

	if err := r.scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read failed: %w", err)
	}
	if !sawField && len(dataLines) == 0 {
		return "", io.EOF
	}
	return strings.Join(dataLines, "\n"), nil
}

// decodeChunk maps one data payload to an event, or nil for chunks that
// carry nothing billable (role-only deltas, empty keep-alive chunks).
func decodeChunk(data string) (Event, error) {
	var c chunk
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("malformed stream chunk: %w", err)
	}

	if c.Error != nil {
		return ErrorEvent{Message: c.Error.Message}, nil
	}
	if c.Usage != nil {
		return UsageFinal{
			Model:       c.Model,
			InputUnits:  c.Usage.PromptTokens,
			OutputUnits: c.Usage.CompletionTokens,
		}, nil
	}
	if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
		return ContentFragment{
			Model: c.Model,
			Text:  c.Choices[0].Delta.Content,
		}, nil
	}
	return nil, nil
}

// Close releases the underlying body. Safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.body.Close()
}
