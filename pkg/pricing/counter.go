package pricing

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// UnitCounter converts raw text into billable units. The calculator never
// counts units itself; callers choose the counting policy.
type UnitCounter interface {
	// Count returns the number of billable units in text. Never negative.
	Count(text string) int
}

// WordCounter approximates unit counts by whitespace-splitting.
//
// This is the cheap approximation used when no exact tokenizer is available
// or when upstream usage reporting is absent. It undercounts relative to
// subword tokenizers, which is why upstream-reported usage is always
// preferred when present.
type WordCounter struct{}

// Count returns the number of whitespace-separated words in text.
func (WordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

// modelEncodings maps model identifiers to their tiktoken encoding.
// Prefix matching handles dated model variants (gpt-4o-2024-08-06 etc.).
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// TiktokenCounter counts units with the exact tiktoken encoding for a
// model. Encoding data is loaded lazily on first use; if loading fails
// (e.g. the encoding file cannot be fetched), the counter degrades to the
// whitespace approximation rather than failing the request.
type TiktokenCounter struct {
	model    string
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error

	fallback WordCounter
}

// NewTiktokenCounter creates an exact counter for the given model.
// Models without a known encoding default to cl100k_base.
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding, ok := modelEncodings[model]
	if !ok {
		for prefix, enc := range modelEncodings {
			if strings.HasPrefix(model, prefix) {
				encoding = enc
				ok = true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}

	return &TiktokenCounter{
		model:    model,
		encoding: encoding,
	}
}

// Count returns the exact token count for text, or the whitespace
// approximation if the encoding could not be initialized.
func (t *TiktokenCounter) Count(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// init lazily loads the tiktoken encoding. Loading may download encoding
// data on first use, so it is deferred until the counter is actually needed.
func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}
