package oracle

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// Encoder converts text to and from token ids. The default encoder is the
// configured tiktoken encoding; tests and embedders can substitute their
// own with WithEncoder.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// tiktokenEncoder adapts a tiktoken encoding to the Encoder interface.
type tiktokenEncoder struct {
	tk *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Encode(text string) []int   { return e.tk.Encode(text, nil, nil) }
func (e tiktokenEncoder) Decode(tokens []int) string { return e.tk.Decode(tokens) }

// TokenCounter estimates prompt sizes so planners can keep decomposition
// prompts inside the oracle's context window. The underlying encoding is
// initialized lazily because tiktoken may fetch data on first use.
type TokenCounter struct {
	encoding string
	budget   int

	once    sync.Once
	enc     Encoder
	initErr error
}

// NewTokenCounter creates a counter for the given encoding with a per-prompt
// token budget. An empty encoding falls back to DefaultEncoding; a budget of
// zero or less disables truncation.
func NewTokenCounter(encoding string, budget int) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TokenCounter{encoding: encoding, budget: budget}
}

// WithEncoder substitutes the token encoder, skipping tiktoken entirely.
func (t *TokenCounter) WithEncoder(enc Encoder) *TokenCounter {
	t.enc = enc
	return t
}

func (t *TokenCounter) init() error {
	t.once.Do(func() {
		if t.enc != nil {
			return
		}
		tk, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = tiktokenEncoder{tk: tk}
	})
	return t.initErr
}

// Count returns the number of tokens in text.
func (t *TokenCounter) Count(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text)), nil
}

// Budget returns the configured per-prompt token budget, 0 when unlimited.
func (t *TokenCounter) Budget() int { return t.budget }

// Truncate cuts text down to the configured budget, keeping the head of the
// prompt. Text already inside the budget is returned unchanged.
func (t *TokenCounter) Truncate(text string) (string, error) {
	if t.budget <= 0 {
		return text, nil
	}
	if err := t.init(); err != nil {
		return "", err
	}
	tokens := t.enc.Encode(text)
	if len(tokens) <= t.budget {
		return text, nil
	}
	return t.enc.Decode(tokens[:t.budget]), nil
}

// Name identifies the counter's encoding.
func (t *TokenCounter) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
