// Package tokenizer provides the concrete orchestrator.Tokenizer
// implementations Transcript.RenderForAgent and SimpleAgent use to enforce a
// token budget on rendered context.
package tokenizer

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncoding maps a model name to its tiktoken encoding.
var modelEncoding = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

// TiktokenTokenizer counts tokens the way the named OpenAI-family model
// would, via pkoukk/tiktoken-go. It implements orchestrator.Tokenizer.
type TiktokenTokenizer struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenTokenizer builds a tokenizer for model, falling back to
// cl100k_base for any model not in modelEncoding (covers most GPT-3.5/4
// deployments and is a safe approximation for unknown/future models).
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	encoding, ok := modelEncoding[model]
	if !ok {
		encoding = "cl100k_base"
	}
	return &TiktokenTokenizer{encoding: encoding}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		t.enc, t.initErr = tiktoken.GetEncoding(t.encoding)
	})
	return t.initErr
}

// Count returns the number of tokens text would encode to. On a tiktoken
// initialization failure it falls back to a rough character-based estimate
// (one token per four bytes of text) rather than propagating an error
// through the Tokenizer interface's error-free signature.
func (t *TiktokenTokenizer) Count(text string) int {
	if err := t.init(); err != nil {
		return len(text) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}
