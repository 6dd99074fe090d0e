package tokenizer

import "testing"

func TestNewTiktokenTokenizerSelectsEncoding(t *testing.T) {
	cases := map[string]string{
		"gpt-4o":        "o200k_base",
		"gpt-4o-mini":   "o200k_base",
		"gpt-4-turbo":   "cl100k_base",
		"gpt-3.5-turbo": "cl100k_base",
		"some-unlisted-future-model": "cl100k_base",
	}
	for model, want := range cases {
		got := NewTiktokenTokenizer(model).encoding
		if got != want {
			t.Errorf("NewTiktokenTokenizer(%q).encoding = %q, want %q", model, got, want)
		}
	}
}

// TestCountIsNonNegativeAndMonotonic avoids asserting exact token counts,
// since pkoukk/tiktoken-go may need to fetch its BPE ranks over the network
// on first use and Count silently falls back to a character-based estimate when
// that fails -- both paths agree that a non-empty string never tokenizes to
// fewer tokens than its empty prefix, and a superstring never tokenizes to
// fewer tokens than the string it extends.
func TestCountIsNonNegativeAndMonotonic(t *testing.T) {
	tok := NewTiktokenTokenizer("gpt-4o")

	if got := tok.Count(""); got != 0 {
		t.Errorf("Count(\"\") = %d, want 0", got)
	}

	short := "hello"
	long := "hello world, this is a considerably longer sentence with many more words"

	shortCount := tok.Count(short)
	longCount := tok.Count(long)
	if shortCount < 0 || longCount < 0 {
		t.Fatalf("Count must never be negative: got %d and %d", shortCount, longCount)
	}
	if longCount < shortCount {
		t.Errorf("Count(long)=%d should be >= Count(short)=%d", longCount, shortCount)
	}
}
