package orchestrator

import (
	"regexp"
	"strings"
)

// sentenceEndingPattern matches any one of the original's SENTENCE_ENDINGS
// inside a single token. listItemEndingPattern replaces it while the buffer
// looks like a numbered list item in progress, so "1. First" doesn't flush
// on the period before the list content has even arrived.
var (
	sentenceEndingPattern = regexp.MustCompile(`[.!?\n]`)
	listItemEndingPattern = regexp.MustCompile(`\n`)

	// listItemPrefix matches a buffer that opens with a bare number followed
	// by a space or a period, i.e. a numbered-list marker ("1." or "1 ").
	listItemPrefix = regexp.MustCompile(`^\d+[ .]`)

	// trailingMoney matches a dollar amount ending the buffer so far -- the
	// trailing "." is deliberately an unescaped wildcard, not a literal
	// period, mirroring the original's r"\$\d+.$": it only ever matches the
	// single character immediately following the digits, so "$3" (no
	// trailing character yet) and "$3.50" (more than one trailing character)
	// both miss, while "$3." and "$3x" both hit.
	trailingMoney = regexp.MustCompile(`\$\d+.\z`)
)

// sentenceEndings mirrors the original's SENTENCE_ENDINGS list; exported
// indirectly through FindLastPunctuation's contract.
var sentenceEndings = []string{".", "!", "?", "\n"}

// FindLastPunctuation returns the index of the last sentence-ending
// character in s and true, or (0, false) if s contains none. The original
// Python helper returns the max of several index searches, each of which
// yields -1 when its target is absent, and silently collapses "found only
// at position 0" with "found nowhere" when every search comes up empty --
// this version reports absence explicitly instead of reusing -1 as a
// sentinel. CollateResponse no longer calls this itself -- it tracks
// boundaries token-by-token -- but it's kept as the standalone utility
// callers may still want for locating a sentence break in an already
// materialized string.
func FindLastPunctuation(s string) (pos int, ok bool) {
	best := -1
	for _, ending := range sentenceEndings {
		if idx := strings.LastIndex(s, ending); idx > best {
			best = idx
		}
	}
	if best < 0 {
		return 0, false
	}
	return best, true
}

// FunctionFragment is one incremental slice of a tool call an LLM provider
// streams mid-response, mirroring the original's FunctionFragment model.
type FunctionFragment struct {
	Name      string
	Arguments string
}

// FunctionCall is the fully aggregated tool call CollateResponse emits once
// its input ends, if function fragments supplied both a name and arguments
// and the caller asked for them.
type FunctionCall struct {
	Name      string
	Arguments string
}

// CollatorToken is a single item pulled from an LLM token stream: either a
// text token or a function-call fragment, never both -- the Go answer to
// the original's Union[str, FunctionFragment] generator element.
type CollatorToken struct {
	Text     string
	Fragment *FunctionFragment
}

// CollateResponse consumes a channel of raw LLM token fragments and emits
// complete sentences on the returned string channel as soon as a sentence
// boundary is seen, buffering partial sentences across token boundaries. If
// getFunctions is true, any FunctionFragment tokens are concatenated by name
// and by arguments, and, if both are non-empty, the result is delivered as a
// single FunctionCall on the returned call channel once the input closes -- both channels are
// closed together when the goroutine exits. It is the Go port of
// collate_response_async.
//
// Three rules govern a boundary, checked against each incoming token rather
// than the whole accumulated buffer:
//  1. a numbered-list buffer ("1. First") only flushes on a literal newline,
//     never on the period in the marker itself;
//  2. a buffer ending in a trailing dollar amount ("$3.") withholds its
//     flush, since the digits after the point might still be arriving;
//  3. once withheld that way, the next token starting with a space forces
//     the held-back buffer to flush immediately, since a following digit
//     would instead have continued the amount.
func CollateResponse(tokens <-chan CollatorToken, getFunctions bool) (<-chan string, <-chan FunctionCall) {
	out := make(chan string)
	calls := make(chan FunctionCall, 1)

	go func() {
		defer close(out)
		defer close(calls)

		var buffer strings.Builder
		var functionName, functionArgs strings.Builder
		prevEndsWithMoney := false

		flush := func() {
			text := strings.TrimSpace(buffer.String())
			if text != "" {
				out <- text
			}
			buffer.Reset()
		}

		for tok := range tokens {
			if tok.Fragment != nil {
				functionName.WriteString(tok.Fragment.Name)
				functionArgs.WriteString(tok.Fragment.Arguments)
				continue
			}
			token := tok.Text
			if token == "" {
				continue
			}

			if prevEndsWithMoney && strings.HasPrefix(token, " ") {
				flush()
			}

			buffer.WriteString(token)
			current := buffer.String()

			possibleListItem := listItemPrefix.MatchString(current)
			endsWithMoney := trailingMoney.MatchString(current)

			pattern := sentenceEndingPattern
			if possibleListItem {
				pattern = listItemEndingPattern
			}
			if pattern.MatchString(token) && !endsWithMoney {
				flush()
			}
			prevEndsWithMoney = endsWithMoney
		}

		flush()

		if getFunctions && functionName.Len() > 0 && functionArgs.Len() > 0 {
			calls <- FunctionCall{Name: functionName.String(), Arguments: functionArgs.String()}
		}
	}()

	return out, calls
}
