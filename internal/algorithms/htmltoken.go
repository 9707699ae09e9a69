package algorithms

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/webmonitoring/diffing-service/internal/decode"
)

// htmlToken diffs two HTML documents at the tokenizer level (tags, text
// runs, comments) rather than by raw source line, so that re-indenting or
// re-wrapping markup between tags doesn't register as a change the way
// html_source_dmp's line diff would. Whitespace inside a text run still
// counts.
func htmlToken(a, b decode.DecodedBody, options map[string]string) (Result, error) {
	segments, changeCount := diffSequences(tokenize(a.Text), tokenize(b.Text))
	visible := filterSegments(segments, decodeRenderOptions(options))
	return Result{
		ChangeCount: changeCount,
		Fields:      map[string]any{"diff": pairs(visible)},
	}, nil
}

// tokenize renders each HTML token back to its raw source text, so the
// diff operates over "token units" while still producing human-readable
// segment text.
func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	z := html.NewTokenizer(strings.NewReader(text))
	var tokens []string
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return tokens
		}
		raw := string(z.Raw())
		// Whitespace-only text between tags is layout, not content.
		if strings.TrimSpace(raw) == "" {
			continue
		}
		tokens = append(tokens, raw)
	}
}
