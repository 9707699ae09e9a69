package algorithms

import (
	"strings"

	"github.com/webmonitoring/diffing-service/internal/decode"
)

// htmlSourceDMP diffs the two documents' raw decoded source line-by-line,
// mirroring the original service's "html_source_dmp" route (a diff of the
// unparsed document source, as opposed to html_token's tokenized diff).
func htmlSourceDMP(a, b decode.DecodedBody, options map[string]string) (Result, error) {
	segments, changeCount := diffSequences(splitLines(a.Text), splitLines(b.Text))
	visible := filterSegments(segments, decodeRenderOptions(options))
	return Result{
		ChangeCount: changeCount,
		Fields:      map[string]any{"diff": pairs(visible)},
	}, nil
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
