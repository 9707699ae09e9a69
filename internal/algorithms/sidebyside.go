package algorithms

import "github.com/webmonitoring/diffing-service/internal/decode"

// sideBySideText returns both decoded texts verbatim for a client-side
// side-by-side renderer, rather than computing a diff itself.
func sideBySideText(a, b decode.DecodedBody, _ map[string]string) (Result, error) {
	changeCount := 0
	if a.Text != b.Text {
		changeCount = 1
	}
	return Result{
		ChangeCount: changeCount,
		Fields: map[string]any{
			"diff": map[string]string{"a": a.Text, "b": b.Text},
		},
	}, nil
}
