package algorithms

import "github.com/webmonitoring/diffing-service/internal/decode"

// lengthCompare compares the raw byte length of both sides; like
// identicalBytes, it never decodes.
func lengthCompare(a, b decode.DecodedBody, _ map[string]string) (Result, error) {
	lenA, lenB := len(a.Bytes), len(b.Bytes)
	changeCount := 0
	if lenA != lenB {
		changeCount = 1
	}
	return Result{
		ChangeCount: changeCount,
		Fields: map[string]any{
			"diff": map[string]int{"a": lenA, "b": lenB},
		},
	}, nil
}
