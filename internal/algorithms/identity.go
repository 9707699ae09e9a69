package algorithms

import (
	"bytes"

	"github.com/webmonitoring/diffing-service/internal/decode"
)

// identicalBytes is the simplest registered diff: a byte-for-byte
// comparison that never decodes either side.
func identicalBytes(a, b decode.DecodedBody, _ map[string]string) (Result, error) {
	same := bytes.Equal(a.Bytes, b.Bytes)
	changeCount := 0
	if !same {
		changeCount = 1
	}
	return Result{
		ChangeCount: changeCount,
		Fields:      map[string]any{"diff": same},
	}, nil
}
