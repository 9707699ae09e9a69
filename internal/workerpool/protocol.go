package workerpool

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameBytes guards against a worker sending a pathological frame length
// (e.g. a corrupted stream after a crash) that would otherwise try to
// allocate an enormous buffer.
const maxFrameBytes = 64 << 20

// jobFrame and resultFrame are the length-prefixed JSON messages exchanged
// with a worker process over its stdin/stdout pipes: subprocess workers
// communicating over pipes with length-prefixed serialized messages.
type jobFrame struct {
	Algorithm string            `json:"algorithm"`
	ABytes    []byte            `json:"a_bytes"`
	AText     string            `json:"a_text"`
	AHasText  bool              `json:"a_has_text"`
	BBytes    []byte            `json:"b_bytes"`
	BText     string            `json:"b_text"`
	BHasText  bool              `json:"b_has_text"`
	Options   map[string]string `json:"options"`
}

type resultFrame struct {
	ChangeCount int            `json:"change_count"`
	Fields      map[string]any `json:"fields"`
	Error       string         `json:"error,omitempty"`
}

func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(body))
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader, v any) error {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header)
	if size > maxFrameBytes {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
