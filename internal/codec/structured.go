package codec

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"openvns/bridge/internal/can"
)

const (
	// recordTypeFrame tags a JSON record that carries a bus frame.
	// Records with other tags are skipped, not rejected.
	recordTypeFrame = "can"

	// maxRecordLen caps the declared record size so a corrupt length
	// prefix cannot make the connection buffer unbounded.
	maxRecordLen = 1 << 20
)

// Structured is the length-prefixed JSON framing used by application-level
// clients: [u32 record length BE][JSON record]. A frame record looks like
// {"type":"can","id":291,"data":[10,20]}.
type Structured struct{}

type frameRecord struct {
	Type  string `json:"type"`
	ID    int64  `json:"id"`
	Flags uint32 `json:"flags"`
	Data  []int  `json:"data"`
}

// Name returns the codec identifier.
func (Structured) Name() string { return "structured" }

// TryDecode extracts one record from the front of buf. Records whose type
// tag is not "can" consume their bytes and return ErrSkipRecord. Frames
// with more than can.MaxPayload data bytes are truncated and returned with
// ErrPayloadTruncated.
func (Structured) TryDecode(buf []byte) (can.Frame, int, error) {
	if len(buf) < 4 {
		return can.Frame{}, 0, ErrIncomplete
	}

	length := int(binary.BigEndian.Uint32(buf[:4]))
	if length > maxRecordLen {
		return can.Frame{}, 0, fmt.Errorf("%w: record length %d exceeds %d", ErrInvalidFrame, length, maxRecordLen)
	}

	total := 4 + length
	if len(buf) < total {
		return can.Frame{}, 0, ErrIncomplete
	}

	var rec frameRecord
	if err := json.Unmarshal(buf[4:total], &rec); err != nil {
		return can.Frame{}, 0, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	if rec.Type != recordTypeFrame {
		return can.Frame{}, total, ErrSkipRecord
	}

	if rec.ID < 0 || rec.ID > 0xFFFFFFFF {
		return can.Frame{}, 0, fmt.Errorf("%w: id %d out of range", ErrInvalidFrame, rec.ID)
	}

	data := make([]byte, len(rec.Data))
	for i, v := range rec.Data {
		if v < 0 || v > 0xFF {
			return can.Frame{}, 0, fmt.Errorf("%w: data[%d]=%d out of byte range", ErrInvalidFrame, i, v)
		}
		data[i] = byte(v)
	}

	frame, truncated := can.New(uint32(rec.ID), rec.Flags, data)
	if truncated {
		return frame, total, ErrPayloadTruncated
	}
	return frame, total, nil
}

// Encode writes the frame as a length-prefixed JSON record. The bridge's
// fan-out path does not use it (bus frames go out compact-encoded for every
// client); it exists for symmetric replies.
func (Structured) Encode(frame can.Frame) []byte {
	data := make([]int, len(frame.Data))
	for i, b := range frame.Data {
		data[i] = int(b)
	}

	payload, _ := json.Marshal(frameRecord{
		Type:  recordTypeFrame,
		ID:    int64(frame.ID),
		Flags: frame.Flags,
		Data:  data,
	})

	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}
