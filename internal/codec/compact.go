package codec

import (
	"encoding/binary"
	"fmt"

	"openvns/bridge/internal/can"
)

// compactHeaderLen is 4 bytes of big-endian identifier plus 1 length byte.
const compactHeaderLen = 5

// Compact is the raw binary framing used by firmware-level clients:
// [u32 identifier BE][u8 payload length][payload]. There is no outer length
// prefix; frames are streamed back to back.
type Compact struct{}

// Name returns the codec identifier.
func (Compact) Name() string { return "compact" }

// TryDecode extracts one frame from the front of buf.
func (Compact) TryDecode(buf []byte) (can.Frame, int, error) {
	if len(buf) < compactHeaderLen {
		return can.Frame{}, 0, ErrIncomplete
	}

	length := int(buf[4])
	if length > can.MaxPayload {
		return can.Frame{}, 0, fmt.Errorf("%w: declared length %d exceeds %d", ErrInvalidFrame, length, can.MaxPayload)
	}

	total := compactHeaderLen + length
	if len(buf) < total {
		return can.Frame{}, 0, ErrIncomplete
	}

	data := make([]byte, length)
	copy(data, buf[compactHeaderLen:total])

	frame, _ := can.New(binary.BigEndian.Uint32(buf[:4]), 0, data)
	return frame, total, nil
}

// Encode writes the frame in compact form. The length byte is the raw
// payload byte count, not the DLC bucket; flags are not represented.
func (Compact) Encode(frame can.Frame) []byte {
	data := frame.Data
	if len(data) > can.MaxPayload {
		data = data[:can.MaxPayload]
	}

	out := make([]byte, compactHeaderLen+len(data))
	binary.BigEndian.PutUint32(out[:4], frame.ID)
	out[4] = byte(len(data))
	copy(out[compactHeaderLen:], data)
	return out
}
