// Package codec implements the two TCP wire encodings the bridge accepts:
// a compact binary framing and a length-prefixed JSON framing. Both codecs
// are stateless; the connection handler owns the accumulation buffer and
// calls TryDecode until it reports ErrIncomplete.
package codec

import (
	"errors"

	"openvns/bridge/internal/can"
)

// Errors returned by TryDecode.
var (
	// ErrIncomplete signals that the buffer does not yet hold a full
	// frame. Not a failure; the caller waits for more bytes.
	ErrIncomplete = errors.New("codec: incomplete frame")

	// ErrInvalidFrame signals a malformed header or payload. The caller
	// closes the offending connection.
	ErrInvalidFrame = errors.New("codec: invalid frame")

	// ErrPayloadTruncated is returned alongside a valid frame whose
	// payload exceeded can.MaxPayload and was cut down to it.
	ErrPayloadTruncated = errors.New("codec: payload truncated")

	// ErrSkipRecord signals a well-formed record that does not carry a
	// frame. The reported byte count must still be consumed.
	ErrSkipRecord = errors.New("codec: record skipped")
)

// Codec translates between a byte stream and bus frames.
//
// TryDecode inspects buf without consuming it and returns the decoded frame
// plus the number of bytes the caller must drop from the front of buf.
// ErrIncomplete means no bytes were consumed. ErrPayloadTruncated and
// ErrSkipRecord are non-fatal and still consume bytes; any other error is
// fatal for the connection.
type Codec interface {
	TryDecode(buf []byte) (can.Frame, int, error)
	Encode(frame can.Frame) []byte
	Name() string
}
