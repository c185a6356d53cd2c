// Package can defines the canonical CAN FD frame representation shared by
// the wire codecs, the bus adapter and the gateway server.
package can

// MaxPayload is the largest payload a CAN FD frame can carry.
const MaxPayload = 64

// Frame is the canonical bus frame. ID holds an 11-bit standard or 29-bit
// extended identifier; the range is not validated at this layer. Flags are
// passed through the bridge unchanged.
type Frame struct {
	ID    uint32 `json:"id"`
	Flags uint32 `json:"flags"`
	DLC   uint8  `json:"dlc"`
	Data  []byte `json:"data"`
}

// New builds a frame from an identifier and payload, computing the DLC from
// the payload length. Payloads longer than MaxPayload are truncated; the
// second return value reports whether truncation happened so callers can
// surface the data loss.
func New(id, flags uint32, data []byte) (Frame, bool) {
	truncated := false
	if len(data) > MaxPayload {
		data = data[:MaxPayload]
		truncated = true
	}
	return Frame{
		ID:    id,
		Flags: flags,
		DLC:   EncodeLength(len(data)),
		Data:  data,
	}, truncated
}

// DecodeLength maps a DLC to the payload byte count it represents.
// Codes 0-8 are literal; 9-15 are the CAN FD extended buckets.
func DecodeLength(dlc uint8) int {
	if dlc <= 8 {
		return int(dlc)
	}
	switch dlc {
	case 9:
		return 12
	case 10:
		return 16
	case 11:
		return 20
	case 12:
		return 24
	case 13:
		return 32
	case 14:
		return 48
	case 15:
		return 64
	}
	return 0
}

// EncodeLength maps a payload length to the smallest DLC whose bucket holds
// it. Lengths above MaxPayload saturate at 15; callers that can exceed the
// limit truncate first via New.
func EncodeLength(n int) uint8 {
	switch {
	case n <= 8:
		if n < 0 {
			return 0
		}
		return uint8(n)
	case n <= 12:
		return 9
	case n <= 16:
		return 10
	case n <= 20:
		return 11
	case n <= 24:
		return 12
	case n <= 32:
		return 13
	case n <= 48:
		return 14
	default:
		return 15
	}
}
