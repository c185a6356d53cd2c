package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeLength(t *testing.T) {
	for code := uint8(0); code <= 8; code++ {
		assert.Equal(t, int(code), DecodeLength(code))
	}

	extended := map[uint8]int{
		9:  12,
		10: 16,
		11: 20,
		12: 24,
		13: 32,
		14: 48,
		15: 64,
	}
	for code, want := range extended {
		assert.Equal(t, want, DecodeLength(code), "dlc %d", code)
	}

	assert.Equal(t, 0, DecodeLength(16))
	assert.Equal(t, 0, DecodeLength(255))
}

func TestEncodeLengthBuckets(t *testing.T) {
	cases := []struct {
		length int
		want   uint8
	}{
		{0, 0}, {8, 8},
		{9, 9}, {12, 9},
		{13, 10}, {16, 10},
		{17, 11}, {20, 11},
		{21, 12}, {24, 12},
		{25, 13}, {32, 13},
		{33, 14}, {48, 14},
		{49, 15}, {64, 15},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, EncodeLength(tc.length), "length %d", tc.length)
	}
}

// Every payload length must round-trip to the smallest bucket that holds it.
func TestLengthRoundTrip(t *testing.T) {
	for n := 0; n <= MaxPayload; n++ {
		code := EncodeLength(n)
		size := DecodeLength(code)

		require.GreaterOrEqual(t, size, n, "bucket for %d too small", n)
		if n <= 8 {
			require.Equal(t, n, size)
		}
		if code > 0 {
			assert.Less(t, DecodeLength(code-1), n, "bucket for %d not minimal", n)
		}
	}
}

func TestNewComputesDLC(t *testing.T) {
	frame, truncated := New(0x123, 0, []byte{10, 20})

	assert.False(t, truncated)
	assert.Equal(t, uint32(0x123), frame.ID)
	assert.Equal(t, uint8(2), frame.DLC)
	assert.Equal(t, []byte{10, 20}, frame.Data)
}

func TestNewTruncatesLongPayload(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	frame, truncated := New(0x1FF, 0, data)

	assert.True(t, truncated)
	assert.Len(t, frame.Data, MaxPayload)
	assert.Equal(t, uint8(15), frame.DLC)
	assert.Equal(t, data[:MaxPayload], frame.Data)
}
