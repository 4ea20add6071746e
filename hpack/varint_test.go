package hpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 30, 31, 32, 126, 127, 128, 1000, 16383, 16384, 1 << 20, (1 << 28) - 1}

	for prefix := uint(1); prefix <= 8; prefix++ {
		for _, v := range values {
			max := (uint64(1) << prefix) - 1
			// Skip values that would need more than 4 continuation bytes
			// (5 octets total), the framework's own limit.
			if v > max && v-max >= 1<<28 {
				continue
			}
			buf := encodeInt(nil, v, prefix, 0)
			got, consumed, err := decodeInt(buf, prefix)
			require.NoError(t, err, "prefix=%d value=%d", prefix, v)
			assert.Equal(t, v, got, "prefix=%d value=%d", prefix, v)
			assert.Equal(t, len(buf), consumed, "prefix=%d value=%d", prefix, v)
		}
	}
}

func TestDecodeIntNeedsMore(t *testing.T) {
	_, _, err := decodeInt(nil, 7)
	assert.Error(t, err)

	// prefix fits exactly at the mask boundary, so a continuation byte is
	// required but absent.
	_, _, err = decodeInt([]byte{0x7f}, 7)
	assert.Error(t, err)
}

func TestDecodeIntOverflow(t *testing.T) {
	// The prefix is saturated and all four continuation bytes carry the
	// continuation flag, so the integer never terminates within five octets.
	_, _, err := decodeInt([]byte{0x7f, 0xff, 0xff, 0xff, 0xff}, 7)
	assert.Error(t, err)
}
