package huffman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		[]byte(""),
		[]byte("/"),
		[]byte("/helloworld.Greeter/SayHello"),
		[]byte("www.example.com"),
		[]byte("no-cache"),
		[]byte("custom-key"),
		[]byte("custom-value"),
		{0x00, 0x01, 0x02, 0xff, 0xfe},
	}

	for _, c := range cases {
		enc := Encode(c, nil)
		dec, err := Decode(enc, nil)
		require.NoError(t, err)
		assert.Equal(t, c, dec)
	}
}

func TestEncodedLenMatchesEncode(t *testing.T) {
	inputs := []string{"", "a", "/helloworld.Greeter/SayHello", "gRPC is neat"}
	for _, s := range inputs {
		enc := Encode([]byte(s), nil)
		assert.Equal(t, len(enc), EncodedLen([]byte(s)))
	}
}

func TestDecodeRejectsInvalidPadding(t *testing.T) {
	// A single zero byte is the 5-bit code for '0' repeated - not a valid
	// EOS-prefix padding and not a complete symbol either way; exercise
	// the trailing-bits rejection using raw all-zero padding longer than
	// any valid prefix.
	_, err := Decode([]byte{0x00}, nil)
	assert.Error(t, err)
}

func TestDecodeRejectsTooMuchPadding(t *testing.T) {
	// A full byte of all-ones with no preceding symbol is more padding
	// bits than HPACK allows (max 7 bits of EOS padding).
	_, err := Decode([]byte{0xff}, nil)
	assert.Error(t, err)
}

func TestDecodeAcceptsShortEOSPadding(t *testing.T) {
	// Symbol '0' is the 5-bit code 0x0. Encode that single short symbol
	// then check the 3 trailing padding bits are accepted as a valid EOS
	// prefix.
	enc := Encode([]byte("0"), nil)
	dec, err := Decode(enc, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("0"), dec)
}
