// Package frame implements the minimal HTTP/2 frame codec this
// framework needs: parsing HEADERS and DATA frame headers and payloads
// (stripping PADDED/PRIORITY bytes), and building the frames the server
// ever sends (HEADERS, DATA, SETTINGS, WINDOW_UPDATE). It is not a
// general HTTP/2 implementation — CONTINUATION, PUSH_PROMISE, RST_STREAM,
// PING, and GOAWAY are recognized only well enough to be ignored.
package frame

import (
	"encoding/binary"

	"github.com/pajamax-go/pajamax/connerr"
)

// Kind is an HTTP/2 frame type (RFC 7540 §11.2).
type Kind uint8

const (
	KindData         Kind = 0
	KindHeaders      Kind = 1
	KindPriority     Kind = 2
	KindResetStream  Kind = 3
	KindSettings     Kind = 4
	KindPushPromise  Kind = 5
	KindPing         Kind = 6
	KindGoAway       Kind = 7
	KindWindowUpdate Kind = 8
	KindContinuation Kind = 9
	KindUnknown      Kind = 255
)

func kindFromByte(b byte) Kind {
	if b <= 9 {
		return Kind(b)
	}
	return KindUnknown
}

// Flags is the frame header's flag bitset (RFC 7540 §6.1/§6.2).
type Flags uint8

const (
	FlagEndStream  Flags = 0x1
	FlagEndHeaders Flags = 0x4
	FlagPadded     Flags = 0x8
	FlagPriority   Flags = 0x20
)

func (f Flags) IsEndStream() bool  { return f&FlagEndStream != 0 }
func (f Flags) IsEndHeaders() bool { return f&FlagEndHeaders != 0 }
func (f Flags) IsPadded() bool     { return f&FlagPadded != 0 }
func (f Flags) IsPriority() bool   { return f&FlagPriority != 0 }

// HeadSize is the fixed 9-byte HTTP/2 frame header length.
const HeadSize = 9

// Frame is a non-owning view into the connection's input buffer, valid
// only until the next read refills that buffer.
type Frame struct {
	Len      int
	Kind     Kind
	Flags    Flags
	StreamID uint32
	Payload  []byte
}

// Parse returns the next complete frame at the start of buf, or ok=false
// if buf does not yet hold a full header+payload (the caller must read
// more and retry).
func Parse(buf []byte) (f Frame, ok bool) {
	if len(buf) < HeadSize {
		return Frame{}, false
	}

	length := int(buf[0])<<16 | int(buf[1])<<8 | int(buf[2])
	if len(buf)-HeadSize < length {
		return Frame{}, false
	}

	return Frame{
		Len:      length,
		Kind:     kindFromByte(buf[3]),
		Flags:    Flags(buf[4]),
		StreamID: binary.BigEndian.Uint32(buf[5:9]) &^ (1 << 31),
		Payload:  buf[HeadSize : HeadSize+length],
	}, true
}

// buildHead writes a 9-byte frame header into the front of dst, which
// must be at least HeadSize bytes long.
func buildHead(dst []byte, length int, kind Kind, flags Flags, streamID uint32) {
	dst[0] = byte(length >> 16)
	dst[1] = byte(length >> 8)
	dst[2] = byte(length)
	dst[3] = byte(kind)
	dst[4] = byte(flags)
	binary.BigEndian.PutUint32(dst[5:9], streamID)
}

// BuildHead appends a 9-byte frame header to dst and returns the result.
func BuildHead(dst []byte, length int, kind Kind, flags Flags, streamID uint32) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, HeadSize)...)
	buildHead(dst[start:], length, kind, flags, streamID)
	return dst
}

// PatchHead rewrites the HeadSize-byte frame header located at dst[start:]
// once the payload length is known, used by builders that reserve the
// header bytes before encoding a variable-length payload after them.
func PatchHead(dst []byte, start int, kind Kind, flags Flags, streamID uint32) {
	length := len(dst) - start - HeadSize
	buildHead(dst[start:start+HeadSize], length, kind, flags, streamID)
}

// ProcessHeaders validates and strips PADDED/PRIORITY bytes from a
// HEADERS frame's payload, per the framework's restrictions: the frame
// must carry END_HEADERS (CONTINUATION is unsupported) and must not
// carry END_STREAM (unary RPCs always have a DATA frame).
func (f Frame) ProcessHeaders() ([]byte, error) {
	if !f.Flags.IsEndHeaders() {
		return nil, connerr.InvalidHTTP2("multiple HEADERS frames")
	}
	if f.Flags.IsEndStream() {
		return nil, connerr.InvalidHTTP2("HEADERS frame with no DATA")
	}

	headers, err := f.skipPadded(f.Payload)
	if err != nil {
		return nil, err
	}
	return f.skipPriority(headers)
}

// ProcessData strips PADDED bytes from a DATA frame's payload.
func (f Frame) ProcessData() ([]byte, error) {
	return f.skipPadded(f.Payload)
}

func (f Frame) skipPadded(buf []byte) ([]byte, error) {
	if !f.Flags.IsPadded() {
		return buf, nil
	}
	if len(buf) < 1 {
		return nil, connerr.InvalidHTTP2("invalid padded")
	}
	padLen := int(buf[0])
	if len(buf) <= 1+padLen {
		return nil, connerr.InvalidHTTP2("invalid padded")
	}
	return buf[1 : len(buf)-padLen], nil
}

func (f Frame) skipPriority(buf []byte) ([]byte, error) {
	if !f.Flags.IsPriority() {
		return buf, nil
	}
	if len(buf) < 5 {
		return nil, connerr.InvalidHTTP2("invalid priority")
	}
	return buf[5:], nil
}

// Preface is the 24-byte HTTP/2 client connection preface a client must
// send before any frames.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// BuildSettings appends a single SETTINGS frame carrying one
// identifier/value entry.
func BuildSettings(dst []byte, ident uint16, value uint32) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, HeadSize+6)...)
	buildHead(dst[start:], 6, KindSettings, 0, 0)
	binary.BigEndian.PutUint16(dst[start+HeadSize:], ident)
	binary.BigEndian.PutUint32(dst[start+HeadSize+2:], value)
	return dst
}

// BuildWindowUpdate appends a WINDOW_UPDATE frame on stream 0 granting
// increment additional connection-level flow-control credit.
func BuildWindowUpdate(dst []byte, increment uint32) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, HeadSize+4)...)
	buildHead(dst[start:], 4, KindWindowUpdate, 0, 0)
	binary.BigEndian.PutUint32(dst[start+HeadSize:], increment)
	return dst
}

// SettingsMaxConcurrentStreams and SettingsMaxFrameSize are the SETTINGS
// identifiers this framework advertises at handshake (RFC 7540 §6.5.2).
const (
	SettingsMaxConcurrentStreams uint16 = 3
	SettingsMaxFrameSize         uint16 = 5
)
