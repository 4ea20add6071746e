package hpack

import "strconv"

// statusCodeStrings precomputes the ASCII decimal encoding of gRPC codes
// 0-16 so EncodeGrpcStatusNonzero avoids formatting on the common path.
var statusCodeStrings = [...]string{
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10",
	"11", "12", "13", "14", "15", "16",
}

// Encoder emits the minimal, fixed header set a gRPC reply needs
// (:status, content-type, grpc-status, grpc-message), maintaining a tiny
// dynamic table of exactly the two headers it ever indexes:
// content-type and a successful grpc-status. Once either has been
// emitted once with indexing, later emissions reference it by a 1-byte
// dynamic-table index instead of re-encoding the literal.
type Encoder struct {
	dynamicTableSize int

	rankGrpcStatusZero *int
	rankContentType    *int
}

// NewEncoder returns an Encoder with an empty dynamic table.
func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeStatus200 emits the static-table Indexed reference for
// `:status: 200` (static index 8).
func (e *Encoder) EncodeStatus200(dst []byte) []byte {
	return e.encodeStaticIndex(dst, 8)
}

// EncodeContentType emits `content-type: application/grpc`, as a literal
// with indexing the first time and a dynamic-table index thereafter.
func (e *Encoder) EncodeContentType(dst []byte) []byte {
	if e.rankContentType != nil {
		return e.encodeDynamicIndex(dst, *e.rankContentType)
	}
	dst = e.encodeAndIndexHeader(dst, "content-type", "application/grpc")
	rank := e.dynamicTableSize
	e.rankContentType = &rank
	return dst
}

// EncodeGrpcStatusZero emits `grpc-status: 0`, as a literal with indexing
// the first time and a dynamic-table index thereafter.
func (e *Encoder) EncodeGrpcStatusZero(dst []byte) []byte {
	if e.rankGrpcStatusZero != nil {
		return e.encodeDynamicIndex(dst, *e.rankGrpcStatusZero)
	}
	dst = e.encodeAndIndexHeader(dst, "grpc-status", "0")
	rank := e.dynamicTableSize
	e.rankGrpcStatusZero = &rank
	return dst
}

// EncodeGrpcStatusNonzero emits `grpc-status: <code>` for a non-success
// code. If grpc-status:0 has already been indexed, the name is referenced
// by its dynamic index and only the value is literal; otherwise the full
// literal (unindexed name and value) is emitted.
func (e *Encoder) EncodeGrpcStatusNonzero(dst []byte, code uint32) []byte {
	var codeStr string
	if code < uint32(len(statusCodeStrings)) {
		codeStr = statusCodeStrings[code]
	} else {
		codeStr = strconv.FormatUint(uint64(code), 10)
	}

	if e.rankGrpcStatusZero != nil {
		index := e.dynamicIndex(*e.rankGrpcStatusZero)
		return encodeWithIndexedName(dst, uint64(index), codeStr)
	}
	return encodeHeader(dst, "grpc-status", codeStr)
}

// EncodeGrpcMessage always emits `grpc-message: <msg>` as an unindexed
// literal with both name and value literal.
func (e *Encoder) EncodeGrpcMessage(dst []byte, msg string) []byte {
	return encodeHeader(dst, "grpc-message", msg)
}

// encodeAndIndexHeader emits a LiteralWithIndexing field (new name and
// value, both literal) and grows the dynamic table by one entry.
func (e *Encoder) encodeAndIndexHeader(dst []byte, name, value string) []byte {
	dst = encodeInt(dst, 0, 6, 0x40)
	dst = encodeStr(dst, name)
	dst = encodeStr(dst, value)
	e.dynamicTableSize++
	return dst
}

func (e *Encoder) encodeStaticIndex(dst []byte, index uint64) []byte {
	return encodeInt(dst, index, 7, 0x80)
}

func (e *Encoder) encodeDynamicIndex(dst []byte, rank int) []byte {
	return encodeInt(dst, uint64(e.dynamicIndex(rank)), 7, 0x80)
}

// dynamicIndex translates the dynamic-table size at insertion time
// (rank) into the HPACK index valid right now: the table grows, so the
// same entry's index increases by one for each later insertion ahead of
// it; HPACK dynamic-table indices start at 62.
func (e *Encoder) dynamicIndex(rank int) int {
	return e.dynamicTableSize - rank + 62
}

func encodeHeader(dst []byte, name, value string) []byte {
	dst = append(dst, 0)
	dst = encodeStr(dst, name)
	dst = encodeStr(dst, value)
	return dst
}

func encodeWithIndexedName(dst []byte, nameIndex uint64, value string) []byte {
	dst = encodeInt(dst, nameIndex, 4, 0x00)
	return encodeStr(dst, value)
}

func encodeStr(dst []byte, s string) []byte {
	dst = encodeInt(dst, uint64(len(s)), 7, 0x00)
	return append(dst, s...)
}
