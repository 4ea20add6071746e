// Package hpack implements the two specialized HPACK participants this
// framework needs: a decoder that extracts only the `:path` pseudo-header
// from a HEADERS block (Decoder), and an encoder that emits the minimal,
// fixed header set for gRPC replies (Encoder). Neither implements general
// HPACK; both are restricted to the representations and headers the
// framework's wire protocol actually uses.
package hpack

import (
	"github.com/pajamax-go/pajamax/connerr"
	"github.com/pajamax-go/pajamax/huffman"
)

// representation classifies the first byte of an HPACK header field per
// RFC 7541 §6.
type representation int

const (
	repIndexed representation = iota
	repLiteralWithIndexing
	repLiteralWithoutIndexing
	repLiteralNeverIndexed
	repSizeUpdate
)

func loadRepresentation(b byte) (representation, error) {
	const (
		indexedMask            = 0b1000_0000
		literalWithIndexing    = 0b0100_0000
		literalWithoutIndexing = 0b1111_0000
		literalNeverIndexed    = 0b0001_0000
		sizeUpdateMask         = 0b1110_0000
		sizeUpdate             = 0b0010_0000
	)

	switch {
	case b&indexedMask == indexedMask:
		return repIndexed, nil
	case b&literalWithIndexing == literalWithIndexing:
		return repLiteralWithIndexing, nil
	case b&literalWithoutIndexing == 0:
		return repLiteralWithoutIndexing, nil
	case b&literalWithoutIndexing == literalNeverIndexed:
		return repLiteralNeverIndexed, nil
	case b&sizeUpdateMask == sizeUpdate:
		return repSizeUpdate, nil
	default:
		return 0, connerr.InvalidHPACK("invalid representation")
	}
}

// PathKind is the outcome of walking one HEADERS block looking for
// :path. Exactly one of Cached/Plain is meaningful, selected by IsCached.
type PathKind struct {
	IsCached   bool
	CacheIndex int
	Path       []byte
}

// Decoder walks HEADERS blocks and resolves :path to either a previously
// minted cache index or a fresh byte slice the caller must resolve. The
// decoder mints the cache index for a fresh path itself, in order, so
// the caller keeps its route cache in step by appending exactly one
// entry per non-cached result.
//
// It is allocation-free on cache hits and allocates at most one []byte
// (the decoded path) on a cache miss.
type Decoder struct {
	nextCacheIndex int
	// dynamicTable mirrors the peer's dynamic table; each slot holds the
	// cache index if that entry was observed as a :path, or -1 otherwise.
	// HPACK indexes the most-recently-inserted entry first, so lookups
	// translate from "newest first" to this slice's append order.
	dynamicTable []int

	huffmanPaths map[string]int
	plainPaths   map[string]int
}

// NewDecoder returns a Decoder with empty dynamic-table and cache state.
func NewDecoder() *Decoder {
	return &Decoder{
		huffmanPaths: make(map[string]int),
		plainPaths:   make(map[string]int),
	}
}

const noCacheIndex = -1

// FindPath walks one HEADERS block's payload and returns the resolved
// :path, if any. A block with no :path field returns connerr.NoPathSet.
func (d *Decoder) FindPath(buf []byte) (PathKind, error) {
	result := PathKind{}
	found := false
	var resultErr error = connerr.NoPathSet()

	for len(buf) > 0 {
		rep, err := loadRepresentation(buf[0])
		if err != nil {
			return PathKind{}, err
		}

		var adv int
		switch rep {
		case repIndexed:
			index, n, err := decodeInt(buf, 7)
			if err != nil {
				return PathKind{}, err
			}
			adv = n

			if index > 61 {
				tableLen := len(d.dynamicTable)
				if int(index) > 61+tableLen {
					return PathKind{}, connerr.InvalidHPACK("invalid dynamic table index")
				}
				slot := 61 + tableLen - int(index)
				if cached := d.dynamicTable[slot]; cached != noCacheIndex {
					result = PathKind{IsCached: true, CacheIndex: cached}
					found = true
					resultErr = nil
				}
			}

		case repLiteralWithIndexing:
			out, n, err := decodeLiteralPath(buf, true)
			if err != nil {
				return PathKind{}, err
			}
			adv = n

			slot := noCacheIndex
			if out != nil {
				path, err := out.resolve()
				if err != nil {
					return PathKind{}, err
				}
				result = PathKind{Path: path}
				found = true
				resultErr = nil

				slot = d.nextCacheIndex
				d.nextCacheIndex++
			}
			d.dynamicTable = append(d.dynamicTable, slot)

		case repLiteralWithoutIndexing, repLiteralNeverIndexed:
			out, n, err := decodeLiteralPath(buf, false)
			if err != nil {
				return PathKind{}, err
			}
			adv = n

			if out != nil {
				if out.huffman {
					if cached, ok := d.huffmanPaths[string(out.bytes)]; ok {
						result = PathKind{IsCached: true, CacheIndex: cached}
					} else {
						cached := d.nextCacheIndex
						d.nextCacheIndex++
						d.huffmanPaths[string(out.bytes)] = cached

						plain, err := out.resolve()
						if err != nil {
							return PathKind{}, err
						}
						result = PathKind{Path: plain}
					}
				} else {
					if cached, ok := d.plainPaths[string(out.bytes)]; ok {
						result = PathKind{IsCached: true, CacheIndex: cached}
					} else {
						cached := d.nextCacheIndex
						d.nextCacheIndex++
						d.plainPaths[string(out.bytes)] = cached
						result = PathKind{Path: append([]byte(nil), out.bytes...)}
					}
				}
				found = true
				resultErr = nil
			}

		case repSizeUpdate:
			_, n, err := decodeInt(buf, 7)
			if err != nil {
				return PathKind{}, err
			}
			adv = n
		}

		buf = buf[adv:]
	}

	if !found {
		return PathKind{}, resultErr
	}
	return result, nil
}

// outStr is a decoded string literal whose bytes may still be Huffman
// coded; resolve() performs the (lazy, at-most-once) Huffman decode.
type outStr struct {
	bytes   []byte
	huffman bool
}

func (o *outStr) resolve() ([]byte, error) {
	if !o.huffman {
		return append([]byte(nil), o.bytes...), nil
	}
	decoded, err := huffman.Decode(o.bytes, make([]byte, 0, 32))
	if err != nil {
		return nil, connerr.InvalidHuffman()
	}
	return decoded, nil
}

// eqStr reports whether this literal decodes to s, avoiding a Huffman
// decode by re-encoding s and comparing bytes when the literal itself is
// Huffman coded; correct because HPACK's Huffman code is canonical and
// deterministic.
func (o *outStr) eqStr(s string) bool {
	if !o.huffman {
		return string(o.bytes) == s
	}
	if len(o.bytes) > len(s) {
		return false
	}
	encoded := huffman.Encode([]byte(s), make([]byte, 0, len(s)))
	return string(o.bytes) == string(encoded)
}

// decodeLiteralPath parses a literal header field's name (possibly
// indexed) and value, returning the value as an *outStr iff the name
// resolved to :path. withIndexing selects the 6-bit vs. 4-bit name-index
// prefix (LiteralWithIndexing vs. the unindexed/never-indexed forms).
func decodeLiteralPath(buf []byte, withIndexing bool) (*outStr, int, error) {
	prefix := uint(4)
	if withIndexing {
		prefix = 6
	}

	tableIdx, indexAdv, err := decodeInt(buf, prefix)
	if err != nil {
		return nil, 0, err
	}
	rest := buf[indexAdv:]

	if tableIdx == 0 {
		name, nameAdv, err := decodeString(rest)
		if err != nil {
			return nil, 0, err
		}
		value, valueAdv, err := decodeString(rest[nameAdv:])
		if err != nil {
			return nil, 0, err
		}
		adv := indexAdv + nameAdv + valueAdv
		if name.eqStr(":path") {
			return value, adv, nil
		}
		return nil, adv, nil
	}

	value, valueAdv, err := decodeString(rest)
	if err != nil {
		return nil, 0, err
	}
	adv := indexAdv + valueAdv
	if tableIdx == 4 || tableIdx == 5 {
		return value, adv, nil
	}
	return nil, adv, nil
}

// decodeString decodes an HPACK string literal (RFC 7541 §5.2): a 1-bit
// Huffman flag, a 7-bit-prefixed length, and that many octets.
func decodeString(buf []byte) (*outStr, int, error) {
	if len(buf) == 0 {
		return nil, 0, connerr.InvalidHPACK("need more")
	}

	const huffFlag = 0b1000_0000
	huff := buf[0]&huffFlag == huffFlag

	length, adv, err := decodeInt(buf, 7)
	if err != nil {
		return nil, 0, err
	}
	if int(length) > len(buf)-adv {
		return nil, 0, connerr.InvalidHPACK("need more")
	}

	end := adv + int(length)
	return &outStr{bytes: buf[adv:end], huffman: huff}, end, nil
}
