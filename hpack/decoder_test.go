package hpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// literalWithIndexingPlain builds a LiteralWithIndexing field with a
// literal (non-Huffman) name and value, for use as test fixtures.
func literalWithIndexingPlain(name, value string) []byte {
	buf := encodeInt(nil, 0, 6, 0x40)
	buf = encodeStr(buf, name)
	buf = encodeStr(buf, value)
	return buf
}

func TestFindPathLiteralWithIndexingPlain(t *testing.T) {
	d := NewDecoder()
	buf := literalWithIndexingPlain(":path", "/helloworld.Greeter/SayHello")

	got, err := d.FindPath(buf)
	require.NoError(t, err)
	assert.False(t, got.IsCached)
	assert.Equal(t, []byte("/helloworld.Greeter/SayHello"), got.Path)
}

func TestFindPathNoPathField(t *testing.T) {
	d := NewDecoder()
	buf := literalWithIndexingPlain("content-type", "application/grpc")

	_, err := d.FindPath(buf)
	assert.Error(t, err)
}

func TestFindPathDynamicTableIndexedRepeat(t *testing.T) {
	d := NewDecoder()

	// First occurrence: literal, resolves to a fresh cache index.
	first, err := d.FindPath(literalWithIndexingPlain(":path", "/svc/Method"))
	require.NoError(t, err)
	require.False(t, first.IsCached)

	// Second occurrence within the same connection: peer re-sent the
	// header as an Indexed reference into its own dynamic table, entry 0
	// (the most recent insertion), which is index 62.
	indexed := encodeInt(nil, 62, 7, 0x80)
	second, err := d.FindPath(indexed)
	require.NoError(t, err)
	assert.True(t, second.IsCached)
}

func TestFindPathLiteralWithoutIndexingCachesByRawBytes(t *testing.T) {
	d := NewDecoder()

	withoutIndexing := func(name, value string) []byte {
		buf := encodeInt(nil, 0, 4, 0x00)
		buf = encodeStr(buf, name)
		buf = encodeStr(buf, value)
		return buf
	}

	first, err := d.FindPath(withoutIndexing(":path", "/svc/Method"))
	require.NoError(t, err)
	assert.False(t, first.IsCached)

	second, err := d.FindPath(withoutIndexing(":path", "/svc/Method"))
	require.NoError(t, err)
	assert.True(t, second.IsCached)
	assert.Equal(t, first.CacheIndex, 0)
}

func TestFindPathInvalidRepresentation(t *testing.T) {
	d := NewDecoder()
	// 0x20..0x3f masked is SizeUpdate per bits, already covered; use a
	// genuinely invalid leading byte is actually impossible since every
	// bit pattern classifies under this scheme, so instead assert a
	// dynamic-table index referencing a nonexistent entry fails.
	_, err := d.FindPath(encodeInt(nil, 200, 7, 0x80))
	assert.Error(t, err)
}
