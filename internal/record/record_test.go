// Copyright 2026 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPointer_RoundTrip(t *testing.T) {
	for _, off := range []IndexOffset{0, 1, 7, 966, 1234567, PtrMax} {
		b, err := EncodePointer(off)
		require.NoError(t, err)
		require.Len(t, b, PtrSize)

		decoded, err := DecodePointer(b)
		require.NoError(t, err)
		assert.Equal(t, off, decoded)
	}

	b, err := EncodePointer(0)
	require.NoError(t, err)
	assert.Equal(t, "      0", string(b))

	b, err = EncodePointer(966)
	require.NoError(t, err)
	assert.Equal(t, "    966", string(b))
}

func TestPointer_Errors(t *testing.T) {
	_, err := EncodePointer(-1)
	assert.ErrorIs(t, err, ErrFormat)
	_, err = EncodePointer(PtrMax + 1)
	assert.ErrorIs(t, err, ErrFormat)

	for _, input := range []string{
		"",
		"      ",
		"       ",
		"   12a3",
		"  -1234",
		"  +1234",
		"12 3456",
		"12345678",
	} {
		_, err := DecodePointer([]byte(input))
		assert.ErrorIs(t, err, ErrFormat, "input %q", input)
	}
}

func TestIndexRecord_RoundTrip(t *testing.T) {
	for _, rec := range []IndexRecord{
		{Key: "apple", DataOffset: 0, DataLen: 2, Next: 0},
		{Key: "boy", DataOffset: 2, DataLen: 2, Next: 966},
		{Key: "a", DataOffset: 123456789, DataLen: DatLenMax, Next: PtrMax},
		{Key: "with space", DataOffset: 17, DataLen: 10, Next: 42},
	} {
		b, err := EncodeIndexRecord(rec)
		require.NoError(t, err)

		decoded, err := DecodeIndexRecord(b)
		require.NoError(t, err)
		assert.Equal(t, rec, decoded)
	}
}

func TestIndexRecord_Layout(t *testing.T) {
	b, err := EncodeIndexRecord(IndexRecord{Key: "boy", DataOffset: 2, DataLen: 2, Next: 966})
	require.NoError(t, err)
	assert.Equal(t, "    966   8boy:2:2\n", string(b))

	next, payloadLen, err := DecodeIndexHeader(b[:HeaderSize])
	require.NoError(t, err)
	assert.Equal(t, IndexOffset(966), next)
	assert.Equal(t, 8, payloadLen)
}

func TestIndexRecord_EncodeErrors(t *testing.T) {
	for _, rec := range []IndexRecord{
		{Key: "", DataOffset: 0, DataLen: 2},
		{Key: "a:b", DataOffset: 0, DataLen: 2},
		{Key: "a\nb", DataOffset: 0, DataLen: 2},
		{Key: "k", DataOffset: -1, DataLen: 2},
		{Key: "k", DataOffset: 0, DataLen: 1},
		{Key: "k", DataOffset: 0, DataLen: DatLenMax + 1},
		{Key: "k", DataOffset: 0, DataLen: 2, Next: -1},
		{Key: "k", DataOffset: 0, DataLen: 2, Next: PtrMax + 1},
		{Key: strings.Repeat("k", IdxLenMax), DataOffset: 0, DataLen: 2},
	} {
		_, err := EncodeIndexRecord(rec)
		assert.ErrorIs(t, err, ErrFormat, "record %+v", rec)
	}
}

func TestIndexRecord_DecodeErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"      0",
		"      0   8",
		"      x   8boy:2:2\n",
		"      0   xboy:2:2\n",
		"      0   9boy:2:2\n",
		"      0   8boy:2:2 ",
		"      0   8boy;2;2\n",
		"      0   8:boy:22\n",
		"      0   8boy:-2:2\n",
		"      0   8boy:2:-2\n",
		"      0   8boy:2:1\n",
		"      0   3a:\n",
		"      0   8boy: 2:2\n",
	} {
		_, err := DecodeIndexRecord([]byte(input))
		assert.ErrorIs(t, err, ErrFormat, "input %q", input)
	}
}

func TestDataRecord(t *testing.T) {
	b, err := EncodeDataRecord([]byte("1"))
	require.NoError(t, err)
	assert.Equal(t, "1\n", string(b))

	v, err := DecodeDataRecord(b)
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))

	// values may carry their own newlines; only the last byte is the terminator
	b, err = EncodeDataRecord([]byte("two\nlines"))
	require.NoError(t, err)
	v, err = DecodeDataRecord(b)
	require.NoError(t, err)
	assert.Equal(t, "two\nlines", string(v))

	_, err = EncodeDataRecord(nil)
	assert.ErrorIs(t, err, ErrFormat)
	_, err = EncodeDataRecord(make([]byte, DatLenMax))
	assert.ErrorIs(t, err, ErrFormat)
	_, err = EncodeDataRecord(make([]byte, DatLenMax-1))
	assert.NoError(t, err)

	_, err = DecodeDataRecord([]byte("ab"))
	assert.ErrorIs(t, err, ErrFormat)
	_, err = DecodeDataRecord([]byte("\n"))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("apple"))
	assert.True(t, ValidKey("a b"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("a:b"))
	assert.False(t, ValidKey("a\n"))
}
