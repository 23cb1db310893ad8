// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package index

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/hashdb/internal/record"
)

func openIndex(t *testing.T, path string, nhash int) *File {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	require.NoError(t, err)
	x := New(f, nhash)
	t.Cleanup(func() {
		_ = x.Close()
	})
	return x
}

func TestHeaderEnd(t *testing.T) {
	assert.Equal(t, int64(138*7+1), HeaderEnd(137))
	assert.LessOrEqual(t, HeaderEnd(MaxTableSize), int64(record.PtrMax))
}

func TestFile_Init(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.idx")
	x := openIndex(t, path, 3)

	initialized, err := x.Init()
	require.NoError(t, err)
	require.True(t, initialized)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("      0", 4)+"\n", string(contents))
	require.NoError(t, x.Verify())

	// a second Init sees a non-empty file and leaves it alone
	initialized, err = x.Init()
	require.NoError(t, err)
	require.False(t, initialized)
	contents2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, contents, contents2)
}

func TestFile_InitRace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.idx")
	const openers = 8

	var wg sync.WaitGroup
	results := make([]bool, openers)
	for i := 0; i < openers; i++ {
		x := openIndex(t, path, 137)
		wg.Add(1)
		go func(i int, x *File) {
			defer wg.Done()
			initialized, err := x.Init()
			if err != nil {
				t.Error(err)
			}
			results[i] = initialized
		}(i, x)
	}
	wg.Wait()

	n := 0
	for _, initialized := range results {
		if initialized {
			n++
		}
	}
	assert.Equal(t, 1, n)

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, HeaderEnd(137), st.Size())
}

func TestFile_VerifyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.idx")
	x := openIndex(t, path, 137)
	_, err := x.Init()
	require.NoError(t, err)

	for _, nhash := range []int{1, 136, 138, 500} {
		y := openIndex(t, path, nhash)
		assert.ErrorIs(t, y.Verify(), record.ErrFormat, "nhash %d", nhash)
	}

	empty := openIndex(t, filepath.Join(t.TempDir(), "empty.idx"), 137)
	assert.ErrorIs(t, empty.Verify(), record.ErrFormat)
}

func TestFile_AppendAndRead(t *testing.T) {
	x := openIndex(t, filepath.Join(t.TempDir(), "test.idx"), 3)
	_, err := x.Init()
	require.NoError(t, err)

	first := record.IndexRecord{Key: "apple", DataOffset: 0, DataLen: 2}
	off1, err := x.Append(first)
	require.NoError(t, err)
	assert.Equal(t, record.IndexOffset(x.HeaderEnd()), off1)

	second := record.IndexRecord{Key: "boy", DataOffset: 2, DataLen: 2, Next: off1}
	off2, err := x.Append(second)
	require.NoError(t, err)

	e, err := x.ReadRecord(off1)
	require.NoError(t, err)
	assert.Equal(t, first, e.IndexRecord)
	assert.Equal(t, off1, e.Offset)
	assert.Equal(t, int64(off2-off1), e.Size)

	e, err = x.ReadRecord(off2)
	require.NoError(t, err)
	assert.Equal(t, second, e.IndexRecord)

	key, size, err := x.ReadKey(off2)
	require.NoError(t, err)
	assert.Equal(t, "boy", key)
	assert.Equal(t, e.Size, size)

	// chain heads start out empty and can be pointed at records
	chainOff, err := x.ChainOffset(2)
	require.NoError(t, err)
	assert.Equal(t, int64(3*record.PtrSize), chainOff)
	head, err := x.ReadPointer(chainOff)
	require.NoError(t, err)
	assert.Equal(t, record.IndexOffset(0), head)
	require.NoError(t, x.WritePointer(chainOff, off2))
	head, err = x.ChainHead(2)
	require.NoError(t, err)
	assert.Equal(t, off2, head)
	require.NoError(t, x.Verify())

	assert.Equal(t, 3, x.TableSize())
	_, err = x.ChainOffset(3)
	assert.Error(t, err)
	_, err = x.ChainHead(-1)
	assert.Error(t, err)
}

func TestFile_ReadRecordErrors(t *testing.T) {
	x := openIndex(t, filepath.Join(t.TempDir(), "test.idx"), 3)
	_, err := x.Init()
	require.NoError(t, err)
	off, err := x.Append(record.IndexRecord{Key: "apple", DataOffset: 0, DataLen: 2})
	require.NoError(t, err)

	// pointers into the header are never valid
	_, err = x.ReadRecord(record.IndexOffset(HashTableOffset))
	assert.ErrorIs(t, err, record.ErrFormat)
	assert.ErrorIs(t, x.WritePointer(HashTableOffset, record.IndexOffset(HashTableOffset)), record.ErrFormat)
	// nor past the end
	_, err = x.ReadRecord(off + 1000)
	assert.ErrorIs(t, err, record.ErrFormat)
	// nor into the middle of a record
	_, err = x.ReadRecord(off + 3)
	assert.ErrorIs(t, err, record.ErrFormat)
	_, _, err = x.ReadKey(off + 3)
	assert.ErrorIs(t, err, record.ErrFormat)
}

func TestFile_AppendInvalid(t *testing.T) {
	x := openIndex(t, filepath.Join(t.TempDir(), "test.idx"), 3)
	_, err := x.Init()
	require.NoError(t, err)

	_, err = x.Append(record.IndexRecord{Key: "a:b", DataOffset: 0, DataLen: 2})
	assert.ErrorIs(t, err, record.ErrFormat)

	size, err := x.Size()
	require.NoError(t, err)
	assert.Equal(t, x.HeaderEnd(), size)
}
