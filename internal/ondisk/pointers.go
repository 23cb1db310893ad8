// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package ondisk reads and writes fixed-width pointer fields in place.
package ondisk

import (
	"errors"
	"fmt"
	"io"

	"github.com/bpowers/hashdb/internal/record"
)

// File is usually an *os.File, but specified as an interface for easier testing.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// ReadPointer reads the pointer field stored at off.
func ReadPointer(r io.ReaderAt, off int64) (record.IndexOffset, error) {
	var buf [record.PtrSize]byte
	n, err := r.ReadAt(buf[:], off)
	if n == len(buf) {
		// ReaderAt may return io.EOF alongside a full read at the end of a file
		err = nil
	}
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: short read of %d at pointer offset %d", record.ErrFormat, n, off)
	} else if err != nil {
		return 0, fmt.Errorf("ReadAt(%d): %w", off, err)
	}
	return record.DecodePointer(buf[:])
}

// WritePointer overwrites the pointer field at off with ptr.
func WritePointer(w io.WriterAt, off int64, ptr record.IndexOffset) error {
	var buf [record.PtrSize]byte
	b, err := record.AppendPointer(buf[:0], ptr)
	if err != nil {
		return err
	}
	n, err := w.WriteAt(b, off)
	if err != nil {
		return fmt.Errorf("WriteAt(%d): %w", off, err)
	} else if n != len(b) {
		return fmt.Errorf("WriteAt(%d): short write of %d (wanted %d)", off, n, len(b))
	}
	return nil
}

// PointerTable is an on-disk array of pointer fields, such as the chain
// heads of a hash table.
type PointerTable struct {
	f   File
	len int   // length in number of elements
	off int64 // offset in bytes of the start of this table
}

func NewPointerTable(f File, len int, off int64) *PointerTable {
	return &PointerTable{
		f:   f,
		len: len,
		off: off,
	}
}

func (t *PointerTable) Len() int {
	return t.len
}

// Offset returns the file offset of element i.
func (t *PointerTable) Offset(i int) (int64, error) {
	if i < 0 || i >= t.len {
		return 0, fmt.Errorf("offset (%d) out of range (len %d)", i, t.len)
	}
	return t.off + int64(record.PtrSize*i), nil
}

func (t *PointerTable) Get(i int) (record.IndexOffset, error) {
	off, err := t.Offset(i)
	if err != nil {
		return 0, err
	}
	return ReadPointer(t.f, off)
}

// Encode returns the bytes of a table of n zero pointers.
func Encode(n int) []byte {
	buf := make([]byte, 0, n*record.PtrSize)
	for i := 0; i < n; i++ {
		// 0 is always in range
		buf, _ = record.AppendPointer(buf, 0)
	}
	return buf
}
