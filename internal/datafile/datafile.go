// Copyright 2023 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package datafile appends and reads the value records of a hashdb store.
//
// A data file is a plain concatenation of records, each the value bytes
// followed by a newline.  Records are not self-describing: their offset
// and length live only in the index record that references them.
package datafile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bpowers/hashdb/internal/flock"
	"github.com/bpowers/hashdb/internal/record"
)

type File struct {
	f *os.File
}

func New(f *os.File) *File {
	return &File{f: f}
}

func (d *File) Name() string {
	return d.f.Name()
}

// Append writes a record for value at the end of the file, returning its
// offset and length (including the newline).  The whole file is write
// locked for the duration, since finding the end is itself a race with
// other appenders.
func (d *File) Append(value []byte) (off record.DataOffset, n int, err error) {
	buf, err := record.EncodeDataRecord(value)
	if err != nil {
		return 0, 0, err
	}

	if err := flock.WriteLockW(d.f, 0, 0); err != nil {
		return 0, 0, err
	}
	defer func() {
		if uerr := flock.Unlock(d.f, 0, 0); uerr != nil && err == nil {
			err = uerr
		}
	}()

	end, err := d.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("f.Seek: %w", err)
	}
	written, err := d.f.WriteAt(buf, end)
	if err != nil {
		return 0, 0, fmt.Errorf("f.WriteAt(%d): %w", end, err)
	} else if written != len(buf) {
		return 0, 0, fmt.Errorf("f.WriteAt(%d): short write of %d (wanted %d)", end, written, len(buf))
	}

	return record.DataOffset(end), len(buf), nil
}

// Read returns the value stored in the length-byte record at off.
func (d *File) Read(off record.DataOffset, length int) ([]byte, error) {
	if off < 0 || length < record.DatLenMin || length > record.DatLenMax {
		return nil, fmt.Errorf("%w: data record (off %d, len %d) out of bounds", record.ErrFormat, off, length)
	}
	buf := make([]byte, length)
	n, err := d.f.ReadAt(buf, int64(off))
	if n == length {
		err = nil
	}
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: short read of %d at data offset %d (wanted %d)", record.ErrFormat, n, off, length)
	} else if err != nil {
		return nil, fmt.Errorf("f.ReadAt(%d, len: %d): %w", off, length, err)
	}
	return record.DecodeDataRecord(buf)
}

func (d *File) Size() (int64, error) {
	st, err := d.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("f.Stat: %w", err)
	}
	return st.Size(), nil
}

func (d *File) Sync() error {
	return d.f.Sync()
}

func (d *File) Close() error {
	return d.f.Close()
}
