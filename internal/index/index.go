// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package index manages the hashdb index file: a header holding the
// free list pointer and a static hash table of chain heads, followed by
// variable-length index records threaded into per-bucket chains.
//
//	[0, PtrSize)                     free list pointer (reserved, always 0)
//	[PtrSize, (nhash+1)*PtrSize)     nhash chain head pointers
//	(nhash+1)*PtrSize                newline
//	HeaderEnd(nhash) ...             index records
package index

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bpowers/hashdb/internal/flock"
	"github.com/bpowers/hashdb/internal/ondisk"
	"github.com/bpowers/hashdb/internal/record"
)

const (
	FreeListOffset  = 0
	HashTableOffset = record.PtrSize

	// MaxTableSize is the largest table whose header still leaves room
	// for index records below record.PtrMax.
	MaxTableSize = (record.PtrMax-1)/record.PtrSize - 2
)

// HeaderEnd returns the offset of the first index record for a table of
// nhash buckets.
func HeaderEnd(nhash int) int64 {
	return int64(nhash+1)*record.PtrSize + 1
}

// Entry is an index record along with where it lives in the file.
type Entry struct {
	record.IndexRecord
	Offset record.IndexOffset
	Size   int64 // header plus payload
}

type File struct {
	f         *os.File
	nhash     int
	headerEnd int64
	chains    *ondisk.PointerTable
}

func New(f *os.File, nhash int) *File {
	return &File{
		f:         f,
		nhash:     nhash,
		headerEnd: HeaderEnd(nhash),
		chains:    ondisk.NewPointerTable(f, nhash, HashTableOffset),
	}
}

func (x *File) Name() string {
	return x.f.Name()
}

func (x *File) TableSize() int {
	return x.chains.Len()
}

func (x *File) HeaderEnd() int64 {
	return x.headerEnd
}

// ChainOffset returns the offset of the chain head pointer for bucket.
func (x *File) ChainOffset(bucket int) (int64, error) {
	return x.chains.Offset(bucket)
}

// ChainHead reads the chain head pointer for bucket.  The caller must hold
// the chain lock.
func (x *File) ChainHead(bucket int) (record.IndexOffset, error) {
	return x.chains.Get(bucket)
}

func unlockWith(f *os.File, off, length int64, err *error) {
	if uerr := flock.Unlock(f, off, length); uerr != nil && *err == nil {
		*err = uerr
	}
}

// Init writes an empty header if the file is empty, reporting whether it
// did.  The header region is write locked while the size is tested, so of
// several racing initializers only the first writes anything.
func (x *File) Init() (initialized bool, err error) {
	if err := flock.WriteLockW(x.f, 0, x.headerEnd); err != nil {
		return false, err
	}
	defer unlockWith(x.f, 0, x.headerEnd, &err)

	st, err := x.f.Stat()
	if err != nil {
		return false, fmt.Errorf("f.Stat: %w", err)
	}
	if st.Size() != 0 {
		return false, nil
	}

	header := ondisk.Encode(x.nhash + 1)
	header = append(header, record.Newline)
	n, err := x.f.WriteAt(header, 0)
	if err != nil {
		return false, fmt.Errorf("f.WriteAt(0): %w", err)
	} else if n != len(header) {
		return false, fmt.Errorf("f.WriteAt(0): short write of %d (wanted %d)", n, len(header))
	}
	return true, nil
}

// Verify checks that the header is well formed for this table size.  A
// store opened with a table size other than the one it was created with
// fails here, because its newline isn't where the header should end.
func (x *File) Verify() (err error) {
	if err := flock.ReadLockW(x.f, 0, x.headerEnd); err != nil {
		return err
	}
	defer unlockWith(x.f, 0, x.headerEnd, &err)

	header := make([]byte, x.headerEnd)
	n, err := x.f.ReadAt(header, 0)
	if n == len(header) {
		err = nil
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: index header is %d bytes, want %d for %d buckets", record.ErrFormat, n, len(header), x.nhash)
	} else if err != nil {
		return fmt.Errorf("f.ReadAt(0): %w", err)
	}

	if header[len(header)-1] != record.Newline {
		return fmt.Errorf("%w: index header for %d buckets doesn't end in a newline", record.ErrFormat, x.nhash)
	}
	for i := 0; i <= x.nhash; i++ {
		ptr, err := record.DecodePointer(header[i*record.PtrSize : (i+1)*record.PtrSize])
		if err != nil {
			return fmt.Errorf("header slot %d: %w", i, err)
		}
		if ptr != 0 && int64(ptr) < x.headerEnd {
			return fmt.Errorf("%w: header slot %d points into the header (%d)", record.ErrFormat, i, ptr)
		}
	}
	return nil
}

// LockChain locks the first byte of a chain head pointer, shared or exclusive.
func (x *File) LockChain(chainOff int64, exclusive bool) error {
	if exclusive {
		return flock.WriteLockW(x.f, chainOff, 1)
	}
	return flock.ReadLockW(x.f, chainOff, 1)
}

func (x *File) UnlockChain(chainOff int64) error {
	return flock.Unlock(x.f, chainOff, 1)
}

// ReadLockRecords takes a shared lock on the record area, excluding appenders.
func (x *File) ReadLockRecords() error {
	return flock.ReadLockW(x.f, x.headerEnd, 0)
}

func (x *File) UnlockRecords() error {
	return flock.Unlock(x.f, x.headerEnd, 0)
}

// ReadPointer reads a pointer field: a chain head or the first field of a
// record.
func (x *File) ReadPointer(off int64) (record.IndexOffset, error) {
	return ondisk.ReadPointer(x.f, off)
}

// WritePointer overwrites a pointer field.
func (x *File) WritePointer(off int64, ptr record.IndexOffset) error {
	if ptr != 0 && int64(ptr) < x.headerEnd {
		return fmt.Errorf("%w: pointer %d into the header", record.ErrFormat, ptr)
	}
	return ondisk.WritePointer(x.f, off, ptr)
}

func (x *File) readFull(buf []byte, off int64) error {
	n, err := x.f.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: short read of %d at index offset %d (wanted %d)", record.ErrFormat, n, off, len(buf))
	} else if err != nil {
		return fmt.Errorf("f.ReadAt(%d, len: %d): %w", off, len(buf), err)
	}
	return fmt.Errorf("f.ReadAt(%d, len: %d): short read of %d", off, len(buf), n)
}

func (x *File) checkRecordOffset(off record.IndexOffset) error {
	if int64(off) < x.headerEnd || off > record.PtrMax {
		return fmt.Errorf("%w: record offset %d outside [%d, %d]", record.ErrFormat, off, x.headerEnd, record.PtrMax)
	}
	return nil
}

// ReadRecord reads and decodes the index record at off.
func (x *File) ReadRecord(off record.IndexOffset) (Entry, error) {
	if err := x.checkRecordOffset(off); err != nil {
		return Entry{}, err
	}
	var header [record.HeaderSize]byte
	if err := x.readFull(header[:], int64(off)); err != nil {
		return Entry{}, err
	}
	next, payloadLen, err := record.DecodeIndexHeader(header[:])
	if err != nil {
		return Entry{}, fmt.Errorf("record at %d: %w", off, err)
	}
	payload := make([]byte, payloadLen)
	if err := x.readFull(payload, int64(off)+record.HeaderSize); err != nil {
		return Entry{}, err
	}
	key, dataOff, dataLen, err := record.DecodePayload(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("record at %d: %w", off, err)
	}
	return Entry{
		IndexRecord: record.IndexRecord{
			Key:        key,
			DataOffset: dataOff,
			DataLen:    dataLen,
			Next:       next,
		},
		Offset: off,
		Size:   record.HeaderSize + int64(payloadLen),
	}, nil
}

// ReadKey reads only the key and total size of the record at off.  It
// skips the chain pointer, which a concurrent delete may be rewriting.
func (x *File) ReadKey(off record.IndexOffset) (key string, size int64, err error) {
	if err := x.checkRecordOffset(off); err != nil {
		return "", 0, err
	}
	var lenField [record.IdxLenSize]byte
	if err := x.readFull(lenField[:], int64(off)+record.PtrSize); err != nil {
		return "", 0, err
	}
	payloadLen, err := record.DecodeIndexLen(lenField[:])
	if err != nil {
		return "", 0, fmt.Errorf("record at %d: %w", off, err)
	}
	payload := make([]byte, payloadLen)
	if err := x.readFull(payload, int64(off)+record.HeaderSize); err != nil {
		return "", 0, err
	}
	key, _, _, err = record.DecodePayload(payload)
	if err != nil {
		return "", 0, fmt.Errorf("record at %d: %w", off, err)
	}
	return key, record.HeaderSize + int64(payloadLen), nil
}

// Append writes rec at the end of the file and returns its offset.  The
// record area is write locked for the duration so concurrent appenders
// from unrelated chains can't both claim the same end of file.
func (x *File) Append(rec record.IndexRecord) (off record.IndexOffset, err error) {
	buf, err := record.EncodeIndexRecord(rec)
	if err != nil {
		return 0, err
	}

	if err := flock.WriteLockW(x.f, x.headerEnd, 0); err != nil {
		return 0, err
	}
	defer unlockWith(x.f, x.headerEnd, 0, &err)

	end, err := x.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("f.Seek: %w", err)
	}
	if end < x.headerEnd {
		return 0, fmt.Errorf("%w: index file of %d bytes is shorter than its header", record.ErrFormat, end)
	}
	if end > record.PtrMax {
		return 0, fmt.Errorf("%w: index file is full (%d bytes, pointers max out at %d)", record.ErrFormat, end, record.PtrMax)
	}
	n, err := x.f.WriteAt(buf, end)
	if err != nil {
		return 0, fmt.Errorf("f.WriteAt(%d): %w", end, err)
	} else if n != len(buf) {
		return 0, fmt.Errorf("f.WriteAt(%d): short write of %d (wanted %d)", end, n, len(buf))
	}
	return record.IndexOffset(end), nil
}

// Size returns the current length of the index file.
func (x *File) Size() (int64, error) {
	st, err := x.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("f.Stat: %w", err)
	}
	return st.Size(), nil
}

func (x *File) Sync() error {
	return x.f.Sync()
}

func (x *File) Close() error {
	return x.f.Close()
}
