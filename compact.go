// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/kjk/common/atomicfile"

	"github.com/bpowers/hashdb/internal/bitset"
	"github.com/bpowers/hashdb/internal/chainhash"
	"github.com/bpowers/hashdb/internal/index"
	"github.com/bpowers/hashdb/internal/ondisk"
	"github.com/bpowers/hashdb/internal/record"
)

type liveRecord struct {
	key   string
	value []byte
}

// compactor lays out a fresh store in memory (index) and in a temporary
// file (data), replaying inserts oldest first so every chain keeps its
// LIFO order.
type compactor struct {
	nhash   int
	heads   []record.IndexOffset
	idxBody []byte
	dat     *atomicfile.File
	datLen  int64
	records int
}

func (c *compactor) add(key string, value []byte) error {
	dataRec, err := record.EncodeDataRecord(value)
	if err != nil {
		return err
	}
	if _, err := c.dat.Write(dataRec); err != nil {
		return fmt.Errorf("dat.Write: %w", err)
	}
	dataOff := record.DataOffset(c.datLen)
	c.datLen += int64(len(dataRec))

	off := index.HeaderEnd(c.nhash) + int64(len(c.idxBody))
	if off > record.PtrMax {
		return fmt.Errorf("%w: compacted index exceeds %d bytes", ErrFormat, record.PtrMax)
	}
	bucket := chainhash.Sum(key, c.nhash)
	c.idxBody, err = record.AppendIndexRecord(c.idxBody, record.IndexRecord{
		Key:        key,
		DataOffset: dataOff,
		DataLen:    len(dataRec),
		Next:       c.heads[bucket],
	})
	if err != nil {
		return err
	}
	c.heads[bucket] = record.IndexOffset(off)
	c.records++
	return nil
}

func (c *compactor) header() []byte {
	buf := ondisk.Encode(1) // free list
	for _, head := range c.heads {
		// heads were range checked in add
		buf, _ = record.AppendPointer(buf, head)
	}
	return append(buf, record.Newline)
}

func writeAtomically(path string, chunks ...[]byte) error {
	w, err := atomicfile.New(path)
	if err != nil {
		return err
	}
	defer w.RemoveIfNotClosed()
	for _, chunk := range chunks {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return w.Close()
}

// Compact writes a new store at dstPath holding only the live records of
// db, leaving behind the dead space of deleted and replaced records.  The
// new store uses db's table size unless WithTableSize says otherwise.
// Each chain is read under its own shared lock, so records written to db
// while Compact runs may or may not be included.
func (db *DB) Compact(dstPath string, opts ...Option) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	op := fmt.Sprintf("Compact(%s)", dstPath)
	if err := db.checkOpen(false); err != nil {
		return classify(db.logger, op, err)
	}
	options := defaultOptions()
	options.nhash = db.nhash
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return classify(db.logger, op, err)
	}

	idxPath, datPath := dstPath+".idx", dstPath+".dat"
	for _, path := range []string{idxPath, datPath} {
		if _, err := os.Lstat(path); err == nil {
			return classify(db.logger, op, fmt.Errorf("%s: %w", path, ErrAlreadyExists))
		} else if !errors.Is(err, fs.ErrNotExist) {
			return classify(db.logger, op, err)
		}
	}

	if err := db.compactTo(idxPath, datPath, options); err != nil {
		return classify(db.logger, op, err)
	}
	return nil
}

func (db *DB) compactTo(idxPath, datPath string, options options) error {
	dat, err := atomicfile.New(datPath)
	if err != nil {
		return err
	}
	defer dat.RemoveIfNotClosed()

	c := &compactor{
		nhash: options.nhash,
		heads: make([]record.IndexOffset, options.nhash),
		dat:   dat,
	}
	visited := bitset.New(record.PtrMax + 1)
	var chain []liveRecord
	for b := 0; b < db.nhash; b++ {
		chain = chain[:0]
		err := db.walkBucket(b, visited, func(e index.Entry, value []byte) error {
			chain = append(chain, liveRecord{key: e.Key, value: value})
			return nil
		})
		if err != nil {
			return err
		}
		// tail first: the tail is the oldest insert
		for i := len(chain) - 1; i >= 0; i-- {
			if err := c.add(chain[i].key, chain[i].value); err != nil {
				return err
			}
		}
	}

	// the data file is complete before an index file referencing it exists
	if err := dat.Close(); err != nil {
		return fmt.Errorf("atomicfile.Close(%s): %w", datPath, err)
	}
	if err := writeAtomically(idxPath, c.header(), c.idxBody); err != nil {
		_ = os.Remove(datPath)
		return fmt.Errorf("writeAtomically(%s): %w", idxPath, err)
	}
	for _, path := range []string{datPath, idxPath} {
		if err := os.Chmod(path, options.perm); err != nil {
			return fmt.Errorf("os.Chmod(%s): %w", path, err)
		}
	}

	db.logger.Debug("compacted",
		"dst", idxPath,
		"records", c.records,
		"buckets", options.nhash,
		"index_bytes", index.HeaderEnd(options.nhash)+int64(len(c.idxBody)),
		"data_bytes", c.datLen)
	return nil
}
