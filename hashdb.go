// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package hashdb is a file-backed key/value store using static hashing
// with chaining.  A store is a pair of files: <path>.idx holds a fixed-size
// hash table of chain heads followed by index records, and <path>.dat
// holds the values.
//
// Stores may be shared by many processes.  Every operation takes fcntl
// byte-range locks: a single byte per hash chain, so operations on
// different buckets proceed concurrently, plus short file-wide locks while
// appending.  New records are written before the pointer that links them
// into their chain, so an interrupted writer leaves at worst unreferenced
// bytes behind, never a dangling pointer.
package hashdb

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/bpowers/hashdb/internal/datafile"
	"github.com/bpowers/hashdb/internal/index"
)

// DB is an open handle on a store.  A DB may be used from multiple
// goroutines, but operations through one handle are serialized; open
// several handles for concurrency.
type DB struct {
	mu     sync.Mutex
	path   string
	idx    *index.File
	dat    *datafile.File
	nhash  int
	write  bool
	sync   bool
	cursor int64 // offset of the next index record Next reads
	closed bool
	logger *slog.Logger
}

// Open opens or creates the store at path (the files path.idx and
// path.dat).  With Create, both files are created exclusively and the
// header is initialized; with Truncate, existing files are emptied and
// re-initialized.  The table size given by WithTableSize must match the
// one the store was created with, otherwise Open fails with ErrFormat.
func Open(path string, flags Flag, opts ...Option) (*DB, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return nil, fmt.Errorf("Open(%s): %w", path, err)
	}
	oflag, err := flags.osFlags()
	if err != nil {
		return nil, fmt.Errorf("Open(%s): %w", path, err)
	}
	logger := options.logger.With("db", path)

	idxPath, datPath := path+".idx", path+".dat"
	idxFile, err := os.OpenFile(idxPath, oflag, options.perm)
	if err != nil {
		return nil, openError(logger, idxPath, err)
	}
	datFile, err := os.OpenFile(datPath, oflag, options.perm)
	if err != nil {
		_ = idxFile.Close()
		if flags&Create != 0 {
			// we created the index file exclusively above, so it is ours to remove
			_ = os.Remove(idxPath)
		}
		return nil, openError(logger, datPath, err)
	}

	db := &DB{
		path:   path,
		idx:    index.New(idxFile, options.nhash),
		dat:    datafile.New(datFile),
		nhash:  options.nhash,
		write:  flags&ReadWrite != 0,
		sync:   !options.noSync,
		logger: logger,
	}

	if flags&(Create|Truncate) != 0 {
		initialized, err := db.idx.Init()
		if err != nil {
			_ = db.closeFiles()
			return nil, classify(logger, "Open", err)
		}
		if initialized {
			logger.Debug("initialized index header", "buckets", options.nhash, "flags", flags.String())
		}
	}
	if err := db.idx.Verify(); err != nil {
		_ = db.closeFiles()
		return nil, classify(logger, "Open", err)
	}

	db.cursor = db.idx.HeaderEnd()
	logger.Debug("opened", "buckets", options.nhash, "flags", flags.String())
	return db, nil
}

func openError(logger *slog.Logger, path string, err error) error {
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("Open(%s): %w: %w", path, ErrAlreadyExists, err)
	}
	return classify(logger, "Open", err)
}

// Path returns the path the store was opened with, without extension.
func (db *DB) Path() string {
	return db.path
}

// TableSize returns the number of hash buckets.
func (db *DB) TableSize() int {
	return db.idx.TableSize()
}

// Rewind moves the scan cursor used by Next back to the first index record.
func (db *DB) Rewind() {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.cursor = db.idx.HeaderEnd()
}

func (db *DB) closeFiles() error {
	return errors.Join(db.idx.Close(), db.dat.Close())
}

// Close releases both files.  Closing a closed handle returns ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return fmt.Errorf("Close: %w", ErrClosed)
	}
	db.closed = true
	return classify(db.logger, "Close", db.closeFiles())
}
