// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"io"

	"github.com/bpowers/hashdb/internal/record"
)

// Next returns the next live record in file order, starting from the
// position set by Rewind, or io.EOF once every record has been read.
// Records that were deleted or replaced are skipped.  Records inserted
// during a scan may or may not be returned.
func (db *DB) Next() (key string, value []byte, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen(false); err != nil {
		return "", nil, classify(db.logger, "Next", err)
	}

	for {
		off := db.cursor
		key, size, err := db.readKeyAt(off)
		if err == io.EOF {
			return "", nil, io.EOF
		} else if err != nil {
			return "", nil, classify(db.logger, "Next", err)
		}
		db.cursor += size

		value, live, err := db.fetchIfLive(key, record.IndexOffset(off))
		if err != nil {
			return "", nil, classify(db.logger, "Next", err)
		}
		if live {
			return key, value, nil
		}
	}
}

// readKeyAt reads the key of the record at off while holding a shared lock
// on the record area, so a half-appended record is never observed.
func (db *DB) readKeyAt(off int64) (key string, size int64, err error) {
	if err := db.idx.ReadLockRecords(); err != nil {
		return "", 0, err
	}
	defer func() {
		if uerr := db.idx.UnlockRecords(); uerr != nil && err == nil {
			err = uerr
		}
	}()

	end, err := db.idx.Size()
	if err != nil {
		return "", 0, err
	}
	if off >= end {
		return "", 0, io.EOF
	}
	return db.idx.ReadKey(record.IndexOffset(off))
}

// fetchIfLive reads the value for the record at off if it is still the
// record its chain references for key.  The record area lock must not be
// held: writers take chain locks before append locks.
func (db *DB) fetchIfLive(key string, off record.IndexOffset) (value []byte, live bool, err error) {
	c, err := db.cursorFor(key)
	if err != nil {
		return nil, false, err
	}
	err = db.withChain(c, false, func() error {
		found, err := db.find(c, key)
		if err != nil || !found || c.match.Offset != off {
			return err
		}
		value, err = db.dat.Read(c.match.DataOffset, c.match.DataLen)
		live = err == nil
		return err
	})
	return value, live, err
}
