// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"fmt"

	"github.com/bpowers/hashdb/internal/chainhash"
	"github.com/bpowers/hashdb/internal/index"
	"github.com/bpowers/hashdb/internal/record"
)

// StoreMode selects what Store does when the key is or isn't present.
type StoreMode int

const (
	// Insert adds a new key, failing with ErrAlreadyExists if present.
	Insert StoreMode = iota + 1
	// Replace changes the value of an existing key, failing with
	// ErrNotFound if absent.
	Replace
	// Upsert inserts or replaces.
	Upsert
)

func (m StoreMode) String() string {
	switch m {
	case Insert:
		return "insert"
	case Replace:
		return "replace"
	case Upsert:
		return "upsert"
	default:
		return fmt.Sprintf("StoreMode(%d)", int(m))
	}
}

// MaxKeyLen leaves room in an index payload for two separators, the
// widest data offset and length, and the newline.
const MaxKeyLen = record.IdxLenMax - (1 + 19 + 1 + 4 + 1)

// maxChainLen bounds a chain walk: no chain can hold more records than
// fit in the largest possible index file, so a longer walk means a cycle.
const maxChainLen = record.PtrMax/(record.HeaderSize+record.IdxLenMin) + 1

// chainCursor is the state of one walk down a hash chain.  It lives for a
// single operation, so concurrent operations never share it.
type chainCursor struct {
	bucket     int
	chainOff   int64              // offset of the bucket's chain head pointer
	head       record.IndexOffset // chain head when the walk started
	prevPtrOff int64              // offset of the pointer that references match
	match      index.Entry
}

func (db *DB) cursorFor(key string) (*chainCursor, error) {
	bucket := chainhash.Sum(key, db.nhash)
	chainOff, err := db.idx.ChainOffset(bucket)
	if err != nil {
		return nil, err
	}
	return &chainCursor{bucket: bucket, chainOff: chainOff}, nil
}

// withChain runs fn while holding the lock on the chain head byte.
func (db *DB) withChain(c *chainCursor, exclusive bool, fn func() error) (err error) {
	if err := db.idx.LockChain(c.chainOff, exclusive); err != nil {
		return err
	}
	defer func() {
		if uerr := db.idx.UnlockChain(c.chainOff); uerr != nil && err == nil {
			err = uerr
		}
	}()
	return fn()
}

// find walks c's chain looking for key.  The chain lock must be held.
func (db *DB) find(c *chainCursor, key string) (bool, error) {
	ptr, err := db.idx.ChainHead(c.bucket)
	if err != nil {
		return false, err
	}
	c.head = ptr
	c.prevPtrOff = c.chainOff
	for steps := 0; ptr != 0; steps++ {
		if steps >= maxChainLen {
			return false, fmt.Errorf("%w: chain for bucket %d doesn't terminate", ErrFormat, c.bucket)
		}
		e, err := db.idx.ReadRecord(ptr)
		if err != nil {
			return false, err
		}
		if e.Key == key {
			c.match = e
			return true, nil
		}
		// the next pointer is the first field of the record
		c.prevPtrOff = int64(ptr)
		ptr = e.Next
	}
	return false, nil
}

func validKey(key string) error {
	if !record.ValidKey(key) {
		return fmt.Errorf("%w: key %q is empty or contains ':' or newline", ErrInvalidArgument, key)
	}
	if len(key) > MaxKeyLen {
		return fmt.Errorf("%w: key of %d bytes is longer than %d", ErrInvalidArgument, len(key), MaxKeyLen)
	}
	return nil
}

func validValue(value []byte) error {
	if n := len(value) + 1; n < record.DatLenMin || n > record.DatLenMax {
		return fmt.Errorf("%w: value length %d outside [%d, %d]", ErrInvalidArgument, len(value), record.DatLenMin-1, record.DatLenMax-1)
	}
	return nil
}

func (db *DB) checkOpen(write bool) error {
	if db.closed {
		return ErrClosed
	}
	if write && !db.write {
		return fmt.Errorf("%w: %s opened read-only", ErrInvalidArgument, db.path)
	}
	return nil
}

// Store writes value under key.  Arguments are validated before any I/O:
// keys must be non-empty and free of ':' and newlines, and values must be
// 1 to record.DatLenMax-1 bytes long.
func (db *DB) Store(key string, value []byte, mode StoreMode) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	op := fmt.Sprintf("Store(%q, %s)", key, mode)
	if mode < Insert || mode > Upsert {
		return classify(db.logger, op, fmt.Errorf("%w: unsupported store mode", ErrInvalidArgument))
	}
	if err := db.checkOpen(true); err != nil {
		return classify(db.logger, op, err)
	}
	if err := validKey(key); err != nil {
		return classify(db.logger, op, err)
	}
	if err := validValue(value); err != nil {
		return classify(db.logger, op, err)
	}

	c, err := db.cursorFor(key)
	if err != nil {
		return classify(db.logger, op, err)
	}
	err = db.withChain(c, true, func() error {
		found, err := db.find(c, key)
		if err != nil {
			return err
		}
		switch {
		case found && mode == Insert:
			return ErrAlreadyExists
		case !found && mode == Replace:
			return ErrNotFound
		case found:
			return db.relink(c, key, value)
		default:
			return db.link(c, key, value)
		}
	})
	return classify(db.logger, op, err)
}

// appendRecord writes the data record and then the index record for key,
// returning the new index record's offset.  Nothing references either yet.
func (db *DB) appendRecord(key string, value []byte, next record.IndexOffset) (record.IndexOffset, error) {
	dataOff, dataLen, err := db.dat.Append(value)
	if err != nil {
		return 0, err
	}
	if db.sync {
		if err := db.dat.Sync(); err != nil {
			return 0, fmt.Errorf("sync %s: %w", db.dat.Name(), err)
		}
	}
	off, err := db.idx.Append(record.IndexRecord{
		Key:        key,
		DataOffset: dataOff,
		DataLen:    dataLen,
		Next:       next,
	})
	if err != nil {
		return 0, err
	}
	if db.sync {
		if err := db.idx.Sync(); err != nil {
			return 0, fmt.Errorf("sync %s: %w", db.idx.Name(), err)
		}
	}
	return off, nil
}

// publish points the pointer field at ptrOff to target.  This single
// write is what makes a change visible.
func (db *DB) publish(ptrOff int64, target record.IndexOffset) error {
	if err := db.idx.WritePointer(ptrOff, target); err != nil {
		return err
	}
	if db.sync {
		if err := db.idx.Sync(); err != nil {
			return fmt.Errorf("sync %s: %w", db.idx.Name(), err)
		}
	}
	return nil
}

// link inserts a new record at the head of c's chain.
func (db *DB) link(c *chainCursor, key string, value []byte) error {
	off, err := db.appendRecord(key, value, c.head)
	if err != nil {
		return err
	}
	return db.publish(c.chainOff, off)
}

// relink replaces c.match with a new record in the same chain position.
// Repointing its predecessor both links the new record and unlinks the
// old one.
func (db *DB) relink(c *chainCursor, key string, value []byte) error {
	off, err := db.appendRecord(key, value, c.match.Next)
	if err != nil {
		return err
	}
	return db.publish(c.prevPtrOff, off)
}

// Fetch returns the value stored under key, or ErrNotFound.
func (db *DB) Fetch(key string) ([]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	op := fmt.Sprintf("Fetch(%q)", key)
	if err := db.checkOpen(false); err != nil {
		return nil, classify(db.logger, op, err)
	}
	if err := validKey(key); err != nil {
		return nil, classify(db.logger, op, err)
	}

	c, err := db.cursorFor(key)
	if err != nil {
		return nil, classify(db.logger, op, err)
	}
	var value []byte
	err = db.withChain(c, false, func() error {
		found, err := db.find(c, key)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		value, err = db.dat.Read(c.match.DataOffset, c.match.DataLen)
		return err
	})
	if err != nil {
		return nil, classify(db.logger, op, err)
	}
	return value, nil
}

// Delete unlinks key from its chain.  The record's bytes stay in both
// files as dead space until the store is compacted.
func (db *DB) Delete(key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	op := fmt.Sprintf("Delete(%q)", key)
	if err := db.checkOpen(true); err != nil {
		return classify(db.logger, op, err)
	}
	if err := validKey(key); err != nil {
		return classify(db.logger, op, err)
	}

	c, err := db.cursorFor(key)
	if err != nil {
		return classify(db.logger, op, err)
	}
	err = db.withChain(c, true, func() error {
		found, err := db.find(c, key)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return db.publish(c.prevPtrOff, c.match.Next)
	})
	return classify(db.logger, op, err)
}
