// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"fmt"

	"github.com/dgryski/go-farm"

	"github.com/bpowers/hashdb/internal/bitset"
	"github.com/bpowers/hashdb/internal/chainhash"
	"github.com/bpowers/hashdb/internal/index"
	"github.com/bpowers/hashdb/internal/record"
)

// Stats summarizes a store as seen by Check.
type Stats struct {
	Buckets      int
	EmptyBuckets int
	LiveRecords  int
	LongestChain int
	IndexBytes   int64
	DataBytes    int64
	// Digest is an order-independent fingerprint of the live key/value
	// pairs: two stores with the same contents have the same Digest,
	// whatever their table size or file layout.
	Digest uint64
}

func recordDigest(key string, value []byte) uint64 {
	buf := make([]byte, 0, len(key)+1+len(value))
	buf = append(buf, key...)
	buf = append(buf, record.Sep)
	buf = append(buf, value...)
	return farm.Fingerprint64(buf)
}

// walkBucket calls fn, head first, for each record in a bucket's chain
// while holding a shared lock on it.  It fails with ErrFormat if the chain
// revisits an offset recorded in visited, holds a key that hashes
// elsewhere, or holds a key twice.
func (db *DB) walkBucket(bucket int, visited *bitset.Bitset, fn func(e index.Entry, value []byte) error) error {
	chainOff, err := db.idx.ChainOffset(bucket)
	if err != nil {
		return err
	}
	c := &chainCursor{bucket: bucket, chainOff: chainOff}
	return db.withChain(c, false, func() error {
		ptr, err := db.idx.ChainHead(bucket)
		if err != nil {
			return err
		}
		keys := make(map[string]struct{})
		for ptr != 0 {
			if visited.TestAndSet(int64(ptr)) {
				return fmt.Errorf("%w: bucket %d reaches record %d a second time", ErrFormat, bucket, ptr)
			}
			e, err := db.idx.ReadRecord(ptr)
			if err != nil {
				return err
			}
			if b := chainhash.Sum(e.Key, db.nhash); b != bucket {
				return fmt.Errorf("%w: key %q at %d is chained from bucket %d but hashes to %d", ErrFormat, e.Key, ptr, bucket, b)
			}
			if _, dup := keys[e.Key]; dup {
				return fmt.Errorf("%w: key %q appears twice in bucket %d", ErrFormat, e.Key, bucket)
			}
			keys[e.Key] = struct{}{}
			value, err := db.dat.Read(e.DataOffset, e.DataLen)
			if err != nil {
				return fmt.Errorf("value of %q: %w", e.Key, err)
			}
			if err := fn(e, value); err != nil {
				return err
			}
			ptr = e.Next
		}
		return nil
	})
}

// Check walks every chain, verifying that the store is well formed, and
// returns a summary of its contents.  Each chain is checked under its own
// shared lock, so writers to other buckets are never blocked.
func (db *DB) Check() (Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.checkOpen(false); err != nil {
		return Stats{}, classify(db.logger, "Check", err)
	}

	stats := Stats{Buckets: db.nhash}
	visited := bitset.New(record.PtrMax + 1)
	for b := 0; b < db.nhash; b++ {
		n := 0
		err := db.walkBucket(b, visited, func(e index.Entry, value []byte) error {
			n++
			stats.Digest ^= recordDigest(e.Key, value)
			return nil
		})
		if err != nil {
			return Stats{}, classify(db.logger, "Check", err)
		}
		if n == 0 {
			stats.EmptyBuckets++
		}
		if n > stats.LongestChain {
			stats.LongestChain = n
		}
		stats.LiveRecords += n
	}

	var err error
	if stats.IndexBytes, err = db.idx.Size(); err != nil {
		return Stats{}, classify(db.logger, "Check", err)
	}
	if stats.DataBytes, err = db.dat.Size(); err != nil {
		return Stats{}, classify(db.logger, "Check", err)
	}
	return stats, nil
}
