// Copyright 2026 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package chainhash maps keys to hash table buckets.
//
// The mapping is part of the on-disk format: a key is only reachable if
// it hashes to the bucket whose chain it was inserted into, so Sum must
// never change for an existing database.
package chainhash

// Sum returns the bucket for key in a table of tableSize buckets: the sum
// of each byte weighted by its 1-based position, modulo tableSize.
func Sum(key string, tableSize int) int {
	if tableSize <= 0 {
		panic("chainhash: tableSize must be positive")
	}
	var h uint64
	for i := 0; i < len(key); i++ {
		h += uint64(key[i]) * uint64(i+1)
	}
	return int(h % uint64(tableSize))
}
