// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/hashdb/internal/chainhash"
)

func openTestDB(t *testing.T, path string, opts ...Option) *DB {
	db, err := Open(path, ReadWrite, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func storeAsync(db *DB, key string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- db.Store(key, []byte("v"), Insert)
	}()
	return done
}

func TestDisjointBuckets(t *testing.T) {
	path := testPath(t)
	holder := createTestDB(t, path)
	writer := openTestDB(t, path)

	locked := "apple"
	bucket := chainhash.Sum(locked, NHashDef)
	var same, other string
	for i := 0; same == "" || other == ""; i++ {
		k := "key" + strconv.Itoa(i)
		if chainhash.Sum(k, NHashDef) == bucket {
			if same == "" {
				same = k
			}
		} else if other == "" {
			other = k
		}
	}

	c, err := holder.cursorFor(locked)
	require.NoError(t, err)
	require.NoError(t, holder.idx.LockChain(c.chainOff, true))

	select {
	case err := <-storeAsync(writer, other):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("insert into an unlocked bucket blocked")
	}

	blocked := storeAsync(writer, same)
	select {
	case err := <-blocked:
		t.Fatalf("insert into a locked bucket completed: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, holder.idx.UnlockChain(c.chainOff))
	select {
	case err := <-blocked:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("insert stayed blocked after unlock")
	}

	v, err := holder.Fetch(same)
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}

func TestChainLockReleasedOnError(t *testing.T) {
	path := testPath(t)
	db := createTestDB(t, path)
	other := openTestDB(t, path)
	require.NoError(t, db.Store("apple", []byte("1"), Insert))

	c, err := db.cursorFor("apple")
	require.NoError(t, err)
	f, err := os.OpenFile(path+".idx", os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("garbage"), c.chainOff)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = db.Fetch("apple")
	require.ErrorIs(t, err, ErrFormat)

	acquired := make(chan error, 1)
	go func() {
		acquired <- other.idx.LockChain(c.chainOff, true)
	}()
	select {
	case err := <-acquired:
		require.NoError(t, err)
		require.NoError(t, other.idx.UnlockChain(c.chainOff))
	case <-time.After(5 * time.Second):
		t.Fatal("chain lock still held after a failed Fetch")
	}
}

func TestConcurrentHandles(t *testing.T) {
	path := testPath(t)
	createTestDB(t, path, WithTableSize(13), WithoutSync())

	const (
		handles = 4
		perDB   = 50
	)
	var wg sync.WaitGroup
	errs := make(chan error, handles*perDB)
	for h := 0; h < handles; h++ {
		db := openTestDB(t, path, WithTableSize(13), WithoutSync())
		wg.Add(1)
		go func(h int, db *DB) {
			defer wg.Done()
			for i := 0; i < perDB; i++ {
				k := "h" + strconv.Itoa(h) + "-" + strconv.Itoa(i)
				errs <- db.Store(k, []byte(k), Insert)
			}
		}(h, db)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	db := openTestDB(t, path, WithTableSize(13))
	stats, err := db.Check()
	require.NoError(t, err)
	assert.Equal(t, handles*perDB, stats.LiveRecords)
	for h := 0; h < handles; h++ {
		for i := 0; i < perDB; i++ {
			k := "h" + strconv.Itoa(h) + "-" + strconv.Itoa(i)
			v, err := db.Fetch(k)
			require.NoError(t, err)
			assert.Equal(t, k, string(v))
		}
	}
}

func TestConcurrentUpsertSameKey(t *testing.T) {
	path := testPath(t)
	createTestDB(t, path, WithoutSync())

	const handles = 4
	var wg sync.WaitGroup
	for h := 0; h < handles; h++ {
		db := openTestDB(t, path, WithoutSync())
		wg.Add(1)
		go func(h int, db *DB) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, db.Store("shared", []byte(strconv.Itoa(h)), Upsert))
			}
		}(h, db)
	}
	wg.Wait()

	db := openTestDB(t, path)
	stats, err := db.Check()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveRecords)
	v, err := db.Fetch("shared")
	require.NoError(t, err)
	assert.Contains(t, []string{"0", "1", "2", "3"}, string(v))
}
