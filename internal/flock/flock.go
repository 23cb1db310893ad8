// Copyright 2026 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package flock takes advisory byte-range locks on files with fcntl(2).
//
// Every function blocks until the lock is granted.  A length of 0 locks
// from offset to the end of the file, including bytes appended later.
package flock

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ReadLockW takes a shared lock on [off, off+length), waiting if needed.
func ReadLockW(f *os.File, off, length int64) error {
	return lock(f, setLockWait, unix.F_RDLCK, off, length)
}

// WriteLockW takes an exclusive lock on [off, off+length), waiting if needed.
func WriteLockW(f *os.File, off, length int64) error {
	return lock(f, setLockWait, unix.F_WRLCK, off, length)
}

// Unlock releases any lock held on [off, off+length).
func Unlock(f *os.File, off, length int64) error {
	return lock(f, setLock, unix.F_UNLCK, off, length)
}

func lockName(lockType int16) string {
	switch lockType {
	case unix.F_RDLCK:
		return "read lock"
	case unix.F_WRLCK:
		return "write lock"
	default:
		return "unlock"
	}
}

func lock(f *os.File, cmd int, lockType int16, off, length int64) error {
	if off < 0 || length < 0 {
		return fmt.Errorf("%s %s: bad range (off %d, len %d)", lockName(lockType), f.Name(), off, length)
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return fmt.Errorf("%s %s: %w", lockName(lockType), f.Name(), err)
	}
	lk := unix.Flock_t{
		Type:   lockType,
		Whence: io.SeekStart,
		Start:  off,
		Len:    length,
	}
	var lockErr error
	ctrlErr := rc.Control(func(fd uintptr) {
		for {
			// the Go runtime preempts with signals, which interrupts F_SETLKW
			lockErr = unix.FcntlFlock(fd, cmd, &lk)
			if lockErr != unix.EINTR {
				return
			}
		}
	})
	if ctrlErr != nil {
		return fmt.Errorf("%s %s: %w", lockName(lockType), f.Name(), ctrlErr)
	}
	if lockErr != nil {
		return fmt.Errorf("%s %s (off %d, len %d): %w", lockName(lockType), f.Name(), off, length, lockErr)
	}
	return nil
}
