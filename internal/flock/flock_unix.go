// Copyright 2026 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build unix && !linux

package flock

import "golang.org/x/sys/unix"

// Classic POSIX record locks are owned by the process: handles opened by
// the same process do not exclude each other.
const (
	setLock     = unix.F_SETLK
	setLockWait = unix.F_SETLKW
)
