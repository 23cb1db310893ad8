// Copyright 2026 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package flock

import "golang.org/x/sys/unix"

// Open file description locks belong to the open file rather than the
// process, so two handles opened by one process exclude each other.
const (
	setLock     = unix.F_OFD_SETLK
	setLockWait = unix.F_OFD_SETLKW
)
