// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bpowers/hashdb/internal/record"
)

var (
	// ErrAlreadyExists is returned when creating a store that exists, or
	// inserting a key that is already present.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotFound is returned for keys that aren't in the store.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is returned, before any I/O, for requests that
	// could never succeed.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrFormat means a structure on disk is corrupt.
	ErrFormat = record.ErrFormat
	// ErrIO wraps failed reads, writes, seeks and lock calls.
	ErrIO = errors.New("I/O failure")
	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("database closed")
)

func isResult(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrClosed)
}

// classify tags anything that isn't an ordinary result or corruption as an
// I/O failure and reports it to the logger.
func classify(logger *slog.Logger, op string, err error) error {
	if err == nil {
		return nil
	}
	if isResult(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !errors.Is(err, ErrFormat) && !errors.Is(err, ErrIO) {
		err = fmt.Errorf("%w: %w", ErrIO, err)
	}
	logger.Error("hashdb operation failed", "op", op, "err", err)
	return fmt.Errorf("%s: %w", op, err)
}
