// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package hashdb

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/bpowers/hashdb/internal/index"
)

const (
	// NHashDef is the default hash table size.  The table size is fixed
	// when a store is created and must be passed again on every open.
	NHashDef = 137

	DefaultPerm fs.FileMode = 0644
)

// Flag selects how Open treats the index and data files.  Exactly one of
// ReadOnly or ReadWrite must be set.
type Flag int

const (
	ReadOnly Flag = 1 << iota
	ReadWrite
	// Create creates both files, failing with ErrAlreadyExists if either
	// already exists.
	Create
	// Truncate empties existing files, which are then re-initialized.
	Truncate
)

func (fl Flag) String() string {
	s := ""
	for _, f := range []struct {
		flag Flag
		name string
	}{{ReadOnly, "ReadOnly"}, {ReadWrite, "ReadWrite"}, {Create, "Create"}, {Truncate, "Truncate"}} {
		if fl&f.flag != 0 {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

func (fl Flag) osFlags() (int, error) {
	if fl&^(ReadOnly|ReadWrite|Create|Truncate) != 0 {
		return 0, fmt.Errorf("%w: unknown open flags %#x", ErrInvalidArgument, int(fl))
	}
	var oflag int
	switch fl & (ReadOnly | ReadWrite) {
	case ReadOnly:
		if fl&(Create|Truncate) != 0 {
			return 0, fmt.Errorf("%w: %s needs ReadWrite", ErrInvalidArgument, fl)
		}
		oflag = os.O_RDONLY
	case ReadWrite:
		oflag = os.O_RDWR
	default:
		return 0, fmt.Errorf("%w: %s must include exactly one of ReadOnly or ReadWrite", ErrInvalidArgument, fl)
	}
	if fl&Create != 0 {
		// two racing creators must not both believe they created the store
		oflag |= os.O_CREATE | os.O_EXCL
	}
	if fl&Truncate != 0 {
		oflag |= os.O_TRUNC
	}
	return oflag, nil
}

// Option configures Open and Compact.
type Option func(*options)

type options struct {
	perm   fs.FileMode
	nhash  int
	logger *slog.Logger
	noSync bool
}

func defaultOptions() options {
	return options{
		perm:   DefaultPerm,
		nhash:  NHashDef,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (o *options) validate() error {
	if o.nhash < 1 || o.nhash > index.MaxTableSize {
		return fmt.Errorf("%w: table size %d outside [1, %d]", ErrInvalidArgument, o.nhash, index.MaxTableSize)
	}
	if o.logger == nil {
		return fmt.Errorf("%w: nil logger", ErrInvalidArgument)
	}
	return nil
}

// WithPerm sets the permission bits used when creating files.
func WithPerm(perm fs.FileMode) Option {
	return func(opts *options) {
		opts.perm = perm
	}
}

// WithTableSize sets the number of hash buckets.
func WithTableSize(nhash int) Option {
	return func(opts *options) {
		opts.nhash = nhash
	}
}

// WithLogger sets an optional logger.  Failures are logged at Error level
// before being returned; if not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithoutSync skips the fsyncs that make each new data and index record
// durable before it is linked into its chain.  Interrupted processes still
// never leave a dangling chain pointer, but an OS crash may.
func WithoutSync() Option {
	return func(opts *options) {
		opts.noSync = true
	}
}
