// Copyright 2021 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command hashdb inspects and edits hashdb stores from the shell.
package main

import (
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"

	"github.com/bpowers/hashdb"
)

const usage = `usage: hashdb [flags] PATH COMMAND [ARGS...]

commands:
  create                          create an empty store
  store KEY VALUE [MODE]          store a value; MODE is insert (default), replace or upsert
  fetch KEY                       print the value stored under KEY
  delete KEY                      remove KEY
  dump                            print every live record as KEY:VALUE
  check                           verify the store and print statistics
  compact DST                     write the live records to a new store at DST
  gen N                           insert N generated records

flags:
`

const (
	genPrefix    = "pref_"
	genSuffixLen = 16
	genHMACKey   = "d259c7f656caf7f1"
)

func newRand() *rand.Rand {
	var seedBytes [8]byte
	_, _ = crand.Read(seedBytes[:])
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed))
}

var storeModes = map[string]hashdb.StoreMode{
	"insert":  hashdb.Insert,
	"replace": hashdb.Replace,
	"upsert":  hashdb.Upsert,
}

type command struct {
	nargs int
	flags hashdb.Flag
	run   func(db *hashdb.DB, args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"create": {0, hashdb.ReadWrite | hashdb.Create, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		return nil
	}},
	"store": {-2, hashdb.ReadWrite, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		mode := hashdb.Insert
		if len(args) > 2 {
			var ok bool
			if mode, ok = storeModes[args[2]]; !ok {
				return fmt.Errorf("unknown store mode %q", args[2])
			}
		}
		return db.Store(args[0], []byte(args[1]), mode)
	}},
	"fetch": {1, hashdb.ReadOnly, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		value, err := db.Fetch(args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "%s\n", value)
		return err
	}},
	"delete": {1, hashdb.ReadWrite, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		return db.Delete(args[0])
	}},
	"dump": {0, hashdb.ReadOnly, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		for {
			key, value, err := db.Next()
			if err == io.EOF {
				return nil
			} else if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(stdout, "%s:%s\n", key, value); err != nil {
				return err
			}
		}
	}},
	"check": {0, hashdb.ReadOnly, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		stats, err := db.Check()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(stdout, "buckets:       %d (%d empty)\nrecords:       %d\nlongest chain: %d\nindex bytes:   %d\ndata bytes:    %d\ndigest:        %016x\n",
			stats.Buckets, stats.EmptyBuckets, stats.LiveRecords, stats.LongestChain, stats.IndexBytes, stats.DataBytes, stats.Digest)
		return err
	}},
	"compact": {1, hashdb.ReadOnly, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		return db.Compact(args[0])
	}},
	"gen": {1, hashdb.ReadWrite, func(db *hashdb.DB, args []string, stdout io.Writer) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("bad record count %q", args[0])
		}
		rng := newRand()
		h := hmac.New(sha256.New, []byte(genHMACKey))
		for i := 0; i < n; i++ {
			var buf [genSuffixLen / 2]byte
			if _, err := rng.Read(buf[:]); err != nil {
				return err
			}
			value := fmt.Sprintf("%s%x", genPrefix, buf)
			h.Reset()
			h.Write([]byte(value))
			key := hex.EncodeToString(h.Sum(nil))
			if err := db.Store(key, []byte(value), hashdb.Upsert); err != nil {
				return err
			}
		}
		return nil
	}},
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("hashdb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	verbose := fs.Bool("v", false, "log debug output to stderr")
	nhash := fs.Int("nhash", hashdb.NHashDef, "number of hash buckets")
	noSync := fs.Bool("nosync", false, "skip fsync after each write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("missing PATH or COMMAND")
	}
	path, name, cmdArgs := fs.Arg(0), fs.Arg(1), fs.Args()[2:]
	cmd, ok := commands[name]
	if !ok {
		fs.Usage()
		return fmt.Errorf("unknown command %q", name)
	}
	if want := cmd.nargs; (want >= 0 && len(cmdArgs) != want) || (want < 0 && len(cmdArgs) != -want && len(cmdArgs) != -want+1) {
		fs.Usage()
		return fmt.Errorf("wrong number of arguments for %s", name)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	opts := []hashdb.Option{
		hashdb.WithTableSize(*nhash),
		hashdb.WithLogger(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))),
	}
	if *noSync {
		opts = append(opts, hashdb.WithoutSync())
	}

	db, err := hashdb.Open(path, cmd.flags, opts...)
	if err != nil {
		return err
	}
	if err := cmd.run(db, cmdArgs, stdout); err != nil {
		_ = db.Close()
		return err
	}
	return db.Close()
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "hashdb: %s\n", err)
		}
		os.Exit(1)
	}
}
