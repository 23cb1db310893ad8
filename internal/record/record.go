// Copyright 2026 The hashdb Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package record encodes and decodes the fixed-width ASCII fields and
// variable-length payloads stored in hashdb index and data files.
//
// An index record looks like:
//
//	+---------+--------+---------------------------------+
//	| next    | idxlen | key:dataOffset:dataLength\n     |
//	| PtrSize | IdxLen | idxlen bytes                    |
//	+---------+--------+---------------------------------+
//
// where next and idxlen are right-justified, space-padded decimal.  A data
// record is the value followed by a single newline.
package record

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	PtrSize    = 7       // width of a pointer field
	PtrMax     = 9999999 // 10**PtrSize - 1; caps the size of the index file
	IdxLenSize = 4       // width of the index record length field

	IdxLenMin = 6    // key, sep, offset, sep, length, newline
	IdxLenMax = 1024 // arbitrary
	DatLenMin = 2    // data byte, newline
	DatLenMax = 1024 // arbitrary

	// HeaderSize is the fixed-width prefix of every index record.
	HeaderSize = PtrSize + IdxLenSize

	Sep     = ':'
	Newline = '\n'
)

// ErrFormat is returned when a field can't be encoded within its fixed
// width, or when bytes read from disk don't have the expected shape.
var ErrFormat = errors.New("malformed record")

// IndexOffset is a byte offset into the index file.  The zero value
// terminates a hash chain.
type IndexOffset int64

// DataOffset is a byte offset into the data file.
type DataOffset int64

// IndexRecord is the decoded form of an index record.  Next is the offset of
// the following record in the same hash chain, not the location of this one.
type IndexRecord struct {
	Key        string
	DataOffset DataOffset
	DataLen    int
	Next       IndexOffset
}

// ValidKey reports whether key can be embedded in an index record payload.
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] == Sep || key[i] == Newline {
			return false
		}
	}
	return true
}

func appendPadded(dst []byte, v int64, width int) []byte {
	var num [20]byte
	digits := strconv.AppendInt(num[:0], v, 10)
	for i := len(digits); i < width; i++ {
		dst = append(dst, ' ')
	}
	return append(dst, digits...)
}

// parseDecimal parses an unsigned decimal number, optionally preceded by
// spaces.  Signs, embedded spaces and empty fields are rejected.
func parseDecimal(b []byte) (int64, bool) {
	b = bytes.TrimLeft(b, " ")
	if len(b) == 0 || len(b) > 18 {
		return 0, false
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	return n, true
}

// AppendPointer appends the PtrSize-byte encoding of off to dst.
func AppendPointer(dst []byte, off IndexOffset) ([]byte, error) {
	if off < 0 || off > PtrMax {
		return dst, fmt.Errorf("%w: pointer %d outside [0, %d]", ErrFormat, off, PtrMax)
	}
	return appendPadded(dst, int64(off), PtrSize), nil
}

// EncodePointer returns the PtrSize-byte encoding of off.
func EncodePointer(off IndexOffset) ([]byte, error) {
	return AppendPointer(make([]byte, 0, PtrSize), off)
}

// DecodePointer decodes a PtrSize-byte pointer field.
func DecodePointer(b []byte) (IndexOffset, error) {
	if len(b) != PtrSize {
		return 0, fmt.Errorf("%w: pointer field is %d bytes, want %d", ErrFormat, len(b), PtrSize)
	}
	n, ok := parseDecimal(b)
	if !ok {
		return 0, fmt.Errorf("%w: bad pointer field %q", ErrFormat, b)
	}
	return IndexOffset(n), nil
}

// AppendIndexRecord appends the encoding of rec to dst.
func AppendIndexRecord(dst []byte, rec IndexRecord) ([]byte, error) {
	if !ValidKey(rec.Key) {
		return dst, fmt.Errorf("%w: key %q is empty or contains ':' or newline", ErrFormat, rec.Key)
	}
	if rec.DataOffset < 0 {
		return dst, fmt.Errorf("%w: negative data offset %d", ErrFormat, rec.DataOffset)
	}
	if rec.DataLen < DatLenMin || rec.DataLen > DatLenMax {
		return dst, fmt.Errorf("%w: data length %d outside [%d, %d]", ErrFormat, rec.DataLen, DatLenMin, DatLenMax)
	}

	var payload []byte
	payload = append(payload, rec.Key...)
	payload = append(payload, Sep)
	payload = strconv.AppendInt(payload, int64(rec.DataOffset), 10)
	payload = append(payload, Sep)
	payload = strconv.AppendInt(payload, int64(rec.DataLen), 10)
	payload = append(payload, Newline)
	if len(payload) < IdxLenMin || len(payload) > IdxLenMax {
		return dst, fmt.Errorf("%w: index payload length %d outside [%d, %d]", ErrFormat, len(payload), IdxLenMin, IdxLenMax)
	}

	dst, err := AppendPointer(dst, rec.Next)
	if err != nil {
		return dst, err
	}
	dst = appendPadded(dst, int64(len(payload)), IdxLenSize)
	return append(dst, payload...), nil
}

// EncodeIndexRecord returns the on-disk encoding of rec.
func EncodeIndexRecord(rec IndexRecord) ([]byte, error) {
	return AppendIndexRecord(nil, rec)
}

// DecodeIndexHeader decodes the HeaderSize-byte prefix of an index record,
// returning the chain pointer and the length of the payload that follows.
func DecodeIndexHeader(b []byte) (next IndexOffset, payloadLen int, err error) {
	if len(b) != HeaderSize {
		return 0, 0, fmt.Errorf("%w: index header is %d bytes, want %d", ErrFormat, len(b), HeaderSize)
	}
	if next, err = DecodePointer(b[:PtrSize]); err != nil {
		return 0, 0, err
	}
	if payloadLen, err = DecodeIndexLen(b[PtrSize:]); err != nil {
		return 0, 0, err
	}
	return next, payloadLen, nil
}

// DecodeIndexLen decodes the IdxLenSize-byte length field.
func DecodeIndexLen(b []byte) (int, error) {
	if len(b) != IdxLenSize {
		return 0, fmt.Errorf("%w: length field is %d bytes, want %d", ErrFormat, len(b), IdxLenSize)
	}
	n, ok := parseDecimal(b)
	if !ok {
		return 0, fmt.Errorf("%w: bad length field %q", ErrFormat, b)
	}
	if n < IdxLenMin || n > IdxLenMax {
		return 0, fmt.Errorf("%w: index payload length %d outside [%d, %d]", ErrFormat, n, IdxLenMin, IdxLenMax)
	}
	return int(n), nil
}

// DecodePayload decodes a "key:dataOffset:dataLength\n" payload.
func DecodePayload(b []byte) (key string, off DataOffset, dataLen int, err error) {
	if len(b) == 0 || b[len(b)-1] != Newline {
		return "", 0, 0, fmt.Errorf("%w: index payload %q missing newline", ErrFormat, b)
	}
	k, rest, ok := bytes.Cut(b[:len(b)-1], []byte{Sep})
	if !ok || len(k) == 0 {
		return "", 0, 0, fmt.Errorf("%w: index payload %q missing key", ErrFormat, b)
	}
	offField, lenField, ok := bytes.Cut(rest, []byte{Sep})
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: index payload %q missing length", ErrFormat, b)
	}
	o, ok := parseDecimal(offField)
	if !ok || len(offField) == 0 || offField[0] == ' ' {
		return "", 0, 0, fmt.Errorf("%w: bad data offset in %q", ErrFormat, b)
	}
	l, ok := parseDecimal(lenField)
	if !ok || len(lenField) == 0 || lenField[0] == ' ' {
		return "", 0, 0, fmt.Errorf("%w: bad data length in %q", ErrFormat, b)
	}
	if l < DatLenMin || l > DatLenMax {
		return "", 0, 0, fmt.Errorf("%w: data length %d outside [%d, %d]", ErrFormat, l, DatLenMin, DatLenMax)
	}
	return string(k), DataOffset(o), int(l), nil
}

// DecodeIndexRecord decodes a complete index record, header and payload.
func DecodeIndexRecord(b []byte) (IndexRecord, error) {
	if len(b) < HeaderSize {
		return IndexRecord{}, fmt.Errorf("%w: index record is %d bytes, shorter than header", ErrFormat, len(b))
	}
	next, payloadLen, err := DecodeIndexHeader(b[:HeaderSize])
	if err != nil {
		return IndexRecord{}, err
	}
	if len(b)-HeaderSize != payloadLen {
		return IndexRecord{}, fmt.Errorf("%w: payload is %d bytes, length field says %d", ErrFormat, len(b)-HeaderSize, payloadLen)
	}
	key, off, dataLen, err := DecodePayload(b[HeaderSize:])
	if err != nil {
		return IndexRecord{}, err
	}
	return IndexRecord{
		Key:        key,
		DataOffset: off,
		DataLen:    dataLen,
		Next:       next,
	}, nil
}

// EncodeDataRecord returns value followed by a newline.
func EncodeDataRecord(value []byte) ([]byte, error) {
	n := len(value) + 1
	if n < DatLenMin || n > DatLenMax {
		return nil, fmt.Errorf("%w: data record length %d outside [%d, %d]", ErrFormat, n, DatLenMin, DatLenMax)
	}
	buf := make([]byte, 0, n)
	buf = append(buf, value...)
	return append(buf, Newline), nil
}

// DecodeDataRecord strips and checks the trailing newline of a data record.
func DecodeDataRecord(b []byte) ([]byte, error) {
	if len(b) < DatLenMin || len(b) > DatLenMax {
		return nil, fmt.Errorf("%w: data record length %d outside [%d, %d]", ErrFormat, len(b), DatLenMin, DatLenMax)
	}
	if b[len(b)-1] != Newline {
		return nil, fmt.Errorf("%w: data record missing newline", ErrFormat)
	}
	return b[:len(b)-1], nil
}
