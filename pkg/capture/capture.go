// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records raw link traffic to a CBOR sequence file so a
// session can be replayed through the assembler later.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Direction of captured bytes
type Direction uint8

// Direction values
const (
	DirRX Direction = iota // device to host
	DirTX                  // host to device
)

// String returns "rx" or "tx"
func (d Direction) String() string {
	if d == DirTX {
		return "tx"
	}
	return "rx"
}

// Entry is one captured chunk.
// Encoded as a CBOR map with integer keys.
type Entry struct {
	Session uuid.UUID `cbor:"0,keyasint"`
	Seq     uint64    `cbor:"1,keyasint"`
	TimeUS  int64     `cbor:"2,keyasint"` // unix microseconds
	Dir     Direction `cbor:"3,keyasint"`
	Data    []byte    `cbor:"4,keyasint"`
}

// Time returns the capture timestamp
func (e *Entry) Time() time.Time {
	return time.UnixMicro(e.TimeUS)
}

// Writer appends entries to a capture stream. Safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	enc     *cbor.Encoder
	session uuid.UUID
	seq     uint64
	now     func() time.Time
}

// NewWriter starts a new capture session on w
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	return &Writer{
		w:       bw,
		enc:     cbor.NewEncoder(bw),
		session: uuid.New(),
		now:     time.Now,
	}
}

// Session returns the session identifier stamped on every entry
func (w *Writer) Session() uuid.UUID {
	return w.session
}

// Write records data received from the device
func (w *Writer) Write(data []byte) (int, error) {
	if err := w.Record(DirRX, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Record appends one entry and flushes it
func (w *Writer) Record(dir Direction, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := Entry{
		Session: w.session,
		Seq:     w.seq,
		TimeUS:  w.now().UnixMicro(),
		Dir:     dir,
		Data:    append([]byte(nil), data...),
	}
	if err := w.enc.Encode(e); err != nil {
		return fmt.Errorf("failed to encode capture entry: %w", err)
	}
	w.seq++
	return w.w.Flush()
}

// Reader iterates the entries of a capture stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads entries from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
}

// Next returns the next entry, or io.EOF at the end of the stream
func (r *Reader) Next() (*Entry, error) {
	var e Entry
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to decode capture entry: %w", err)
	}
	return &e, nil
}

// ReadAll returns every remaining entry
func (r *Reader) ReadAll() ([]*Entry, error) {
	var entries []*Entry
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, e)
	}
}
