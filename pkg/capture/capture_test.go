// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestWriterReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 123456000, time.UTC)
	w.now = func() time.Time { return fixed }

	chunks := []struct {
		dir  Direction
		data []byte
	}{
		{DirTX, []byte{0xAA, 0x55, 0x90, 0xEB, 0x96}},
		{DirRX, []byte{0x55, 0xAA, 0xEB, 0x90, 0x02}},
		{DirRX, []byte{0x01, 0x02, 0x03}},
	}
	for _, c := range chunks {
		if err := w.Record(c.dir, c.data); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	entries, err := NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != len(chunks) {
		t.Fatalf("expected %d entries, got %d", len(chunks), len(entries))
	}

	for i, e := range entries {
		if e.Session != w.Session() {
			t.Errorf("entry %d: session %s, expected %s", i, e.Session, w.Session())
		}
		if e.Seq != uint64(i) {
			t.Errorf("entry %d: seq %d", i, e.Seq)
		}
		if e.Dir != chunks[i].dir || !bytes.Equal(e.Data, chunks[i].data) {
			t.Errorf("entry %d: got %s % X", i, e.Dir, e.Data)
		}
		if !e.Time().Equal(fixed) {
			t.Errorf("entry %d: time %v, expected %v", i, e.Time(), fixed)
		}
	}
}

func TestWriter_ImplementsIOWriter(t *testing.T) {
	var buf bytes.Buffer
	var w io.Writer = NewWriter(&buf)

	n, err := w.Write([]byte{0x01, 0x02})
	if err != nil || n != 2 {
		t.Fatalf("Write returned %d, %v", n, err)
	}

	e, err := NewReader(&buf).Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if e.Dir != DirRX {
		t.Errorf("expected rx, got %s", e.Dir)
	}
}

func TestReader_EmptyAndTruncated(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)).Next(); err != io.EOF {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Record(DirRX, bytes.Repeat([]byte{0x55}, 64)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-10]
	if _, err := NewReader(bytes.NewReader(truncated)).Next(); err == nil || err == io.EOF {
		t.Errorf("expected a decode error on truncated entry, got %v", err)
	}
}
