// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"bytes"
	"time"
)

// ClassKind is the outcome of classifying a byte span
type ClassKind int

// Classification outcomes
const (
	ClassTooShort ClassKind = iota // fewer bytes than a header
	ClassOther                     // header present but not a response
	ClassResponse                  // begins with the response header
)

// Classification describes what a byte span begins with.
// RecordType is only meaningful when HasRecordType is set.
type Classification struct {
	Kind          ClassKind
	Type          MessageType
	RecordType    uint8
	HasRecordType bool
}

// IsResponse reports whether the span begins with the response header
func (c Classification) IsResponse() bool {
	return c.Kind == ClassResponse
}

// Classify inspects the start of data without modifying it
func Classify(data []byte) Classification {
	if len(data) < HeaderSize {
		return Classification{Kind: ClassTooShort}
	}
	switch {
	case bytes.Equal(data[:HeaderSize], ResponseHeader[:]):
		c := Classification{Kind: ClassResponse, Type: MessageResponse}
		if len(data) > offsetRecordType {
			c.RecordType = data[offsetRecordType]
			c.HasRecordType = true
		}
		return c
	case bytes.Equal(data[:HeaderSize], RequestHeader[:]):
		return Classification{Kind: ClassOther, Type: MessageRequest}
	default:
		return Classification{Kind: ClassOther, Type: MessageUnknown}
	}
}

// isHeaderAt reports whether a request or response header starts at i
func isHeaderAt(buf []byte, i int) bool {
	if i < 0 || i+HeaderSize > len(buf) {
		return false
	}
	w := buf[i : i+HeaderSize]
	return bytes.Equal(w, ResponseHeader[:]) || bytes.Equal(w, RequestHeader[:])
}

// SplitMessages cuts buf at every request or response header occurrence.
// The first span may be header-less noise when buf does not start with a
// header. Spans alias buf with capacity capped at their length.
func SplitMessages(buf []byte) [][]byte {
	if len(buf) == 0 {
		return nil
	}
	var spans [][]byte
	start := 0
	for i := 1; i+HeaderSize <= len(buf); i++ {
		if isHeaderAt(buf, i) {
			spans = append(spans, buf[start:i:i])
			start = i
		}
	}
	return append(spans, buf[start:len(buf):len(buf)])
}

// Message is a complete framed message extracted by the assembler
type Message struct {
	raw       []byte
	timestamp time.Time
}

// NewMessage wraps raw frame bytes (header through checksum)
func NewMessage(raw []byte) *Message {
	return NewMessageAt(raw, time.Now())
}

// NewMessageAt wraps raw frame bytes received at t
func NewMessageAt(raw []byte, t time.Time) *Message {
	return &Message{
		raw:       raw,
		timestamp: t,
	}
}

// Raw returns the frame bytes including the trailing checksum
func (m *Message) Raw() []byte {
	return m.raw
}

// Len returns the frame length in bytes
func (m *Message) Len() int {
	return len(m.raw)
}

// Type returns the direction encoded in the header
func (m *Message) Type() MessageType {
	return Classify(m.raw).Type
}

// RecordType returns byte 4 of a response, or 0 when absent
func (m *Message) RecordType() uint8 {
	return Classify(m.raw).RecordType
}

// FrameCounter returns the rolling counter at byte 5 of a response
func (m *Message) FrameCounter() uint8 {
	if len(m.raw) <= offsetFrameCount {
		return 0
	}
	return m.raw[offsetFrameCount]
}

// CRC returns the trailing checksum byte
func (m *Message) CRC() uint8 {
	if len(m.raw) == 0 {
		return 0
	}
	return m.raw[len(m.raw)-1]
}

// Valid reports whether the trailing checksum matches
func (m *Message) Valid() bool {
	return ValidateResponse(m.raw)
}

// Payload returns the frame without its trailing checksum byte, the form
// the record decoders expect
func (m *Message) Payload() []byte {
	if len(m.raw) == 0 {
		return nil
	}
	return m.raw[:len(m.raw)-1]
}

// Timestamp returns when the message was assembled
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}
