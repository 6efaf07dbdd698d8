// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Fixed-point scale divisors
const (
	scaleMilli = 1000.0
	scaleDeci  = 10.0
)

// checkRecord verifies length and record type of a response payload
func checkRecord(data []byte, want uint8) error {
	if len(data) <= offsetRecordType {
		return ErrNotEnoughData
	}
	if data[offsetRecordType] != want {
		return fmt.Errorf("%w: expected 0x%02X, got 0x%02X", ErrBadRecordType, want, data[offsetRecordType])
	}
	if len(data) < ResponsePayloadLen {
		return fmt.Errorf("%w: %d bytes (need %d)", ErrNotEnoughData, len(data), ResponsePayloadLen)
	}
	return nil
}

func getU16(data []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(data[off:])
}

func getI16(data []byte, off int) int16 {
	return int16(binary.LittleEndian.Uint16(data[off:]))
}

func getU32(data []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(data[off:])
}

func getI32(data []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(data[off:]))
}

// getText reads a NUL-terminated text field
func getText(data []byte, off, width int, name string) (string, error) {
	raw := data[off : off+width]
	for i, b := range raw {
		if b == 0 {
			raw = raw[:i]
			break
		}
	}
	if !utf8.Valid(raw) {
		return "", invalidData("%s is not valid UTF-8 (% X)", name, raw)
	}
	return string(raw), nil
}

// newFrame allocates a response frame with header and record type set
func newFrame(recordType uint8) []byte {
	frame := make([]byte, ResponseFrameLen)
	copy(frame, ResponseHeader[:])
	frame[offsetRecordType] = recordType
	return frame
}

// signFrame writes the trailing checksum
func signFrame(frame []byte) []byte {
	frame[len(frame)-1] = Checksum(frame[:len(frame)-1])
	return frame
}

func putU16(frame []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(frame[off:], v)
}

func putU32(frame []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(frame[off:], v)
}

func putText(frame []byte, off, width int, name, s string) error {
	if len(s) > width {
		return fmt.Errorf("%s too long: %d bytes (max %d)", name, len(s), width)
	}
	copy(frame[off:off+width], s)
	return nil
}

// fixedPoint converts v to an integer count of 1/scale units within [lo, hi]
func fixedPoint(name string, v, scale float64, lo, hi int64) (int64, error) {
	raw := math.Round(v * scale)
	if math.IsNaN(raw) || raw < float64(lo) || raw > float64(hi) {
		return 0, fmt.Errorf("%s out of range: %v", name, v)
	}
	return int64(raw), nil
}
