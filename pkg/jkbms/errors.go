// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"errors"
	"fmt"
)

// Parse errors
var (
	ErrNotEnoughData     = errors.New("not enough data")
	ErrBadRecordType     = errors.New("bad record type")
	ErrBadCRC            = errors.New("bad CRC checksum")
	ErrInvalidData       = errors.New("invalid data")
	ErrUnsupportedRecord = errors.New("unsupported record type")
)

// InvalidDataError reports a field whose bytes violate its encoding
type InvalidDataError struct {
	Msg string
}

// Error implements the error interface
func (e *InvalidDataError) Error() string {
	return "invalid data: " + e.Msg
}

// Is lets errors.Is match ErrInvalidData
func (e *InvalidDataError) Is(target error) bool {
	return target == ErrInvalidData
}

func invalidData(format string, args ...interface{}) error {
	return &InvalidDataError{Msg: fmt.Sprintf(format, args...)}
}
