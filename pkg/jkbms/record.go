// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import "fmt"

// Record is a decoded response record
type Record interface {
	RecordType() uint8
}

// ParseMessage verifies the checksum of a complete response frame and
// decodes it according to its record type.
func ParseMessage(msg []byte) (Record, error) {
	if err := VerifyResponse(msg); err != nil {
		return nil, err
	}
	if !Classify(msg).IsResponse() {
		return nil, fmt.Errorf("%w: not a response frame", ErrBadRecordType)
	}

	payload := msg[:len(msg)-1]
	if len(payload) <= offsetRecordType {
		return nil, ErrNotEnoughData
	}
	switch payload[offsetRecordType] {
	case RecordTypeDeviceInfo:
		return DecodeDeviceInfo(payload)
	case RecordTypeCellData:
		return DecodeCellData(payload)
	case RecordTypeSettings:
		return nil, fmt.Errorf("%w: settings (0x%02X)", ErrUnsupportedRecord, RecordTypeSettings)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnsupportedRecord, payload[offsetRecordType])
	}
}
