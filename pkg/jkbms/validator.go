// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import "fmt"

// AnomalyType represents different types of message anomalies
type AnomalyType int

const (
	AnomalyLengthMismatch AnomalyType = iota
	AnomalyCRCError
	AnomalyUnknownRecord
	AnomalyEmptyCellMask
	AnomalyCellIndex
	AnomalyInvalidValue
	AnomalyDecodeError
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyLengthMismatch:
		return "LENGTH_MISMATCH"
	case AnomalyCRCError:
		return "CRC_ERROR"
	case AnomalyUnknownRecord:
		return "UNKNOWN_RECORD"
	case AnomalyEmptyCellMask:
		return "EMPTY_CELL_MASK"
	case AnomalyCellIndex:
		return "CELL_INDEX"
	case AnomalyInvalidValue:
		return "INVALID_VALUE"
	case AnomalyDecodeError:
		return "DECODE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ValidationError represents a message validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateMessage checks a complete response frame for protocol-level
// anomalies. Returns an empty slice if the frame is well formed.
func ValidateMessage(msg []byte) []ValidationError {
	errors := []ValidationError{}

	if !Classify(msg).IsResponse() {
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: "not a response frame",
			Details: map[string]interface{}{"length": len(msg)},
		}}
	}

	if len(msg) != ResponseFrameLen {
		errors = append(errors, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("Response length %d (expected %d)", len(msg), ResponseFrameLen),
			Details: map[string]interface{}{"length": len(msg), "expected": ResponseFrameLen},
		})
	}

	if !ValidateResponse(msg) {
		errors = append(errors, ValidationError{
			Type:    AnomalyCRCError,
			Message: "Checksum mismatch",
			Details: map[string]interface{}{"crc": msg[len(msg)-1], "expected": Checksum(msg[:len(msg)-1])},
		})
		return errors
	}

	if len(msg) < ResponseFrameLen {
		return errors
	}

	switch rt := msg[offsetRecordType]; rt {
	case RecordTypeCellData:
		errors = append(errors, validateCellData(msg[:len(msg)-1])...)
	case RecordTypeDeviceInfo:
		if _, err := DecodeDeviceInfo(msg[:len(msg)-1]); err != nil {
			errors = append(errors, ValidationError{
				Type:    AnomalyDecodeError,
				Message: err.Error(),
				Details: map[string]interface{}{"record_type": rt},
			})
		}
	case RecordTypeSettings:
	default:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownRecord,
			Message: fmt.Sprintf("Unknown record type 0x%02X", rt),
			Details: map[string]interface{}{"record_type": rt},
		})
	}

	return errors
}

// validateCellData validates a cell data payload
func validateCellData(payload []byte) []ValidationError {
	errors := []ValidationError{}

	mask := getU32(payload, offCellMask)
	if mask == 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyEmptyCellMask,
			Message: "No cells enabled",
			Details: map[string]interface{}{"mask": mask},
		})
	}

	for _, idx := range []struct {
		name string
		off  int
	}{{"max_voltage_cell", offMaxVoltageCell}, {"min_voltage_cell", offMinVoltageCell}} {
		cell := payload[idx.off]
		if mask != 0 && (cell >= MaxCells || mask&(1<<uint(cell)) == 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyCellIndex,
				Message: fmt.Sprintf("%s=%d not enabled in mask 0x%08X", idx.name, cell, mask),
				Details: map[string]interface{}{idx.name: cell, "mask": mask},
			})
		}
	}

	if percent := payload[offRemainPercent]; percent > 100 {
		errors = append(errors, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Invalid remain_percent=%d (max 100)", percent),
			Details: map[string]interface{}{"remain_percent": percent, "max": 100},
		})
	}

	return errors
}
