// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package jkbms provides a Go implementation of the JK BMS Bluetooth protocol.
//
// JK battery management systems expose their telemetry over a single
// notify/write characteristic. The host writes short command frames and the
// device answers with 300-byte response frames that the link delivers as
// arbitrary notification fragments. This package provides request encoding,
// checksum validation, fragment reassembly, and record decoding.
package jkbms

// Frame headers
var (
	RequestHeader  = [4]byte{0xAA, 0x55, 0x90, 0xEB}
	ResponseHeader = [4]byte{0x55, 0xAA, 0xEB, 0x90}
)

// HeaderSize is the length of both frame headers
const HeaderSize = 4

// Command codes (Host → BMS)
const (
	CmdCellData   = 0x96
	CmdDeviceInfo = 0x97
)

// Record types (BMS → Host), byte 4 of a response
const (
	RecordTypeSettings   = 0x01
	RecordTypeCellData   = 0x02
	RecordTypeDeviceInfo = 0x03
)

// Frame sizes
const (
	RequestFrameLen    = 20
	ResponseFrameLen   = 300
	ResponsePayloadLen = ResponseFrameLen - 1 // without trailing checksum
)

// Response field positions shared by every record type
const (
	offsetRecordType = 4
	offsetFrameCount = 5
)

// MaxCells is the number of cell slots carried by a cell data frame
const MaxCells = 32

// TemperatureSensors is the number of battery temperature sensors reported
const TemperatureSensors = 4

// GATT identifiers
const (
	ServiceUUIDString        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUIDString = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// ServiceUUID returns the GATT service UUID exposed by JK BMS devices
func ServiceUUID() string {
	return ServiceUUIDString
}

// CharacteristicUUID returns the notify/write characteristic UUID
func CharacteristicUUID() string {
	return CharacteristicUUIDString
}

// MessageType identifies the direction of a framed message
type MessageType int

// Message type values
const (
	MessageUnknown MessageType = iota
	MessageRequest
	MessageResponse
)

// BalancingAction reports what the active balancer is doing
type BalancingAction uint8

// Balancing action values
const (
	BalancingOff         BalancingAction = 0x00
	BalancingCharging    BalancingAction = 0x01
	BalancingDischarging BalancingAction = 0x02
)
