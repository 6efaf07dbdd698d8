// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

// BuildRequest creates a complete request frame for the given command code.
// Returns the RequestFrameLen (20) bytes to write to the characteristic:
//
//	[0:4]   request header AA 55 90 EB
//	[4]     command
//	[5]     value length, always 0
//	[6:10]  value, zeroed
//	[10:19] padding, zeroed
//	[19]    checksum of bytes 0..18
func BuildRequest(command uint8) []byte {
	frame := make([]byte, RequestFrameLen)
	copy(frame, RequestHeader[:])
	frame[HeaderSize] = command
	frame[RequestFrameLen-1] = Checksum(frame[:RequestFrameLen-1])
	return frame
}

// DeviceInfoRequest returns the request frame asking for device information
func DeviceInfoRequest() []byte {
	return BuildRequest(CmdDeviceInfo)
}

// CellDataRequest returns the request frame asking for cell data
func CellDataRequest() []byte {
	return BuildRequest(CmdCellData)
}

// ValidateResponse reports whether the trailing byte of data matches the
// checksum of every byte before it. Short input returns false.
func ValidateResponse(data []byte) bool {
	return VerifyResponse(data) == nil
}

// VerifyResponse is ValidateResponse with a reason.
// Returns ErrNotEnoughData for input shorter than a header plus one byte,
// ErrBadCRC on checksum mismatch.
func VerifyResponse(data []byte) error {
	if len(data) < HeaderSize+1 {
		return ErrNotEnoughData
	}
	last := len(data) - 1
	if Checksum(data[:last]) != data[last] {
		return ErrBadCRC
	}
	return nil
}
