// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

// Checksum computes the 8-bit additive checksum used by JK BMS frames
func Checksum(data []byte) byte {
	return ChecksumSeeded(0, data)
}

// ChecksumSeeded computes the additive checksum starting from seed.
// The sum wraps modulo 256.
func ChecksumSeeded(seed byte, data []byte) byte {
	sum := seed
	for _, b := range data {
		sum += b
	}
	return sum
}
