// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks link and message statistics
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Link counters
	Fragments      uint64
	Bytes          uint64
	DiscardedBytes uint64
	BufferResets   uint64

	// Message counters
	TotalMessages  uint64
	ValidMessages  uint64
	CRCErrors      uint64
	DecodeErrors   uint64
	Unsupported    uint64
	Anomalies      uint64
	DeviceInfos    uint64
	CellDataFrames uint64

	// Rates (calculated)
	MessageRate float64 // messages/sec
	ErrorRate   float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// AddFragment records one received notification fragment
func (s *Statistics) AddFragment(n int) {
	s.Fragments++
	s.Bytes += uint64(n)
	s.LastUpdateTime = time.Now()
}

// SyncAssembler copies the resync counters of an assembler
func (s *Statistics) SyncAssembler(a *Assembler) {
	s.DiscardedBytes = a.Discarded()
	s.BufferResets = a.Resets()
}

// Update records the outcome of parsing and validating one message
func (s *Statistics) Update(record Record, parseErr error, validationErrors []ValidationError) {
	s.TotalMessages++
	s.LastUpdateTime = time.Now()

	if parseErr != nil {
		switch {
		case errors.Is(parseErr, ErrBadCRC):
			s.CRCErrors++
		case errors.Is(parseErr, ErrUnsupportedRecord):
			s.Unsupported++
		default:
			s.DecodeErrors++
		}
		return
	}

	if len(validationErrors) > 0 {
		s.Anomalies++
	} else {
		s.ValidMessages++
	}

	switch record.(type) {
	case *DeviceInfo:
		s.DeviceInfos++
	case *CellData:
		s.CellDataFrames++
	}
}

// CalculateRates calculates message and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.MessageRate = float64(s.TotalMessages) / elapsed
		s.ErrorRate = float64(s.CRCErrors+s.DecodeErrors+s.Anomalies) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalMessages == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalMessages)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Fragments:       %8d (%d bytes)\n", s.Fragments, s.Bytes)
	result += fmt.Sprintf("Total Messages:  %8d\n", s.TotalMessages)
	result += fmt.Sprintf("Valid Messages:  %8d (%.1f%%)\n", s.ValidMessages, percent(s.ValidMessages))
	result += fmt.Sprintf("  Device Info:      %5d\n", s.DeviceInfos)
	result += fmt.Sprintf("  Cell Data:        %5d\n", s.CellDataFrames)

	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Errors:      %8d (%.1f%%)\n", s.CRCErrors, percent(s.CRCErrors))
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, percent(s.DecodeErrors))
	}
	if s.Unsupported > 0 {
		result += fmt.Sprintf("Unsupported:     %8d (%.1f%%)\n", s.Unsupported, percent(s.Unsupported))
	}
	if s.Anomalies > 0 {
		result += fmt.Sprintf("Anomalous Msgs:  %8d (%.1f%%)\n", s.Anomalies, percent(s.Anomalies))
	}
	if s.DiscardedBytes > 0 || s.BufferResets > 0 {
		result += fmt.Sprintf("Resync:          %8d bytes dropped, %d resets\n", s.DiscardedBytes, s.BufferResets)
	}

	result += fmt.Sprintf("Message Rate:    %8.1f msgs/sec\n", s.MessageRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
