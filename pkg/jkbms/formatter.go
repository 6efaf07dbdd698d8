// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"fmt"
	"strings"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.Timestamp().Format("15:04:05.000")

	if m.Type() != MessageResponse {
		return fmt.Sprintf("[%s] %s len=%d\n  %s\n", timestamp, FormatMessageType(m.Type()), m.Len(), FormatHex(m.Raw()))
	}

	result := fmt.Sprintf("[%s] %s (0x%02X) frame=%d len=%d crc=0x%02X",
		timestamp, FormatRecordType(m.RecordType()), m.RecordType(), m.FrameCounter(), m.Len(), m.CRC())
	if !m.Valid() {
		return result + " CRC MISMATCH\n"
	}
	result += "\n"

	record, err := ParseMessage(m.Raw())
	if err != nil {
		return result + fmt.Sprintf("  Decode error: %v\n", err)
	}
	return result + FormatRecord(record)
}

// FormatMessageType returns the human-readable name for a message direction
func FormatMessageType(t MessageType) string {
	switch t {
	case MessageRequest:
		return "REQUEST"
	case MessageResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// FormatRecordType returns the human-readable name for a record type
func FormatRecordType(recordType uint8) string {
	switch recordType {
	case RecordTypeSettings:
		return "SETTINGS"
	case RecordTypeCellData:
		return "CELL_DATA"
	case RecordTypeDeviceInfo:
		return "DEVICE_INFO"
	default:
		return "UNKNOWN"
	}
}

// FormatCommand returns the human-readable name for a request command
func FormatCommand(command uint8) string {
	switch command {
	case CmdCellData:
		return "CELL_DATA_REQUEST"
	case CmdDeviceInfo:
		return "DEVICE_INFO_REQUEST"
	default:
		return "UNKNOWN"
	}
}

// FormatRecord dispatches to the record specific formatter
func FormatRecord(r Record) string {
	switch v := r.(type) {
	case *DeviceInfo:
		return FormatDeviceInfo(v)
	case *CellData:
		return FormatCellData(v)
	default:
		return fmt.Sprintf("  Record type 0x%02X\n", r.RecordType())
	}
}

// FormatDeviceInfo formats device metadata
func FormatDeviceInfo(d *DeviceInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Model: %s, HW: %s, SW: %s\n", d.DeviceModel, d.HardwareVersion, d.SoftwareVersion)
	fmt.Fprintf(&b, "  Name: %s, Serial: %s, Manufactured: %s\n", d.DeviceName, d.SerialNumber, d.ManufacturingDate)
	fmt.Fprintf(&b, "  Uptime: %s, Power-on count: %d\n", FormatDuration(uint64(d.UpTime)), d.PowerOnTimes)
	if d.UserData != "" || d.UserData2 != "" {
		fmt.Fprintf(&b, "  User data: %q %q\n", d.UserData, d.UserData2)
	}
	return b.String()
}

// FormatCellData formats live telemetry
func FormatCellData(c *CellData) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  Battery: %.3f V, %.3f A, %.3f W\n", c.BatteryVoltage, c.BatteryCurrent, c.BatteryPower)
	fmt.Fprintf(&b, "  SOC: %d%%, Remaining: %.3f Ah / %.3f Ah, SOH: %d%%\n",
		c.RemainPercent, c.RemainCapacity, c.NominalCapacity, c.StateOfHealth)

	fmt.Fprintf(&b, "  Cells (%d):", len(c.CellVoltage))
	for i, v := range c.CellVoltage {
		if i%8 == 0 {
			b.WriteString("\n   ")
		}
		fmt.Fprintf(&b, " %2d=%.3f", i+1, v)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "  Avg: %.3f V, Delta: %.3f V, Max: cell %d, Min: cell %d\n",
		c.AverageCellVoltage, c.DeltaCellVoltage, c.MaxVoltageCell+1, c.MinVoltageCell+1)
	fmt.Fprintf(&b, "  Balancer: %s, %.3f A\n", FormatBalancingAction(c.BalancingAction), c.BalanceCurrent)

	temps := make([]string, len(c.BatteryTemperature))
	for i, t := range c.BatteryTemperature {
		temps[i] = fmt.Sprintf("%.1f°C", t)
	}
	fmt.Fprintf(&b, "  Temperatures: %s, MOSFET: %.1f°C\n", strings.Join(temps, " "), c.MosfetTemperature)
	fmt.Fprintf(&b, "  Cycles: %d (%.3f Ah), Uptime: %s\n", c.CycleCount, c.CycleCapacity, FormatDuration(uint64(c.UpTime)))

	return b.String()
}

// FormatBalancingAction returns the human-readable balancer state
func FormatBalancingAction(a BalancingAction) string {
	switch a {
	case BalancingOff:
		return "OFF"
	case BalancingCharging:
		return "CHARGING"
	case BalancingDischarging:
		return "DISCHARGING"
	default:
		return "UNKNOWN"
	}
}

// FormatHex formats bytes as space separated hex
func FormatHex(data []byte) string {
	return fmt.Sprintf("% X", data)
}

// FormatDuration converts seconds to a human-readable duration
func FormatDuration(seconds uint64) string {
	if seconds == 0 {
		return "0 seconds"
	}

	const (
		secondsPerMinute = 60
		secondsPerHour   = 60 * secondsPerMinute
		secondsPerDay    = 24 * secondsPerHour
	)

	units := []struct {
		size uint64
		name string
	}{
		{secondsPerDay, "day"},
		{secondsPerHour, "hour"},
		{secondsPerMinute, "minute"},
		{1, "second"},
	}

	parts := []string{}
	for _, u := range units {
		n := seconds / u.size
		seconds %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	if len(parts) == 1 {
		return parts[0]
	} else if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := parts[:len(parts)-1]
	return strings.Join(rest, ", ") + ", and " + last
}
