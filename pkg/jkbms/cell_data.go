// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package jkbms

import (
	"fmt"
	"math"
)

// CellData field offsets
const (
	offCellVoltage     = 6
	offCellMask        = 70
	offAverageVoltage  = 74
	offDeltaVoltage    = 76
	offMaxVoltageCell  = 78
	offMinVoltageCell  = 79
	offCellResistance  = 80
	offMosfetTemp      = 144
	offBatteryVoltage  = 150
	offBatteryPower    = 154
	offBatteryCurrent  = 158
	offTemperature1    = 162
	offTemperature2    = 164
	offBalanceCurrent  = 170
	offBalancingAction = 172
	offRemainPercent   = 173
	offRemainCapacity  = 174
	offNominalCapacity = 178
	offCycleCount      = 182
	offCycleCapacity   = 186
	offStateOfHealth   = 190
	offCellUpTime      = 194
	offTemperature3    = 254
	offTemperature4    = 256
)

var temperatureOffsets = [TemperatureSensors]int{offTemperature1, offTemperature2, offTemperature3, offTemperature4}

// CellData is the live telemetry carried by record type 0x02.
// Physical quantities are in volts, amperes, watts, ohms, degrees Celsius,
// and ampere-hours.
type CellData struct {
	CellVoltage        []float64       `json:"cell_voltage" yaml:"cell_voltage"`
	AverageCellVoltage float64         `json:"average_cell_voltage" yaml:"average_cell_voltage"`
	DeltaCellVoltage   float64         `json:"delta_cell_voltage" yaml:"delta_cell_voltage"`
	MaxVoltageCell     uint8           `json:"max_voltage_cell" yaml:"max_voltage_cell"`
	MinVoltageCell     uint8           `json:"min_voltage_cell" yaml:"min_voltage_cell"`
	BalanceCurrent     float64         `json:"balance_current" yaml:"balance_current"`
	BalancingAction    BalancingAction `json:"balancing_action" yaml:"balancing_action"`
	CellResistance     []float64       `json:"cell_resistance" yaml:"cell_resistance"`
	BatteryVoltage     float64         `json:"battery_voltage" yaml:"battery_voltage"`
	BatteryPower       float64         `json:"battery_power" yaml:"battery_power"`
	BatteryCurrent     float64         `json:"battery_current" yaml:"battery_current"`
	BatteryTemperature []float64       `json:"battery_temperature" yaml:"battery_temperature"`
	MosfetTemperature  float64         `json:"mosfet_temperature" yaml:"mosfet_temperature"`
	RemainPercent      uint8           `json:"remain_percent" yaml:"remain_percent"`
	RemainCapacity     float64         `json:"remain_capacity" yaml:"remain_capacity"`
	NominalCapacity    float64         `json:"nominal_capacity" yaml:"nominal_capacity"`
	CycleCount         uint32          `json:"cycle_count" yaml:"cycle_count"`
	CycleCapacity      float64         `json:"cycle_capacity" yaml:"cycle_capacity"`
	StateOfHealth      uint8           `json:"state_of_health" yaml:"state_of_health"`
	UpTime             uint32          `json:"up_time" yaml:"up_time"` // seconds since power on
}

// RecordType implements Record
func (c *CellData) RecordType() uint8 {
	return RecordTypeCellData
}

// CellMask returns the enabled-cell bitmask of a cell data payload
func CellMask(data []byte) (uint32, error) {
	if err := checkRecord(data, RecordTypeCellData); err != nil {
		return 0, err
	}
	return getU32(data, offCellMask), nil
}

// DecodeCellData decodes a cell data response.
// data is the complete response including header, excluding the trailing
// checksum byte.
func DecodeCellData(data []byte) (*CellData, error) {
	if err := checkRecord(data, RecordTypeCellData); err != nil {
		return nil, err
	}

	percent := data[offRemainPercent]
	if percent > 100 {
		return nil, invalidData("remain percent %d exceeds 100", percent)
	}

	c := &CellData{
		AverageCellVoltage: float64(getU16(data, offAverageVoltage)) / scaleMilli,
		DeltaCellVoltage:   float64(getU16(data, offDeltaVoltage)) / scaleMilli,
		MaxVoltageCell:     data[offMaxVoltageCell],
		MinVoltageCell:     data[offMinVoltageCell],
		MosfetTemperature:  float64(getI16(data, offMosfetTemp)) / scaleDeci,
		BatteryVoltage:     float64(getU32(data, offBatteryVoltage)) / scaleMilli,
		BatteryPower:       float64(getU32(data, offBatteryPower)) / scaleMilli,
		BatteryCurrent:     float64(getI32(data, offBatteryCurrent)) / scaleMilli,
		BalanceCurrent:     float64(getI16(data, offBalanceCurrent)) / scaleMilli,
		BalancingAction:    BalancingAction(data[offBalancingAction]),
		RemainPercent:      percent,
		RemainCapacity:     float64(getI32(data, offRemainCapacity)) / scaleMilli,
		NominalCapacity:    float64(getI32(data, offNominalCapacity)) / scaleMilli,
		CycleCount:         getU32(data, offCycleCount),
		CycleCapacity:      float64(getU32(data, offCycleCapacity)) / scaleMilli,
		StateOfHealth:      data[offStateOfHealth],
		UpTime:             getU32(data, offCellUpTime),
	}

	mask := getU32(data, offCellMask)
	c.CellVoltage = make([]float64, 0, MaxCells)
	c.CellResistance = make([]float64, 0, MaxCells)
	for i := 0; i < MaxCells; i++ {
		if mask&(1<<uint(i)) == 0 {
			continue
		}
		c.CellVoltage = append(c.CellVoltage, float64(getU16(data, offCellVoltage+2*i))/scaleMilli)
		c.CellResistance = append(c.CellResistance, float64(getU16(data, offCellResistance+2*i))/scaleMilli)
	}

	c.BatteryTemperature = make([]float64, TemperatureSensors)
	for i, off := range temperatureOffsets {
		c.BatteryTemperature[i] = float64(getI16(data, off)) / scaleDeci
	}

	return c, nil
}

// EncodeCellData builds a complete signed cell data frame.
// Cells occupy the lowest slots; CellResistance may be shorter than
// CellVoltage, missing entries encode as zero.
func EncodeCellData(c *CellData) ([]byte, error) {
	if len(c.CellVoltage) > MaxCells {
		return nil, fmt.Errorf("too many cells: %d (max %d)", len(c.CellVoltage), MaxCells)
	}
	if len(c.CellResistance) > len(c.CellVoltage) {
		return nil, fmt.Errorf("more resistances (%d) than cells (%d)", len(c.CellResistance), len(c.CellVoltage))
	}
	if len(c.BatteryTemperature) > TemperatureSensors {
		return nil, fmt.Errorf("too many temperatures: %d (max %d)", len(c.BatteryTemperature), TemperatureSensors)
	}
	if c.RemainPercent > 100 {
		return nil, fmt.Errorf("remain percent %d exceeds 100", c.RemainPercent)
	}

	frame := newFrame(RecordTypeCellData)
	enc := &fieldEncoder{frame: frame}

	for i, v := range c.CellVoltage {
		enc.u16(fmt.Sprintf("cell %d voltage", i+1), offCellVoltage+2*i, v, scaleMilli)
	}
	for i, v := range c.CellResistance {
		enc.u16(fmt.Sprintf("cell %d resistance", i+1), offCellResistance+2*i, v, scaleMilli)
	}
	putU32(frame, offCellMask, uint32((uint64(1)<<uint(len(c.CellVoltage)))-1))

	enc.u16("average cell voltage", offAverageVoltage, c.AverageCellVoltage, scaleMilli)
	enc.u16("delta cell voltage", offDeltaVoltage, c.DeltaCellVoltage, scaleMilli)
	frame[offMaxVoltageCell] = c.MaxVoltageCell
	frame[offMinVoltageCell] = c.MinVoltageCell
	enc.i16("mosfet temperature", offMosfetTemp, c.MosfetTemperature, scaleDeci)
	enc.u32("battery voltage", offBatteryVoltage, c.BatteryVoltage, scaleMilli)
	enc.u32("battery power", offBatteryPower, c.BatteryPower, scaleMilli)
	enc.i32("battery current", offBatteryCurrent, c.BatteryCurrent, scaleMilli)
	for i, v := range c.BatteryTemperature {
		enc.i16(fmt.Sprintf("temperature %d", i+1), temperatureOffsets[i], v, scaleDeci)
	}
	enc.i16("balance current", offBalanceCurrent, c.BalanceCurrent, scaleMilli)
	frame[offBalancingAction] = uint8(c.BalancingAction)
	frame[offRemainPercent] = c.RemainPercent
	enc.i32("remain capacity", offRemainCapacity, c.RemainCapacity, scaleMilli)
	enc.i32("nominal capacity", offNominalCapacity, c.NominalCapacity, scaleMilli)
	putU32(frame, offCycleCount, c.CycleCount)
	enc.u32("cycle capacity", offCycleCapacity, c.CycleCapacity, scaleMilli)
	frame[offStateOfHealth] = c.StateOfHealth
	putU32(frame, offCellUpTime, c.UpTime)

	if enc.err != nil {
		return nil, enc.err
	}
	return signFrame(frame), nil
}

// fieldEncoder writes scaled fields and keeps the first range error
type fieldEncoder struct {
	frame []byte
	err   error
}

func (e *fieldEncoder) put(name string, v, scale float64, lo, hi int64) (int64, bool) {
	if e.err != nil {
		return 0, false
	}
	raw, err := fixedPoint(name, v, scale, lo, hi)
	if err != nil {
		e.err = err
		return 0, false
	}
	return raw, true
}

func (e *fieldEncoder) u16(name string, off int, v, scale float64) {
	if raw, ok := e.put(name, v, scale, 0, math.MaxUint16); ok {
		putU16(e.frame, off, uint16(raw))
	}
}

func (e *fieldEncoder) i16(name string, off int, v, scale float64) {
	if raw, ok := e.put(name, v, scale, math.MinInt16, math.MaxInt16); ok {
		putU16(e.frame, off, uint16(int16(raw)))
	}
}

func (e *fieldEncoder) u32(name string, off int, v, scale float64) {
	if raw, ok := e.put(name, v, scale, 0, math.MaxUint32); ok {
		putU32(e.frame, off, uint32(raw))
	}
}

func (e *fieldEncoder) i32(name string, off int, v, scale float64) {
	if raw, ok := e.put(name, v, scale, math.MinInt32, math.MaxInt32); ok {
		putU32(e.frame, off, uint32(int32(raw)))
	}
}
