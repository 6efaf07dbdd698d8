// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exposes link counters and battery telemetry to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

const namespace = "jkbms"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler serving reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Metrics holds link counters and telemetry gauges
type Metrics struct {
	Fragments     prometheus.Counter
	BytesReceived prometheus.Counter
	Messages      *prometheus.CounterVec // labels: record
	ParseErrors   *prometheus.CounterVec // labels: reason=crc|decode|unsupported
	BufferResets  prometheus.Counter
	PollFailures  prometheus.Counter

	BatteryVoltage  prometheus.Gauge
	BatteryCurrent  prometheus.Gauge
	BatteryPower    prometheus.Gauge
	RemainPercent   prometheus.Gauge
	RemainCapacity  prometheus.Gauge
	CycleCount      prometheus.Gauge
	MosfetTemp      prometheus.Gauge
	DeltaVoltage    prometheus.Gauge
	CellVoltage     *prometheus.GaugeVec // labels: cell
	CellResistance  *prometheus.GaugeVec // labels: cell
	Temperature     *prometheus.GaugeVec // labels: sensor
	LastUpdateStamp prometheus.Gauge
}

// New registers and returns the metrics
func New(reg prometheus.Registerer) *Metrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		Fragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Notification fragments received.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Bytes received from the BMS.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Decoded messages by record type.",
		}, []string{"record"}),
		ParseErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_errors_total",
			Help:      "Assembled messages that failed to parse.",
		}, []string{"reason"}),
		BufferResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buffer_resets_total",
			Help:      "Reassembly buffer resets for lack of a header.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Poll cycles that failed after all retries.",
		}),

		BatteryVoltage:  gauge("battery_voltage_volts", "Battery terminal voltage."),
		BatteryCurrent:  gauge("battery_current_amperes", "Battery current, negative when discharging."),
		BatteryPower:    gauge("battery_power_watts", "Battery power."),
		RemainPercent:   gauge("remain_percent", "State of charge."),
		RemainCapacity:  gauge("remain_capacity_amp_hours", "Remaining capacity."),
		CycleCount:      gauge("cycle_count", "Charge cycles."),
		MosfetTemp:      gauge("mosfet_temperature_celsius", "Power MOSFET temperature."),
		DeltaVoltage:    gauge("cell_delta_voltage_volts", "Spread between highest and lowest cell."),
		LastUpdateStamp: gauge("last_update_timestamp_seconds", "Unix time of the last cell data frame."),
		CellVoltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_voltage_volts",
			Help:      "Cell voltage.",
		}, []string{"cell"}),
		CellResistance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_resistance_ohms",
			Help:      "Cell wire resistance.",
		}, []string{"cell"}),
		Temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Battery temperature sensor reading.",
		}, []string{"sensor"}),
	}

	reg.MustRegister(
		m.Fragments, m.BytesReceived, m.Messages, m.ParseErrors, m.BufferResets, m.PollFailures,
		m.BatteryVoltage, m.BatteryCurrent, m.BatteryPower, m.RemainPercent, m.RemainCapacity,
		m.CycleCount, m.MosfetTemp, m.DeltaVoltage, m.LastUpdateStamp,
		m.CellVoltage, m.CellResistance, m.Temperature,
	)
	return m
}

// ObserveFragment counts one received fragment
func (m *Metrics) ObserveFragment(n int) {
	m.Fragments.Inc()
	m.BytesReceived.Add(float64(n))
}

// ObserveParse counts the outcome of parsing one assembled message
func (m *Metrics) ObserveParse(record jkbms.Record, err error) {
	switch {
	case err == nil:
		m.Messages.WithLabelValues(jkbms.FormatRecordType(record.RecordType())).Inc()
	case errors.Is(err, jkbms.ErrBadCRC):
		m.ParseErrors.WithLabelValues("crc").Inc()
	case errors.Is(err, jkbms.ErrUnsupportedRecord):
		m.ParseErrors.WithLabelValues("unsupported").Inc()
	default:
		m.ParseErrors.WithLabelValues("decode").Inc()
	}
}

// ObserveCellData updates the telemetry gauges
func (m *Metrics) ObserveCellData(c *jkbms.CellData, unixSeconds float64) {
	m.BatteryVoltage.Set(c.BatteryVoltage)
	m.BatteryCurrent.Set(c.BatteryCurrent)
	m.BatteryPower.Set(c.BatteryPower)
	m.RemainPercent.Set(float64(c.RemainPercent))
	m.RemainCapacity.Set(c.RemainCapacity)
	m.CycleCount.Set(float64(c.CycleCount))
	m.MosfetTemp.Set(c.MosfetTemperature)
	m.DeltaVoltage.Set(c.DeltaCellVoltage)
	m.LastUpdateStamp.Set(unixSeconds)

	// Drop series of cells that disappeared from the mask
	m.CellVoltage.Reset()
	m.CellResistance.Reset()
	for i, v := range c.CellVoltage {
		m.CellVoltage.WithLabelValues(strconv.Itoa(i + 1)).Set(v)
	}
	for i, r := range c.CellResistance {
		m.CellResistance.WithLabelValues(strconv.Itoa(i + 1)).Set(r)
	}
	for i, t := range c.BatteryTemperature {
		m.Temperature.WithLabelValues(strconv.Itoa(i + 1)).Set(t)
	}
}
