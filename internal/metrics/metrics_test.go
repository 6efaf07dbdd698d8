// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

func TestObserveParse(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveParse(&jkbms.CellData{}, nil)
	m.ObserveParse(&jkbms.CellData{}, nil)
	m.ObserveParse(nil, jkbms.ErrBadCRC)
	m.ObserveParse(nil, fmt.Errorf("%w: settings", jkbms.ErrUnsupportedRecord))
	m.ObserveParse(nil, jkbms.ErrNotEnoughData)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Messages.WithLabelValues("CELL_DATA")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("crc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("unsupported")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors.WithLabelValues("decode")))
}

func TestObserveCellData(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveCellData(&jkbms.CellData{
		CellVoltage:        []float64{3.3, 3.31, 3.32},
		BatteryTemperature: []float64{20, 21, 22, 23},
		BatteryVoltage:     9.93,
		RemainPercent:      55,
	}, 1700000000)
	assert.Equal(t, 3, testutil.CollectAndCount(m.CellVoltage))
	assert.Equal(t, 9.93, testutil.ToFloat64(m.BatteryVoltage))

	m.ObserveCellData(&jkbms.CellData{CellVoltage: []float64{3.3}}, 1700000015)
	assert.Equal(t, 1, testutil.CollectAndCount(m.CellVoltage), "stale cells are dropped")
	assert.Equal(t, 1700000015.0, testutil.ToFloat64(m.LastUpdateStamp))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ObserveFragment(128)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "jkbms_bytes_received_total 128"))
	assert.Contains(t, body, "go_goroutines")
}
