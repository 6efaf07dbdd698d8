// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/jkstat/internal/config"
	"github.com/Thermoquad/jkstat/internal/metrics"
	"github.com/Thermoquad/jkstat/internal/store"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestEndpoints(t *testing.T) {
	st := store.New("")
	st.SetDevice("C8:47:8C:00:11:22", "JK-SIM")
	reg := metrics.NewRegistry()
	metrics.New(reg)

	srv := New(config.HTTPConfig{Addr: ":0"}, st, func() Status {
		return Status{Connected: true, Messages: 3}
	}, "/metrics", metrics.Handler(reg))
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/cell-data").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/device-info").Code)

	st.UpdateDeviceInfo(&jkbms.DeviceInfo{DeviceModel: "JK_B2A16S20P"})
	st.UpdateCellData(&jkbms.CellData{CellVoltage: []float64{3.301, 3.302}, RemainPercent: 80})

	rr := get(t, h, "/api/v1/cell-data")
	require.Equal(t, http.StatusOK, rr.Code)
	var cells jkbms.CellData
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cells))
	assert.Equal(t, []float64{3.301, 3.302}, cells.CellVoltage)
	assert.Equal(t, uint8(80), cells.RemainPercent)

	rr = get(t, h, "/api/v1/device-info")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"device_model":"JK_B2A16S20P"`)

	rr = get(t, h, "/api/v1/status")
	require.Equal(t, http.StatusOK, rr.Code)
	var status Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.True(t, status.Connected)
	assert.Equal(t, "C8:47:8C:00:11:22", status.Device)
	assert.Equal(t, uint64(3), status.Messages)
	assert.Contains(t, status.Updated, "just now")

	rr = get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "jkbms_fragments_total")
}
