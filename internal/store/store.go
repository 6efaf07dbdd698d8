// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store keeps the latest decoded records and persists them as a
// YAML snapshot so the last known state survives restarts.
package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

// Snapshot is the persisted state
type Snapshot struct {
	Version     int               `yaml:"version"`
	Device      string            `yaml:"device,omitempty"` // BLE address or bridge URL
	DeviceName  string            `yaml:"device_name,omitempty"`
	DeviceInfo  *jkbms.DeviceInfo `yaml:"device_info,omitempty"`
	CellData    *jkbms.CellData   `yaml:"cell_data,omitempty"`
	InfoUpdated time.Time         `yaml:"device_info_updated,omitempty"`
	LastUpdate  time.Time         `yaml:"last_update,omitempty"`
}

const snapshotVersion = 1

// Store holds the latest records. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	snap Snapshot
	now  func() time.Time
}

// New creates an empty store persisted at path. An empty path keeps the
// store in memory only.
func New(path string) *Store {
	return &Store{
		path: path,
		snap: Snapshot{Version: snapshotVersion},
		now:  time.Now,
	}
}

// Open creates a store and loads an existing snapshot from path.
// A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := New(path)
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	if s.snap.Version == 0 {
		s.snap.Version = snapshotVersion
	}
	return s, nil
}

// Save writes the snapshot atomically
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	data, err := yaml.Marshal(&s.snap)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	header := []byte("# jkstat snapshot: last decoded BMS records\n")
	data = append(header, data...)

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// SetDevice records which device the snapshot belongs to
func (s *Store) SetDevice(address, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Device != address {
		s.snap.DeviceInfo = nil
		s.snap.CellData = nil
		s.snap.InfoUpdated = time.Time{}
		s.snap.LastUpdate = time.Time{}
	}
	s.snap.Device = address
	s.snap.DeviceName = name
}

// UpdateDeviceInfo replaces the cached device info
func (s *Store) UpdateDeviceInfo(info *jkbms.DeviceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DeviceInfo = info
	s.snap.InfoUpdated = s.now()
}

// UpdateCellData replaces the cached cell data and bumps the update time
func (s *Store) UpdateCellData(c *jkbms.CellData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CellData = c
	s.snap.LastUpdate = s.now()
}

// Update stores any supported record
func (s *Store) Update(r jkbms.Record) {
	switch v := r.(type) {
	case *jkbms.DeviceInfo:
		s.UpdateDeviceInfo(v)
	case *jkbms.CellData:
		s.UpdateCellData(v)
	}
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// LastUpdateFormatted renders the last cell data time for display
func (s *Store) LastUpdateFormatted() string {
	s.mu.RLock()
	last := s.snap.LastUpdate
	s.mu.RUnlock()
	return FormatLastUpdate(last, s.now())
}

// FormatLastUpdate renders t as "15:04 (5m ago)", or "--" when t is zero
func FormatLastUpdate(t, now time.Time) string {
	if t.IsZero() {
		return "--"
	}

	diff := now.Sub(t)
	var relative string
	switch {
	case diff < time.Minute:
		relative = "just now"
	case diff < time.Hour:
		relative = fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		relative = fmt.Sprintf("%dh ago", int(diff/time.Hour))
	default:
		relative = fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	}

	return fmt.Sprintf("%s (%s)", t.Format("15:04"), relative)
}
