// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ble connects to JK BMS devices over Bluetooth Low Energy and
// exposes the notify/write characteristic as a byte stream.
package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	serviceUUID        = mustParseUUID(jkbms.ServiceUUIDString)
	characteristicUUID = mustParseUUID(jkbms.CharacteristicUUIDString)

	enableOnce sync.Once
	enableErr  error
)

func mustParseUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Device is a scan result advertising the BMS service
type Device struct {
	Address string
	Name    string
	RSSI    int16
}

func adapter() (*bluetooth.Adapter, error) {
	a := bluetooth.DefaultAdapter
	enableOnce.Do(func() {
		enableErr = a.Enable()
	})
	if enableErr != nil {
		return nil, fmt.Errorf("failed to enable bluetooth adapter: %w", enableErr)
	}
	return a, nil
}

// isBMS reports whether an advertisement looks like a JK BMS
func isBMS(name string, hasService bool) bool {
	return hasService || strings.HasPrefix(strings.ToUpper(name), "JK")
}

// Scan reports every BMS seen until timeout or ctx ends.
// Each address is reported once.
func Scan(ctx context.Context, timeout time.Duration, found func(Device)) error {
	a, err := adapter()
	if err != nil {
		return err
	}
	return scan(ctx, a, timeout, func(r bluetooth.ScanResult) bool {
		if !isBMS(r.LocalName(), r.HasServiceUUID(serviceUUID)) {
			return false
		}
		found(Device{Address: r.Address.String(), Name: r.LocalName(), RSSI: r.RSSI})
		return false
	})
}

// scan runs the adapter scan until match returns true, timeout, or ctx ends
func scan(ctx context.Context, a *bluetooth.Adapter, timeout time.Duration, match func(bluetooth.ScanResult) bool) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen := make(map[string]bool)
	done := make(chan error, 1)
	go func() {
		done <- a.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			addr := r.Address.String()
			if seen[addr] {
				return
			}
			seen[addr] = true
			if match(r) {
				a.StopScan()
			}
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		a.StopScan()
		<-done
		if ctx.Err() == context.DeadlineExceeded {
			return nil
		}
		return ctx.Err()
	}
}

// Dial scans for address and connects to its BMS characteristic
func Dial(ctx context.Context, address string, timeout time.Duration) (*Conn, error) {
	a, err := adapter()
	if err != nil {
		return nil, err
	}

	var target *bluetooth.ScanResult
	err = scan(ctx, a, timeout, func(r bluetooth.ScanResult) bool {
		if strings.EqualFold(r.Address.String(), address) {
			target = &r
			return true
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("device %s not found within %s", address, timeout)
	}

	device, err := a.Connect(target.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("service %s not found: %v", jkbms.ServiceUUIDString, err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{characteristicUUID})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("characteristic %s not found: %v", jkbms.CharacteristicUUIDString, err)
	}

	c := &Conn{
		device: device,
		char:   chars[0],
		queue:  newNotifyQueue(),
	}
	if err := c.char.EnableNotifications(c.queue.push); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}
	return c, nil
}

// Conn is a connected BMS characteristic.
// Read returns one notification per call; Write sends a request frame.
type Conn struct {
	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic
	queue  *notifyQueue
}

// Read blocks for the next notification
func (c *Conn) Read(p []byte) (int, error) {
	return c.queue.Read(p)
}

// Write sends p to the characteristic
func (c *Conn) Write(p []byte) (int, error) {
	return c.char.WriteWithoutResponse(p)
}

// Close disconnects the device
func (c *Conn) Close() error {
	c.queue.Close()
	return c.device.Disconnect()
}
