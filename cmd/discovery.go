// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/internal/ble"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	discoveryTimeout int
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover JK BMS devices over Bluetooth",
	Long: `Scan for Bluetooth LE devices that look like a JK BMS.

A device matches when it advertises the JK GATT service or its name starts
with "JK". Each match is printed as it is found, followed by a summary sorted
by signal strength. Pass an address to --ble to connect to one of them.

Examples:
  jkstat discovery --timeout 10
  jkstat raw_log --ble C8:47:8C:00:00:01

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices)
  2 - Bluetooth adapter error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 5, "Scan duration in seconds")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	fmt.Printf("jkstat - Device Discovery\n")
	fmt.Printf("Service: %s\n", jkbms.ServiceUUID())
	fmt.Printf("Timeout: %d seconds\n\n", discoveryTimeout)

	var mu sync.Mutex
	devices := make(map[string]ble.Device)

	err := ble.Scan(cmd.Context(), time.Duration(discoveryTimeout)*time.Second, func(d ble.Device) {
		mu.Lock()
		defer mu.Unlock()
		devices[d.Address] = d
		fmt.Printf("Device found:\n")
		fmt.Printf("  Address: %s\n", d.Address)
		fmt.Printf("  Name: %s\n", d.Name)
		fmt.Printf("  RSSI: %d dBm\n\n", d.RSSI)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bluetooth error: %v\n", err)
		os.Exit(2)
	}

	mu.Lock()
	found := make([]ble.Device, 0, len(devices))
	for _, d := range devices {
		found = append(found, d)
	}
	mu.Unlock()
	sort.Slice(found, func(i, j int) bool { return found[i].RSSI > found[j].RSSI })

	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(found))
	for _, d := range found {
		fmt.Printf("  %-17s  %4d dBm  %s\n", d.Address, d.RSSI, d.Name)
	}

	if len(found) == 0 {
		fmt.Printf("No devices discovered. Check that the BMS is powered and not connected elsewhere.\n")
		os.Exit(1)
	}

	return nil
}
