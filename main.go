// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// jkstat - JK BMS Bluetooth Protocol Analyzer
//
// A CLI tool for polling, monitoring and decoding JK BMS battery management
// systems over Bluetooth LE, serial adapters and WebSocket bridges.

package main

import (
	"os"

	"github.com/Thermoquad/jkstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
