// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/jkstat/internal/config"
	"github.com/Thermoquad/jkstat/internal/logging"
)

// Version is the jkstat release
const Version = "1.0.0"

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Bluetooth connection flags
	bleAddress string

	cfg    = config.Default()
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "jkstat",
	Short: "JK BMS Protocol Analyzer",
	Long: `jkstat - A CLI tool for polling and analyzing JK battery management systems.

Requests device information and cell data, reassembles the notification
fragments into protocol messages and decodes them. Also provides raw message
logging, link diagnostics, a long-running poller with an HTTP API and a
simulated BMS for testing.

Connection modes:
  Bluetooth: --ble C8:47:8C:00:00:01
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the JKSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./jkstat.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); empty disables logging")

	// Bluetooth connection flags
	rootCmd.PersistentFlags().StringVar(&bleAddress, "ble", "", "BMS Bluetooth address")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// loadConfig reads the config file and applies explicitly set flags on top
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, loaded)

	l, err := logging.New(loaded.Logging)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}

	cfg = loaded
	logger = l
	return nil
}

func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("ble") {
		c.Connection.BLE = bleAddress
	}
	if flags.Changed("port") {
		c.Connection.Port = portName
	}
	if flags.Changed("baud") {
		c.Connection.Baud = baudRate
	}
	if flags.Changed("url") {
		c.Connection.URL = wsURL
	}
	if flags.Changed("username") {
		c.Connection.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		c.Connection.NoSSLVerify = wsNoSSLVerify
	}
}

// Execute runs the root command
func Execute() error {
	defer func() { _ = logger.Sync() }()
	return rootCmd.Execute()
}
