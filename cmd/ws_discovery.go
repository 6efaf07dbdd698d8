// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/internal/discovery"
	"github.com/Thermoquad/jkstat/internal/session"
)

var (
	wsDiscoveryTimeout int
	wsDiscoveryVerify  bool
)

var wsDiscoveryCmd = &cobra.Command{
	Use:   "ws_discovery",
	Short: "Find WebSocket BLE bridges via mDNS",
	Long: `Browse the local network for WebSocket bridges that forward a JK BMS.

Bridges advertise the _jkbms._tcp service with TXT records:
  path=/ws      WebSocket path
  tls=1         use wss://
  serial=...    serial number of the bridged BMS

With --verify each bridge is connected and asked for device info, which
verifies the handshake end to end.

Exit codes:
  0 - Discovery successful (at least one bridge found)
  1 - Discovery failed (no bridges, or no bridge answered the check)
  2 - Network error`,
	RunE: runWsDiscovery,
}

func init() {
	rootCmd.AddCommand(wsDiscoveryCmd)
	wsDiscoveryCmd.Flags().IntVar(&wsDiscoveryTimeout, "timeout", 5, "Timeout in seconds for discovery")
	wsDiscoveryCmd.Flags().BoolVar(&wsDiscoveryVerify, "verify", false, "Request device info from each bridge")
}

func runWsDiscovery(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(wsDiscoveryTimeout) * time.Second
	if !cmd.Flags().Changed("timeout") && cfg.Discovery.Timeout > 0 {
		timeout = cfg.Discovery.Timeout
	}

	fmt.Printf("jkstat - Bridge Discovery\n")
	fmt.Printf("Service: %s.%s\n", cfg.Discovery.Service, cfg.Discovery.Domain)
	fmt.Printf("Timeout: %v\n\n", timeout)

	bridges, err := discovery.Browse(cmd.Context(), cfg.Discovery.Service, cfg.Discovery.Domain, timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Discovery error: %v\n", err)
		os.Exit(2)
	}

	answered := 0
	for _, b := range bridges {
		fmt.Printf("Bridge found:\n")
		fmt.Printf("  Instance: %s\n", b.Instance)
		fmt.Printf("  Host: %s\n", b.Host)
		fmt.Printf("  URL: %s\n", b.URL())
		if b.Serial != "" {
			fmt.Printf("  Serial: %s\n", b.Serial)
		}

		if wsDiscoveryVerify {
			if err := verifyBridge(cmd.Context(), b); err != nil {
				fmt.Printf("  Verify: FAILED (%v)\n", err)
			} else {
				answered++
			}
		}
		fmt.Println()
	}

	fmt.Printf("--- Discovery summary ---\n")
	fmt.Printf("Bridges found: %d\n", len(bridges))
	if wsDiscoveryVerify {
		fmt.Printf("Bridges answering: %d\n", answered)
	}

	if len(bridges) == 0 || (wsDiscoveryVerify && answered == 0) {
		fmt.Printf("No usable bridges discovered. Check that the bridge is running and advertising.\n")
		os.Exit(1)
	}

	return nil
}

// verifyBridge requests device info through a bridge
func verifyBridge(ctx context.Context, b *discovery.Bridge) error {
	c := cfg.Connection
	password := c.Password
	if c.Username != "" && password == "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	conn, err := OpenWebSocketConnection(ctx, b.URL(), c.Username, password, c.NoSSLVerify)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(conn, session.Options{
		DataTimeout: cfg.Poll.DataTimeout,
		FlushAfter:  cfg.Poll.FlushTimeout,
		Logger:      logger,
	})
	sess.Start(ctx)

	info, err := sess.DeviceInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  Verify: %s %s (HW %s, SW %s)\n", info.DeviceModel, info.SerialNumber, info.HardwareVersion, info.SoftwareVersion)
	return nil
}
