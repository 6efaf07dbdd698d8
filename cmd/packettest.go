// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid JK BMS response",
	Long: `Send a cell data request and wait for a valid response until timeout.

This command connects over Bluetooth, serial or WebSocket, sends one cell data
request and waits for a complete response message that passes the checksum.
Bytes that do not belong to a message are skipped.

Exit codes:
  0 - Response received before timeout
  1 - Timeout reached without receiving a valid response
  2 - Connection error

Useful for testing connectivity to a BMS or a WebSocket bridge.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a response")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	timeout := time.Duration(packetTestTimeout) * time.Second

	fmt.Printf("jkstat - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid response...\n\n")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sess := session.New(conn, session.Options{
		DataTimeout: timeout,
		FlushAfter:  cfg.Poll.FlushTimeout,
		Logger:      logger,
	})
	sess.Start(ctx)

	start := time.Now()
	c, err := sess.CellData(ctx)
	stats := sess.Statistics()

	switch {
	case err == nil:
		if stats.DiscardedBytes > 0 {
			fmt.Printf("(skipped %d bytes before sync)\n", stats.DiscardedBytes)
		}
		fmt.Printf("SUCCESS: Received valid response in %v\n", time.Since(start).Round(time.Millisecond))
		fmt.Printf("  Record: %s (0x%02X)\n", jkbms.FormatRecordType(c.RecordType()), c.RecordType())
		fmt.Printf("  Cells: %d\n", len(c.CellVoltage))
		fmt.Printf("  Battery: %.3f V, SOC %d%%\n", c.BatteryVoltage, c.RemainPercent)
		fmt.Printf("  Fragments: %d (%d bytes)\n", stats.Fragments, stats.Bytes)
		os.Exit(0)

	case errors.Is(err, session.ErrTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid response received within %d seconds\n", packetTestTimeout)
		if stats.CRCErrors > 0 || stats.DecodeErrors > 0 {
			fmt.Fprintf(os.Stderr, "  %d CRC errors, %d decode errors\n", stats.CRCErrors, stats.DecodeErrors)
		}
		os.Exit(1)

	default:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)
	}

	return nil
}
