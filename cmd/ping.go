// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:     "ping",
	Aliases: []string{"ws_ping"},
	Short:   "Measure request round trips with device info requests",
	Long: `Send device info requests and wait for each response.

The BMS only answers a device info request when asked, unlike cell data which
it streams, so each answer measures one full round trip through the link and
any bridge in between.

This is useful for verifying:
  - The link is established (Bluetooth, serial bridge or WebSocket bridge)
  - HTTP Basic authentication works
  - Requests reach the BMS and responses come back intact

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("jkstat - Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sess := session.New(conn, session.Options{
		DataTimeout: time.Duration(pingTimeout) * time.Second,
		FlushAfter:  cfg.Poll.FlushTimeout,
		RequestGap:  100 * time.Millisecond,
		Logger:      logger,
	})
	sess.Start(ctx)

	successCount := 0
	failCount := 0
	var minRTT, maxRTT, totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		info, err := sess.DeviceInfo(ctx)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			continue
		}

		rtt := time.Since(startTime)
		fmt.Printf("%s from %s, uptime=%s, rtt=%v\n",
			jkbms.FormatRecordType(info.RecordType()), info.SerialNumber,
			jkbms.FormatDuration(uint64(info.UpTime)), rtt.Round(time.Millisecond))

		successCount++
		totalRTT += rtt
		if minRTT == 0 || rtt < minRTT {
			minRTT = rtt
		}
		if rtt > maxRTT {
			maxRTT = rtt
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			minRTT.Round(time.Millisecond),
			(totalRTT / time.Duration(successCount)).Round(time.Millisecond),
			maxRTT.Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
