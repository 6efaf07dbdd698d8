// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw link stability",
	Long: `Watch the link for a fixed duration, logging every fragment received.

One cell data request is sent at the start (unless --passive) so a BMS starts
streaming; after that the command only listens. Fragments are fed through the
reassembler so the summary shows how many complete messages arrived and how
many bytes had to be dropped to resynchronize.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLinkTest,
}

var (
	linkTestDuration int
	linkTestPassive  bool
)

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
	linkTestCmd.Flags().BoolVar(&linkTestPassive, "passive", false, "Do not send a request")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Link Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
		}
	}()

	if !linkTestPassive {
		if _, err := conn.Write(jkbms.CellDataRequest()); err != nil {
			fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
			os.Exit(2)
		}
	}

	start := time.Now()
	endTime := start.Add(time.Duration(linkTestDuration) * time.Second)
	asm := jkbms.NewAssembler()
	stats := jkbms.NewStatistics()
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	fmt.Printf("Listening for data...\n\n")

	summary := func(result string) {
		stats.SyncAssembler(asm)
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Second))
		fmt.Printf("Fragments received: %d\n", stats.Fragments)
		fmt.Printf("Bytes received: %d\n", stats.Bytes)
		fmt.Printf("Messages reassembled: %d (%d valid)\n", stats.TotalMessages, stats.ValidMessages)
		fmt.Printf("Bytes dropped: %d in %d resets\n", stats.DiscardedBytes, stats.BufferResets)
		fmt.Printf("Result: %s\n", result)
	}

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			stats.AddFragment(len(data))
			fmt.Printf("[%s] Received %d bytes: %x\n",
				time.Now().Format("15:04:05.000"), len(data), data)
			for _, msg := range asm.Feed(data) {
				record, err := jkbms.ParseMessage(msg)
				stats.Update(record, err, nil)
				fmt.Printf("[%s] Message: %s, %d bytes, valid=%t\n",
					time.Now().Format("15:04:05.000"), jkbms.FormatRecordType(jkbms.NewMessage(msg).RecordType()), len(msg), jkbms.ValidateResponse(msg))
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			summary("FAILED (connection error)")
			os.Exit(1)

		case <-heartbeat.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	summary("PASSED (connection stable)")
	return nil
}
