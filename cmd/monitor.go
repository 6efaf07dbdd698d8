// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	showAll        bool
	statsInterval  int
	useTUI         bool
	monitorPassive bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Detect and analyze malformed messages and link errors",
	Long: `Track message errors, resynchronization and protocol anomalies with statistics.

This command polls the BMS and validates each reassembled message, detecting:
  - Checksum errors and decode failures
  - Length mismatches and unknown record types
  - Cell data anomalies (empty cell mask, max/min cell outside the mask)
  - Statistics and trends (message rate, error rate, bytes dropped on resync)

By default, only errors are displayed. Use --show-all to display valid messages too.

Messages are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all messages (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
	monitorCmd.Flags().BoolVar(&monitorPassive, "passive", false, "Do not send requests, only listen")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(ctx, conn, connInfo)
	}
	return runTextMode(ctx, conn, connInfo)
}

func monitorOptions(onMessage func(*session.Message)) session.Options {
	opts := sessionOptions()
	opts.OnMessage = onMessage
	return opts
}

// startPolling requests device info and cell data every poll interval
// unless the monitor is passive
func startPolling(ctx context.Context, sess *session.Session, onResult session.Handler) {
	if monitorPassive {
		return
	}
	go func() {
		_ = sess.Run(ctx, cfg.Poll.Interval, onResult)
	}()
}

// printDecodeError prints a parse failure in highlighted format
func printDecodeError(m *session.Message) {
	timestamp := m.Time.Format("15:04:05.000")
	label := "DECODE ERROR"
	if errors.Is(m.Err, jkbms.ErrBadCRC) {
		label = "CRC ERROR"
	}
	fmt.Printf("[%s] \033[1;31m%s:\033[0m %v\n", timestamp, label, m.Err)
	fmt.Printf("  %s\n", jkbms.FormatHex(m.Raw))
	for i, a := range m.Anomalies {
		fmt.Printf("  Issue %d: %s: %s\n", i+1, a.Type, a.Message)
	}
	fmt.Printf("  >>> MESSAGE REJECTED <<<\n\n")
}

// printValidationErrors prints the anomalies of a message
func printValidationErrors(m *session.Message) {
	timestamp := m.Time.Format("15:04:05.000")
	msg := jkbms.NewMessageAt(m.Raw, m.Time)

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) frame=%d\n",
		timestamp, jkbms.FormatRecordType(msg.RecordType()), msg.RecordType(), msg.FrameCounter())
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range m.Anomalies {
		switch err.Type {
		case jkbms.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if length, ok := err.Details["length"].(int); ok {
				if expected, ok := err.Details["expected"].(int); ok {
					fmt.Printf("    Length: received=%d, expected=%d\n", length, expected)
				}
			}

		case jkbms.AnomalyCellIndex, jkbms.AnomalyEmptyCellMask:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if mask, ok := err.Details["mask"].(uint32); ok {
				fmt.Printf("    Cell mask: %032b\n", mask)
			}

		case jkbms.AnomalyInvalidValue, jkbms.AnomalyDecodeError:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  >>> MESSAGE FLAGGED <<<\n\n")
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(ctx context.Context, conn Connection, connInfo string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var p *tea.Program
	sess := session.New(conn, monitorOptions(func(m *session.Message) {
		p.Send(messageMsg{msg: m})
	}))

	m := initialModel(connInfo, statsInterval, showAll, sess.Statistics)
	p = tea.NewProgram(m, tea.WithContext(ctx))

	sess.Start(ctx)
	startPolling(ctx, sess, func(r *session.Reading, err error) {
		p.Send(pollMsg{reading: r, err: err})
	})
	go func() {
		<-sess.Done()
		p.Send(linkClosedMsg{err: sess.Err()})
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(ctx context.Context, conn Connection, connInfo string) error {
	fmt.Printf("jkstat - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All messages\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	messages := make(chan *session.Message, 16)
	sess := session.New(conn, monitorOptions(func(m *session.Message) {
		select {
		case messages <- m:
		case <-ctx.Done():
		}
	}))
	sess.Start(ctx)
	startPolling(ctx, sess, func(r *session.Reading, err error) {
		if err != nil {
			fmt.Printf("[%s] \033[1;31mPOLL FAILED:\033[0m %v\n\n", time.Now().Format("15:04:05.000"), err)
		}
	})

	synchronized := false

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case m := <-messages:
			if m.Err != nil && !errors.Is(m.Err, jkbms.ErrUnsupportedRecord) {
				printDecodeError(m)
				continue
			}

			if !synchronized {
				synchronized = true
				if skipped := sess.Statistics().DiscardedBytes; skipped > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d bytes\n\n", skipped)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}

			if len(m.Anomalies) > 0 {
				printValidationErrors(m)
			} else if showAll {
				fmt.Print(jkbms.FormatMessage(jkbms.NewMessageAt(m.Raw, m.Time)))
			}

		case <-statsTicker.C:
			stats := sess.Statistics()
			stats.CalculateRates()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-sess.Done():
			if err := sess.Err(); err != nil && !isClosed(err) {
				return err
			}
			fmt.Printf("Connection closed\n")
			return nil

		case <-ctx.Done():
			return nil
		}
	}
}
