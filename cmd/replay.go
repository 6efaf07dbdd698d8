// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/pkg/capture"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	replayShowTX    bool
	replayStats     bool
	replayRealtime  bool
	replayFlushIdle time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture-file>",
	Short: "Decode a capture file recorded by raw_log or poll",
	Long: `Feed the fragments of a capture file through the reassembler and print
every message, exactly as they would have been decoded live.

Fragments that arrive after a gap longer than --flush-idle flush the buffer
first, the same way a live session flushes a lone frame when the link goes
quiet.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().BoolVar(&replayShowTX, "show-tx", false, "Print transmitted requests")
	replayCmd.Flags().BoolVar(&replayStats, "stats", true, "Print statistics at the end")
	replayCmd.Flags().BoolVar(&replayRealtime, "realtime", false, "Replay with the recorded timing")
	replayCmd.Flags().DurationVar(&replayFlushIdle, "flush-idle", 2*time.Second, "Idle gap that flushes a buffered frame")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	stats, err := replay(capture.NewReader(f), os.Stdout)
	if err != nil {
		return err
	}
	if replayStats {
		fmt.Println()
		fmt.Print(stats.String())
	}
	return nil
}

// replay decodes every entry of r and writes the formatted messages to out
func replay(r *capture.Reader, out io.Writer) (*jkbms.Statistics, error) {
	asm := jkbms.NewAssembler()
	stats := jkbms.NewStatistics()
	var last time.Time

	emit := func(raw []byte, at time.Time) {
		record, err := jkbms.ParseMessage(raw)
		anomalies := jkbms.ValidateMessage(raw)
		stats.Update(record, err, anomalies)
		fmt.Fprint(out, jkbms.FormatMessage(jkbms.NewMessageAt(raw, at)))
		for _, a := range anomalies {
			fmt.Fprintf(out, "  Anomaly: %s: %s\n", a.Type, a.Message)
		}
	}

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read capture: %w", err)
		}

		at := e.Time()
		if !last.IsZero() {
			gap := at.Sub(last)
			if replayRealtime && gap > 0 {
				time.Sleep(gap)
			}
			if gap > replayFlushIdle && asm.Buffered() > 0 {
				if raw, ok := asm.Flush(); ok {
					emit(raw, last)
				}
			}
		}
		last = at

		if e.Dir == capture.DirTX {
			if replayShowTX {
				fmt.Fprint(out, jkbms.FormatMessage(jkbms.NewMessageAt(e.Data, at)))
			}
			continue
		}

		stats.AddFragment(len(e.Data))
		for _, raw := range asm.Feed(e.Data) {
			emit(raw, at)
		}
		stats.SyncAssembler(asm)
	}

	if raw, ok := asm.Flush(); ok {
		emit(raw, last)
	}
	stats.SyncAssembler(asm)
	return stats, nil
}
