// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/jkstat/pkg/capture"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	rawLogPassive bool
	rawLogCapture string
	rawLogShowRaw bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw message log in human-readable format",
	Long: `Continuously reassemble and display JK BMS messages as they arrive.

On connect a device info request and a cell data request are sent; the BMS
then streams cell data on its own. Each reassembled message is shown with
timestamp, record type, frame counter and the decoded fields.

Use --passive to only listen, and --capture to record every fragment to a
file that the replay command can read back.

Supports Bluetooth, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogPassive, "passive", false, "Do not send requests, only listen")
	rawLogCmd.Flags().StringVar(&rawLogCapture, "capture", "", "Record fragments to this capture file")
	rawLogCmd.Flags().BoolVar(&rawLogShowRaw, "hex", false, "Print every message as hex")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var recorder *capture.Writer
	if rawLogCapture != "" {
		f, err := os.Create(rawLogCapture)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()
		recorder = capture.NewWriter(f)
		logger.Info("capturing", zap.String("file", rawLogCapture), zap.Stringer("session", recorder.Session()))
	}

	fmt.Printf("jkstat - Raw Message Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if !rawLogPassive {
		for _, req := range [][]byte{jkbms.DeviceInfoRequest(), jkbms.CellDataRequest()} {
			if recorder != nil {
				_ = recorder.Record(capture.DirTX, req)
			}
			if _, err := conn.Write(req); err != nil {
				return fmt.Errorf("failed to send request: %w", err)
			}
			time.Sleep(cfg.Poll.RequestGap)
		}
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	asm := jkbms.NewAssembler()
	buf := make([]byte, 512)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if recorder != nil {
				if cerr := recorder.Record(capture.DirRX, buf[:n]); cerr != nil {
					logger.Warn("capture failed", zap.Error(cerr))
				}
			}
			for _, msg := range asm.Feed(buf[:n]) {
				printMessage(msg)
			}
		}
		if err != nil {
			if ctx.Err() != nil || isClosed(err) {
				if msg, ok := asm.Flush(); ok {
					printMessage(msg)
				}
				fmt.Printf("Connection closed\n")
				return nil
			}
			logger.Warn("read error", zap.Error(err))
			continue
		}
	}
}

func printMessage(raw []byte) {
	m := jkbms.NewMessage(raw)
	fmt.Print(jkbms.FormatMessage(m))
	if rawLogShowRaw {
		fmt.Printf("  %s\n", jkbms.FormatHex(raw))
	}
}
