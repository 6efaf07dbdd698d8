// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/jkstat/internal/session"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Interactive TUI showing live battery state",
	Long: `Show the state of one BMS in an interactive terminal UI.

The dashboard polls device info and cell data at the configured interval and
shows:
  - Pack voltage, current, power and state of charge
  - Every cell voltage and resistance, highlighting the max and min cells
  - Temperatures, balancer state, cycle count and uptime
  - Link statistics and an event log
  - Automatic reconnection on connection loss

Keys: up/down scroll the cell table, 'p' polls immediately, 'q' quits.

Supports Bluetooth, serial and WebSocket connections.`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var p *tea.Program
	send := func(msg tea.Msg) {
		if p != nil {
			p.Send(msg)
		}
	}

	lm := newLinkManager(OpenConnection, sessionOptions(), func(ev linkEvent) {
		send(linkEventMsg(ev))
	})

	pollNow := make(chan struct{}, 1)
	m := initialDashboardModel(lm, pollNow)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		_ = lm.run(ctx, func(ctx context.Context, sess *session.Session) error {
			return dashboardLoop(ctx, sess, pollNow, send)
		})
	}()

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// dashboardLoop polls on every interval tick and on demand
func dashboardLoop(ctx context.Context, sess *session.Session, pollNow <-chan struct{}, send func(tea.Msg)) error {
	ticker := time.NewTicker(cfg.Poll.Interval)
	defer ticker.Stop()

	for {
		r, err := sess.Poll(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, session.ErrClosed) {
			return sess.Err()
		}
		send(readingMsg{reading: r, err: err, stats: sess.Statistics()})

		select {
		case <-ctx.Done():
			return nil
		case <-sess.Done():
			return sess.Err()
		case <-ticker.C:
		case <-pollNow:
			ticker.Reset(cfg.Poll.Interval)
		}
	}
}
