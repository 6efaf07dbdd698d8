// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/jkstat/internal/httpapi"
	"github.com/Thermoquad/jkstat/internal/metrics"
	"github.com/Thermoquad/jkstat/internal/session"
	"github.com/Thermoquad/jkstat/internal/store"
	"github.com/Thermoquad/jkstat/pkg/capture"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

var (
	pollOnce     bool
	pollInterval time.Duration
	pollHTTP     string
	pollNoHTTP   bool
	pollCapture  string
	pollQuiet    bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll the BMS periodically and serve the latest readings",
	Long: `Request device info once per connection and cell data every interval.

Each reading is printed, stored in the snapshot cache and exported as
Prometheus metrics. An HTTP API serves the latest state:

  GET /healthz
  GET /api/v1/status
  GET /api/v1/cell-data
  GET /api/v1/device-info
  GET /metrics

A dropped link is redialed with exponential backoff. Use --once to take a
single reading and exit.`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "Take one reading, print it and exit")
	pollCmd.Flags().DurationVar(&pollInterval, "interval", 0, "Poll interval (default from config)")
	pollCmd.Flags().StringVar(&pollHTTP, "http", "", "HTTP listen address (default from config)")
	pollCmd.Flags().BoolVar(&pollNoHTTP, "no-http", false, "Do not start the HTTP API")
	pollCmd.Flags().StringVar(&pollCapture, "capture", "", "Record fragments to this capture file")
	pollCmd.Flags().BoolVarP(&pollQuiet, "quiet", "q", false, "Do not print readings")
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pollInterval > 0 {
		cfg.Poll.Interval = pollInterval
	}
	if pollHTTP != "" {
		cfg.HTTP.Addr = pollHTTP
	}

	if pollOnce {
		return pollSingle(ctx)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	st.SetDevice(connectionTarget(cfg.Connection), "")

	opts := sessionOptions()
	opts.OnRecord = st.Update

	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		opts.Metrics = metrics.New(reg)
		metricsHandler = metrics.Handler(reg)
	}

	if pollCapture != "" {
		f, err := os.Create(pollCapture)
		if err != nil {
			return fmt.Errorf("failed to create capture file: %w", err)
		}
		defer f.Close()
		opts.Capture = capture.NewWriter(f)
	}

	lm := newLinkManager(OpenConnection, opts, func(ev linkEvent) {
		switch ev.kind {
		case linkConnected:
			logger.Info("connected", zap.String("link", ev.connInfo))
		case linkLost:
			logger.Warn("link lost", zap.String("link", ev.connInfo), zap.Error(ev.err), zap.Duration("retry_in", ev.retryIn))
		case linkDialFailed:
			logger.Warn("connect failed", zap.Error(ev.err), zap.Duration("retry_in", ev.retryIn))
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	if !pollNoHTTP && cfg.HTTP.Addr != "" {
		srv := httpapi.New(cfg.HTTP, st, pollStatus(lm, st), cfg.Metrics.Path, metricsHandler)
		g.Go(func() error {
			logger.Info("http api listening", zap.String("addr", cfg.HTTP.Addr))
			return srv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return lm.run(ctx, func(ctx context.Context, sess *session.Session) error {
			return sess.Run(ctx, cfg.Poll.Interval, func(r *session.Reading, err error) {
				if err != nil {
					return
				}
				if r.DeviceInfo != nil {
					st.SetDevice(connectionTarget(cfg.Connection), r.DeviceInfo.DeviceName)
				}
				if err := st.Save(); err != nil {
					logger.Warn("failed to save snapshot", zap.Error(err))
				}
				if !pollQuiet {
					printReading(r)
				}
			})
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pollStatus reports the link state for the status endpoint
func pollStatus(lm *linkManager, st *store.Store) httpapi.StatusFunc {
	return func() httpapi.Status {
		sess, connInfo := lm.current()
		status := httpapi.Status{
			Device:    st.Snapshot().Device,
			Connected: sess != nil,
		}
		if status.Device == "" {
			status.Device = connInfo
		}
		if sess != nil {
			stats := sess.Statistics()
			status.Fragments = stats.Fragments
			status.Messages = stats.TotalMessages
			status.CRCErrors = stats.CRCErrors
		}
		return status
	}
}

// pollSingle connects, takes one reading and prints it in full
func pollSingle(ctx context.Context) error {
	conn, connInfo, err := OpenConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.New(conn, sessionOptions())
	sess.Start(ctx)

	r, err := sess.Poll(ctx)
	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}

	fmt.Printf("Connection: %s\n", connInfo)
	if r.DeviceInfo != nil {
		fmt.Printf("Device info:\n%s", jkbms.FormatDeviceInfo(r.DeviceInfo))
	}
	fmt.Printf("Cell data (%s, %d attempts):\n%s", r.Time.Format("15:04:05"), r.Attempts, jkbms.FormatCellData(r.CellData))
	return nil
}

func printReading(r *session.Reading) {
	c := r.CellData
	fmt.Printf("[%s] %.3f V %8.3f A %9.2f W  SOC %3d%%  delta %.3f V  mosfet %.1f°C\n",
		r.Time.Format("15:04:05"), c.BatteryVoltage, c.BatteryCurrent, c.BatteryPower,
		c.RemainPercent, c.DeltaCellVoltage, c.MosfetTemperature)
}
