// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/jkstat/internal/discovery"
	"github.com/Thermoquad/jkstat/internal/simulator"
)

var (
	simListen    string
	simPath      string
	simSerial    string
	simMTU       int
	simStream    time.Duration
	simJitter    bool
	simSeed      int64
	simAdvertise string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated JK BMS for testing",
	Long: `Emulate a 16-cell JK BMS behind a WebSocket bridge or on a serial port.

The simulator answers device info and cell data requests with correctly
signed frames, split into notification-sized fragments (--mtu) like a BLE
link delivers them. After a cell data request it keeps streaming cell data
every --stream-interval, as the hardware does.

WebSocket mode (default) listens on --listen and accepts one client per
connection at --path; with --advertise the bridge is announced over mDNS so
ws_discovery can find it. Serial mode (--serial) serves a single port.

Examples:
  jkstat simulate --listen :8765 --advertise sim
  jkstat raw_log --url ws://localhost:8765/ws`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", ":8765", "WebSocket listen address")
	simulateCmd.Flags().StringVar(&simPath, "path", discovery.DefaultPath, "WebSocket path")
	simulateCmd.Flags().StringVar(&simSerial, "serial", "", "Serve on this serial port instead of WebSocket")
	simulateCmd.Flags().IntVar(&simMTU, "mtu", 128, "Fragment size in bytes")
	simulateCmd.Flags().DurationVar(&simStream, "stream-interval", time.Second, "Cell data streaming interval (negative disables)")
	simulateCmd.Flags().BoolVar(&simJitter, "jitter", true, "Vary cell voltages and current between frames")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 1, "Random seed for jitter")
	simulateCmd.Flags().StringVar(&simAdvertise, "advertise", "", "Advertise the bridge over mDNS with this instance name")
}

func simulatorOptions() simulator.Options {
	return simulator.Options{
		MTU:            simMTU,
		StreamInterval: simStream,
		Jitter:         simJitter,
		Seed:           simSeed,
		Logger:         logger,
	}
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if simSerial != "" {
		return simulateSerial(ctx)
	}
	return simulateWebSocket(ctx)
}

func simulateSerial(ctx context.Context) error {
	conn, err := OpenSerialConnection(simSerial, cfg.Connection.Baud)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("jkstat - Simulated BMS\n")
	fmt.Printf("Serial: %s @ %d baud, MTU %d\n", simSerial, cfg.Connection.Baud, simMTU)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	sim := simulator.New(simulatorOptions())
	if err := sim.Serve(ctx, conn); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// simulatorHandler upgrades each request and serves one simulated device on it
func simulatorHandler(ctx context.Context, newSim func() *simulator.Simulator) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		conn := &WebSocketConnection{conn: ws}
		defer conn.Close()

		logger.Info("client connected", zap.String("remote", r.RemoteAddr))
		err = newSim().Serve(ctx, conn)
		if err != nil && !isClosed(err) && ctx.Err() == nil {
			logger.Info("client disconnected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		}
	})
}

func simulateWebSocket(ctx context.Context) error {
	ln, err := net.Listen("tcp", simListen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", simListen, err)
	}

	mux := http.NewServeMux()
	mux.Handle(simPath, simulatorHandler(ctx, func() *simulator.Simulator {
		return simulator.New(simulatorOptions())
	}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	port := ln.Addr().(*net.TCPAddr).Port
	fmt.Printf("jkstat - Simulated BMS\n")
	fmt.Printf("WebSocket: ws://%s%s, MTU %d\n", net.JoinHostPort("localhost", strconv.Itoa(port)), simPath, simMTU)

	if simAdvertise != "" {
		ad, err := discovery.Register(simAdvertise, port, map[string]string{
			"path":   simPath,
			"serial": simulator.DefaultDeviceInfo().SerialNumber,
		})
		if err != nil {
			ln.Close()
			return err
		}
		defer ad.Shutdown()
		fmt.Printf("mDNS: %s.%s%s\n", simAdvertise, discovery.ServiceType, discovery.ServiceDomain)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
