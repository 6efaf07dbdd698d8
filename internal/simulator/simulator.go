// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator imitates a JK BMS on a byte link: it answers request
// frames with encoded responses split into notification-sized fragments
// and streams cell data after a cell data request, as the hardware does.
package simulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

// Options configures a simulator
type Options struct {
	DeviceInfo     *jkbms.DeviceInfo
	CellData       *jkbms.CellData
	MTU            int           // fragment size, default 128
	StreamInterval time.Duration // cell data repeat interval, default 1s; negative disables streaming
	Jitter         bool          // vary cell voltages and current between frames
	Seed           int64
	Logger         *zap.Logger
}

// Simulator produces response frames for one emulated device.
// Safe for concurrent use.
type Simulator struct {
	mu      sync.Mutex
	opts    Options
	log     *zap.Logger
	rng     *rand.Rand
	counter uint8
}

// New creates a simulator, filling unset options with a 16-cell pack
func New(opts Options) *Simulator {
	if opts.DeviceInfo == nil {
		opts.DeviceInfo = DefaultDeviceInfo()
	}
	if opts.CellData == nil {
		opts.CellData = DefaultCellData()
	}
	if opts.MTU <= 0 {
		opts.MTU = 128
	}
	if opts.StreamInterval == 0 {
		opts.StreamInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Simulator{
		opts: opts,
		log:  opts.Logger.Named("simulator"),
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

// DefaultDeviceInfo returns the metadata of the built-in device
func DefaultDeviceInfo() *jkbms.DeviceInfo {
	return &jkbms.DeviceInfo{
		DeviceModel:       "JK_B2A16S20P",
		HardwareVersion:   "11.XW",
		SoftwareVersion:   "11.26",
		UpTime:            86400,
		PowerOnTimes:      3,
		DeviceName:        "JK-SIM",
		DevicePasscode:    "1234",
		ManufacturingDate: "240101",
		SerialNumber:      "SIM00000001",
		Passcode:          "0000",
		UserData:          "jkstat simulator",
		SetupPasscode:     "123456",
	}
}

// DefaultCellData returns the telemetry of the built-in 16-cell pack
func DefaultCellData() *jkbms.CellData {
	cells := make([]float64, 16)
	res := make([]float64, 16)
	for i := range cells {
		cells[i] = 3.3 + float64(i%4)/1000
		res[i] = 0.07
	}
	return &jkbms.CellData{
		CellVoltage:        cells,
		AverageCellVoltage: 3.302,
		DeltaCellVoltage:   0.003,
		MaxVoltageCell:     3,
		MinVoltageCell:     0,
		CellResistance:     res,
		BatteryVoltage:     52.824,
		BatteryPower:       264.12,
		BatteryCurrent:     5,
		BatteryTemperature: []float64{21.5, 22, 21.8, 22.3},
		MosfetTemperature:  25.1,
		BalancingAction:    jkbms.BalancingOff,
		RemainPercent:      76,
		RemainCapacity:     212.8,
		NominalCapacity:    280,
		CycleCount:         42,
		CycleCapacity:      11760,
		StateOfHealth:      100,
		UpTime:             86400,
	}
}

// Frame returns a signed response frame of recordType carrying the next
// frame counter value
func (s *Simulator) Frame(recordType uint8) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var frame []byte
	var err error
	switch recordType {
	case jkbms.RecordTypeDeviceInfo:
		frame, err = jkbms.EncodeDeviceInfo(s.opts.DeviceInfo)
	case jkbms.RecordTypeCellData:
		frame, err = jkbms.EncodeCellData(s.nextCellData())
	case jkbms.RecordTypeSettings:
		frame = make([]byte, jkbms.ResponseFrameLen)
		copy(frame, jkbms.ResponseHeader[:])
		frame[4] = jkbms.RecordTypeSettings
	default:
		return nil, fmt.Errorf("unsupported record type 0x%02X", recordType)
	}
	if err != nil {
		return nil, err
	}

	frame[5] = s.counter
	s.counter++
	last := len(frame) - 1
	frame[last] = jkbms.Checksum(frame[:last])
	return frame, nil
}

func (s *Simulator) nextCellData() *jkbms.CellData {
	c := *s.opts.CellData
	if !s.opts.Jitter {
		return &c
	}

	c.CellVoltage = append([]float64(nil), c.CellVoltage...)
	for i := range c.CellVoltage {
		c.CellVoltage[i] += float64(s.rng.Intn(11)-5) / 1000
	}
	c.BatteryCurrent += float64(s.rng.Intn(201)-100) / 1000
	c.UpTime += uint32(s.counter)
	return &c
}

// Fragment splits a frame into MTU-sized notifications
func (s *Simulator) Fragment(frame []byte) [][]byte {
	var out [][]byte
	for len(frame) > 0 {
		n := s.opts.MTU
		if n > len(frame) {
			n = len(frame)
		}
		out = append(out, frame[:n])
		frame = frame[n:]
	}
	return out
}

// Responses returns the frames a device sends for a request command
func (s *Simulator) Responses(command uint8) ([][]byte, error) {
	var types []uint8
	switch command {
	case jkbms.CmdDeviceInfo:
		types = []uint8{jkbms.RecordTypeDeviceInfo, jkbms.RecordTypeSettings}
	case jkbms.CmdCellData:
		types = []uint8{jkbms.RecordTypeCellData}
	default:
		return nil, fmt.Errorf("unknown command 0x%02X", command)
	}

	frames := make([][]byte, 0, len(types))
	for _, t := range types {
		f, err := s.Frame(t)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Serve answers requests read from rw until ctx is cancelled or rw fails
func (s *Simulator) Serve(ctx context.Context, rw io.ReadWriter) error {
	requests := make(chan uint8, 4)
	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readRequests(ctx, rw, requests)
	}()

	ticker := time.NewTicker(time.Hour)
	ticker.Stop()
	defer ticker.Stop()
	var stream <-chan time.Time

	send := func(frames [][]byte) error {
		for _, f := range frames {
			for _, frag := range s.Fragment(f) {
				if _, err := rw.Write(frag); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case cmd := <-requests:
			frames, err := s.Responses(cmd)
			if err != nil {
				s.log.Warn("ignoring request", zap.Error(err))
				continue
			}
			s.log.Debug("answering", zap.String("command", jkbms.FormatCommand(cmd)))
			if err := send(frames); err != nil {
				return err
			}
			if cmd == jkbms.CmdCellData && s.opts.StreamInterval > 0 {
				ticker.Reset(s.opts.StreamInterval)
				stream = ticker.C
			}

		case <-stream:
			frame, err := s.Frame(jkbms.RecordTypeCellData)
			if err != nil {
				return err
			}
			if err := send([][]byte{frame}); err != nil {
				return err
			}
		}
	}
}

// readRequests extracts request frames from rw and forwards their commands
func (s *Simulator) readRequests(ctx context.Context, rw io.Reader, out chan<- uint8) error {
	var buf []byte
	chunk := make([]byte, 256)
	for {
		n, err := rw.Read(chunk)
		buf = append(buf, chunk[:n]...)

		for {
			pos := bytes.Index(buf, jkbms.RequestHeader[:])
			if pos < 0 {
				if len(buf) > jkbms.HeaderSize {
					buf = buf[len(buf)-jkbms.HeaderSize+1:]
				}
				break
			}
			buf = buf[pos:]
			if len(buf) < jkbms.RequestFrameLen {
				break
			}
			frame := buf[:jkbms.RequestFrameLen]
			buf = buf[jkbms.RequestFrameLen:]
			if !jkbms.ValidateResponse(frame) {
				s.log.Warn("request checksum mismatch", zap.String("frame", jkbms.FormatHex(frame)))
				continue
			}
			select {
			case out <- frame[jkbms.HeaderSize]:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err != nil {
			return err
		}
	}
}
