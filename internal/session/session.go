// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives the request/response cycle with one BMS over an
// arbitrary byte link.
//
// A reader goroutine feeds every received fragment through a
// jkbms.Assembler. Completed messages are parsed and dispatched to
// per-record channels that only keep the most recent value, so frames the
// device sends unprompted never queue up behind a request.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Thermoquad/jkstat/internal/metrics"
	"github.com/Thermoquad/jkstat/pkg/capture"
	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

// Errors returned by requests
var (
	ErrTimeout = errors.New("timed out waiting for response")
	ErrClosed  = errors.New("session closed")
)

// Options configures a session
type Options struct {
	DataTimeout time.Duration // wait for a response, default 10s
	FlushAfter  time.Duration // idle time before a buffered frame is flushed, default 2s
	RequestGap  time.Duration // minimum spacing between requests, default 200ms
	Retries     int           // extra attempts per poll

	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Capture *capture.Writer

	// OnRecord is called from the reader goroutine for every decoded record
	OnRecord func(jkbms.Record)

	// OnMessage is called from the reader goroutine for every reassembled
	// message, including those that failed to parse
	OnMessage func(m *Message)
}

// Message is one reassembled message with its parse outcome
type Message struct {
	Raw       []byte
	Record    jkbms.Record // nil when Err is set
	Err       error
	Anomalies []jkbms.ValidationError
	Time      time.Time
}

func (o *Options) setDefaults() {
	if o.DataTimeout <= 0 {
		o.DataTimeout = 10 * time.Second
	}
	if o.FlushAfter <= 0 {
		o.FlushAfter = 2 * time.Second
	}
	if o.RequestGap <= 0 {
		o.RequestGap = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Session owns the link to one BMS
type Session struct {
	conn    io.ReadWriter
	opts    Options
	log     *zap.Logger
	limiter *rate.Limiter

	writeMu sync.Mutex

	asm *jkbms.Assembler // reader goroutine only

	statsMu sync.Mutex
	stats   *jkbms.Statistics

	deviceInfo chan *jkbms.DeviceInfo
	cellData   chan *jkbms.CellData

	infoMu sync.Mutex
	info   *jkbms.DeviceInfo

	startOnce sync.Once
	done      chan struct{}
	err       error
}

// New creates a session on conn. Call Start before issuing requests.
func New(conn io.ReadWriter, opts Options) *Session {
	opts.setDefaults()
	return &Session{
		conn:       conn,
		opts:       opts,
		log:        opts.Logger.Named("session"),
		limiter:    rate.NewLimiter(rate.Every(opts.RequestGap), 1),
		asm:        jkbms.NewAssembler(),
		stats:      jkbms.NewStatistics(),
		deviceInfo: make(chan *jkbms.DeviceInfo, 1),
		cellData:   make(chan *jkbms.CellData, 1),
		done:       make(chan struct{}),
	}
}

// Start launches the reader. It runs until ctx is cancelled or the link
// returns an error.
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		chunks := make(chan []byte, 16)
		readErr := make(chan error, 1)
		go s.readLoop(ctx, chunks, readErr)
		go s.processLoop(ctx, chunks, readErr)
	})
}

// Done is closed when the reader stops
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the reader stopped, valid after Done is closed
func (s *Session) Err() error {
	<-s.done
	return s.err
}

// Statistics returns a copy of the link statistics
func (s *Session) Statistics() jkbms.Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return *s.stats
}

func (s *Session) readLoop(ctx context.Context, chunks chan<- []byte, readErr chan<- error) {
	defer close(chunks)
	buf := make([]byte, 1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

func (s *Session) processLoop(ctx context.Context, chunks <-chan []byte, readErr <-chan error) {
	flushTimer := time.NewTimer(s.opts.FlushAfter)
	flushTimer.Stop()
	defer flushTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(ctx.Err())
			return

		case chunk, ok := <-chunks:
			if !ok {
				s.flush()
				var err error
				select {
				case err = <-readErr:
				default:
				}
				s.finish(err)
				return
			}
			s.handleChunk(chunk)
			if s.asm.Buffered() > 0 {
				flushTimer.Reset(s.opts.FlushAfter)
			} else {
				flushTimer.Stop()
			}

		case <-flushTimer.C:
			s.flush()
		}
	}
}

func (s *Session) finish(err error) {
	if errors.Is(err, io.EOF) {
		err = nil
	}
	s.err = err
	s.log.Debug("reader stopped", zap.Error(err))
	close(s.done)
}

func (s *Session) handleChunk(chunk []byte) {
	if s.opts.Capture != nil {
		if err := s.opts.Capture.Record(capture.DirRX, chunk); err != nil {
			s.log.Warn("capture failed", zap.Error(err))
		}
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveFragment(len(chunk))
	}

	resets := s.asm.Resets()
	messages := s.asm.Feed(chunk)
	if s.asm.Resets() != resets {
		s.log.Debug("no header in buffer, reset", zap.Int("fragment", len(chunk)))
		if s.opts.Metrics != nil {
			s.opts.Metrics.BufferResets.Add(float64(s.asm.Resets() - resets))
		}
	}

	s.statsMu.Lock()
	s.stats.AddFragment(len(chunk))
	s.stats.SyncAssembler(s.asm)
	s.statsMu.Unlock()

	for _, msg := range messages {
		s.dispatch(msg)
	}
}

func (s *Session) flush() {
	if s.asm.Buffered() == 0 {
		return
	}
	msg, ok := s.asm.Flush()
	if !ok {
		s.log.Debug("dropped partial frame on flush")
		return
	}
	s.dispatch(msg)
}

func (s *Session) dispatch(msg []byte) {
	record, err := jkbms.ParseMessage(msg)
	// Rejected frames are validated too so the anomaly says why
	anomalies := jkbms.ValidateMessage(msg)

	s.statsMu.Lock()
	s.stats.Update(record, err, anomalies)
	s.statsMu.Unlock()
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveParse(record, err)
	}
	if s.opts.OnMessage != nil {
		s.opts.OnMessage(&Message{Raw: msg, Record: record, Err: err, Anomalies: anomalies, Time: time.Now()})
	}

	if err != nil {
		if errors.Is(err, jkbms.ErrUnsupportedRecord) {
			s.log.Debug("ignored frame", zap.Error(err))
		} else {
			s.log.Warn("failed to parse frame", zap.Int("length", len(msg)), zap.Error(err))
		}
		return
	}
	for _, a := range anomalies {
		s.log.Warn("frame anomaly", zap.Stringer("type", a.Type), zap.String("detail", a.Message))
	}

	switch v := record.(type) {
	case *jkbms.DeviceInfo:
		s.log.Debug("device info", zap.String("model", v.DeviceModel), zap.String("serial", v.SerialNumber))
		offer(s.deviceInfo, v)
	case *jkbms.CellData:
		s.log.Debug("cell data", zap.Int("cells", len(v.CellVoltage)), zap.Float64("voltage", v.BatteryVoltage))
		if s.opts.Metrics != nil {
			s.opts.Metrics.ObserveCellData(v, float64(time.Now().UnixNano())/1e9)
		}
		offer(s.cellData, v)
	}

	if s.opts.OnRecord != nil {
		s.opts.OnRecord(record)
	}
}

// offer stores v in a single-slot channel, replacing any unread value
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (s *Session) cachedInfo() *jkbms.DeviceInfo {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.info
}

func (s *Session) setCachedInfo(info *jkbms.DeviceInfo) {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	s.info = info
}

// Send writes a request frame for command, respecting the request gap
func (s *Session) Send(ctx context.Context, command uint8) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	frame := jkbms.BuildRequest(command)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.opts.Capture != nil {
		if err := s.opts.Capture.Record(capture.DirTX, frame); err != nil {
			s.log.Warn("capture failed", zap.Error(err))
		}
	}
	if _, err := s.conn.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", jkbms.FormatCommand(command), err)
	}
	s.log.Debug("request sent", zap.String("command", jkbms.FormatCommand(command)))
	return nil
}

// DeviceInfo requests device information and waits for the answer
func (s *Session) DeviceInfo(ctx context.Context) (*jkbms.DeviceInfo, error) {
	return request(ctx, s, jkbms.CmdDeviceInfo, s.deviceInfo)
}

// CellData requests cell data and waits for the answer
func (s *Session) CellData(ctx context.Context) (*jkbms.CellData, error) {
	return request(ctx, s, jkbms.CmdCellData, s.cellData)
}

func request[T any](ctx context.Context, s *Session, command uint8, ch chan T) (T, error) {
	var zero T

	// Discard a value that arrived before this request
	select {
	case <-ch:
	default:
	}

	if err := s.Send(ctx, command); err != nil {
		return zero, err
	}

	timer := time.NewTimer(s.opts.DataTimeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, fmt.Errorf("%s: %w", jkbms.FormatCommand(command), ErrTimeout)
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
