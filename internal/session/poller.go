// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/jkstat/pkg/jkbms"
)

// Reading is the result of one poll cycle
type Reading struct {
	DeviceInfo *jkbms.DeviceInfo // nil if the device never answered
	CellData   *jkbms.CellData
	Time       time.Time
	Attempts   int
}

// Handler receives every poll result. err is non-nil when all attempts failed.
type Handler func(r *Reading, err error)

// Poll fetches device info once per session and then cell data, retrying
// the cell data request up to Options.Retries more times.
func (s *Session) Poll(ctx context.Context) (*Reading, error) {
	r := &Reading{}

	if info := s.cachedInfo(); info != nil {
		r.DeviceInfo = info
	} else if info, err := s.DeviceInfo(ctx); err == nil {
		s.setCachedInfo(info)
		r.DeviceInfo = info
	} else if ctx.Err() != nil || errors.Is(err, ErrClosed) {
		return nil, err
	} else {
		s.log.Info("device info unavailable", zap.Error(err))
	}

	var err error
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		r.Attempts = attempt + 1
		var c *jkbms.CellData
		c, err = s.CellData(ctx)
		if err == nil {
			r.CellData = c
			r.Time = time.Now()
			return r, nil
		}
		if ctx.Err() != nil || errors.Is(err, ErrClosed) {
			return nil, err
		}
		s.log.Warn("cell data request failed", zap.Int("attempt", r.Attempts), zap.Error(err))
	}
	return nil, err
}

// Run polls every interval until ctx is cancelled or the link closes.
// The first poll happens immediately.
func (s *Session) Run(ctx context.Context, interval time.Duration, handle Handler) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := s.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, ErrClosed) {
				return s.Err()
			}
			if s.opts.Metrics != nil {
				s.opts.Metrics.PollFailures.Inc()
			}
			s.log.Error("poll failed", zap.Error(err))
		}
		if handle != nil {
			handle(r, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return s.Err()
		case <-ticker.C:
		}
	}
}
