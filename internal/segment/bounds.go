// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"math"
	"time"
)

// BoundsCalculator estimates the first and last available position of a
// dynamic, SegmentTemplate-without-Timeline Representation from the
// Manifest's availability parameters (spec §4.2 "Template without Timeline").
// It is grounded on the wrap/availability-window arithmetic in the teacher's
// cmd/livesim2/app/livempd.go (calcWrapTimes, lastSegAvailTimeS), generalized
// from "generate a live window" to "compute client-visible bounds".
type BoundsCalculator struct {
	AvailabilityStartTimeS float64
	// TimeshiftBufferDepthS < 0 means unbounded (no sliding window).
	TimeshiftBufferDepthS float64
	SuggestedDelayS        float64
	// ClockOffsetMS is server time minus client time, milliseconds (spec §3, §6).
	ClockOffsetMS int64
	SegmentDurS   float64
	// AvailabilityTimeOffsetS shifts the last-available position earlier (low latency).
	AvailabilityTimeOffsetS float64
	AggressiveMode          bool
	PeriodStartS            float64
	// PeriodEndS is used when the Period has ended (static tail); only
	// consulted when HasPeriodEnd is true, so the zero value never silently
	// truncates an open-ended live Period.
	HasPeriodEnd bool
	PeriodEndS   float64

	// NowFunc returns the current client wall-clock time in seconds since epoch.
	// Overridable for tests; when nil, the system clock is used.
	NowFunc func() float64
}

func (b BoundsCalculator) now() float64 {
	if b.NowFunc != nil {
		return b.NowFunc()
	}
	return float64(time.Now().UnixNano()) / 1e9
}

// ServerNowS returns the server's notion of "now", applying the clock offset.
func (b BoundsCalculator) ServerNowS() float64 {
	return b.now() + float64(b.ClockOffsetMS)/1000.0
}

// FirstPosition returns the oldest segment start still inside the timeshift window.
func (b BoundsCalculator) FirstPosition() Position {
	serverNow := b.ServerNowS()
	elapsed := serverNow - b.AvailabilityStartTimeS
	if elapsed < 0 {
		return PositionUnknown()
	}
	first := b.PeriodStartS
	if b.TimeshiftBufferDepthS >= 0 {
		windowStart := elapsed - b.TimeshiftBufferDepthS
		if windowStart > first {
			first = windowStart
		}
	}
	if b.SegmentDurS > 0 {
		first = math.Floor(first/b.SegmentDurS) * b.SegmentDurS
	}
	return PositionAt(first)
}

// LastPosition returns the newest segment that has finished being produced
// and, per the availability_time_offset, is already downloadable.
func (b BoundsCalculator) LastPosition() Position {
	serverNow := b.ServerNowS()
	elapsed := serverNow - b.AvailabilityStartTimeS + b.AvailabilityTimeOffsetS
	if elapsed < 0 {
		return PositionNone()
	}
	last := elapsed
	if b.HasPeriodEnd && last > b.PeriodEndS {
		last = b.PeriodEndS
	}
	if b.SegmentDurS > 0 {
		// The segment starting at floor(last/dur)*dur is still being produced;
		// only the one before it is guaranteed complete and downloadable.
		last = math.Floor(last/b.SegmentDurS)*b.SegmentDurS - b.SegmentDurS
		if b.AggressiveMode {
			last += b.SegmentDurS
		}
	}
	if last < b.PeriodStartS {
		return PositionNone()
	}
	return PositionAt(last)
}
