// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"github.com/Dash-Industry-Forum/streamcore/internal/timing"
)

// TimelineEntry mirrors a DASH <S t d r> entry: t is the cumulative tick
// position (optional; when HasT is false it is inherited from the previous
// entry's end, or is 0 for the first entry), d is the tick duration, and r is a repeat count
// (r == -1 means "repeat until the Period ends", per spec §4.2).
type TimelineEntry struct {
	T       int64
	HasT    bool
	D       int64
	R       int
}

// TimelineIndex implements "SegmentTemplate with SegmentTimeline": explicit
// <S t d r> entries with binary-search lookup by time (spec §4.2).
type TimelineIndex struct {
	Timescale        uint32
	PTO              int64
	StartNumber      int64
	PeriodStart      float64
	PeriodEnd        float64 // <0 means open-ended (live, still growing)
	MediaTemplate    string
	InitTemplate     string
	RepresentationID string
	Bitrate          int64
	BaseURLs         []string
	IsDynamic        bool

	Entries []TimelineEntry
}

var _ Index = (*TimelineIndex)(nil)

// expand flattens the <S t d r> entries into concrete segments, resolving
// open-ended repeats (r == -1) against PeriodEnd when known.
func (t *TimelineIndex) expand() []Segment {
	var segs []Segment
	var cur int64
	number := t.StartNumber
	for _, e := range t.Entries {
		if e.HasT {
			cur = e.T
		}
		repeat := e.R
		if repeat < 0 {
			if t.PeriodEnd < 0 {
				repeat = 0 // still open; only the first instance is known so far
			} else {
				endTicks := timing.DurationTicks(t.PeriodEnd-t.PeriodStart, t.Timescale) + t.PTO
				repeat = 0
				probe := cur + e.D
				for probe < endTicks {
					repeat++
					probe += e.D
				}
			}
		}
		for i := 0; i <= repeat; i++ {
			start := timing.PresentationTime(cur, t.Timescale, t.PTO, t.PeriodStart)
			dur := timing.Duration(e.D, t.Timescale)
			urls := resolveMediaURLs(t.BaseURLs, t.MediaTemplate, t.RepresentationID, t.Bitrate, number, cur)
			segs = append(segs, Segment{
				Number:    number,
				Time:      start,
				End:       start + dur,
				Duration:  dur,
				Timescale: t.Timescale,
				MediaURLs: urls,
			})
			cur += e.D
			number++
		}
	}
	return segs
}

func (t *TimelineIndex) GetInitSegment() (Segment, bool) {
	if t.InitTemplate == "" {
		return Segment{}, false
	}
	urls := resolveMediaURLs(t.BaseURLs, t.InitTemplate, t.RepresentationID, t.Bitrate, 0, 0)
	return Segment{IsInit: true, MediaURLs: urls}, true
}

// GetSegments expands the timeline and delegates to clipSegments for the
// shared start-in-window selection policy (spec §8 scenario 1).
func (t *TimelineIndex) GetSegments(from, duration float64) []Segment {
	return clipSegments(t.expand(), from, duration)
}

func (t *TimelineIndex) GetFirstPosition() Position {
	all := t.expand()
	if len(all) == 0 {
		return PositionNone()
	}
	return PositionAt(all[0].Time)
}

func (t *TimelineIndex) GetLastPosition() Position {
	all := t.expand()
	if len(all) == 0 {
		if t.IsDynamic {
			return PositionUnknown()
		}
		return PositionNone()
	}
	return PositionAt(all[len(all)-1].Time)
}

// ShouldRefresh returns true whenever the asked range extends past the last
// known segment and the content is dynamic (spec §4.2).
func (t *TimelineIndex) ShouldRefresh(from, duration float64) bool {
	if !t.IsDynamic {
		return false
	}
	last := t.GetLastPosition()
	if last.Unknown || last.None {
		return true
	}
	return from+duration > last.Time
}

func (t *TimelineIndex) CheckDiscontinuity(at float64) (float64, bool) {
	all := t.expand()
	for i := 0; i < len(all)-1; i++ {
		if all[i].End <= at && at < all[i+1].Time {
			return all[i+1].Time, true
		}
	}
	return 0, false
}

func (t *TimelineIndex) IsSegmentStillAvailable(s Segment) (bool, bool) {
	first := t.GetFirstPosition()
	if first.None || first.Unknown {
		return false, first.Unknown
	}
	return s.Time >= first.Time-1e-6, false
}

func (t *TimelineIndex) CanBeOutOfSyncError() bool { return t.IsDynamic }
func (t *TimelineIndex) IsFinished() bool          { return !t.IsDynamic }
func (t *TimelineIndex) IsInitialized() bool       { return len(t.Entries) > 0 }

func (t *TimelineIndex) Replace(other Index) {
	o, ok := other.(*TimelineIndex)
	if !ok {
		return
	}
	*t = *o
}

// Update merges newer timeline entries into this index, matching the
// teacher's splitPeriod/reduceS style of incremental timeline extension
// (cmd/livesim2/app/livempd.go) but for the client-side incremental case:
// entries whose cumulative start is beyond our last known segment are
// appended; earlier entries are left untouched (already-downloaded history).
func (t *TimelineIndex) Update(other Index) {
	o, ok := other.(*TimelineIndex)
	if !ok {
		return
	}
	existing := t.expand()
	var lastEnd int64 = -1
	if len(existing) > 0 {
		last := existing[len(existing)-1]
		lastEnd = timing.TimelineTick(last.End, t.Timescale, t.PTO, t.PeriodStart)
	}
	oAll := o.expand()
	var appended []TimelineEntry
	var cur int64
	for _, s := range oAll {
		tick := timing.TimelineTick(s.Time, o.Timescale, o.PTO, o.PeriodStart)
		if tick < lastEnd {
			continue
		}
		d := timing.DurationTicks(s.Duration, o.Timescale)
		appended = append(appended, TimelineEntry{T: tick, HasT: tick != cur, D: d})
		cur = tick + d
	}
	t.Entries = append(t.Entries, appended...)
	t.IsDynamic = o.IsDynamic
	t.PeriodEnd = o.PeriodEnd
}

func (t *TimelineIndex) AddSegments([]Segment) {}
