// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"math"

	"github.com/Dash-Industry-Forum/streamcore/internal/timing"
)

// TemplateIndex implements "SegmentTemplate without SegmentTimeline": a
// fixed per-segment duration, segment i spanning [i*dur, (i+1)*dur) in the
// index timeline with number = start_number+i (spec §4.2).
type TemplateIndex struct {
	Timescale          uint32
	DurationTicks       int64
	StartNumber        int64
	PTO                int64
	PeriodStart        float64
	MediaTemplate      string
	InitTemplate       string
	RepresentationID   string
	Bitrate            int64
	BaseURLs           []string

	IsDynamic bool
	Bounds    BoundsCalculator
}

var _ Index = (*TemplateIndex)(nil)

func (t *TemplateIndex) durationS() float64 {
	return timing.Duration(t.DurationTicks, t.Timescale)
}

func (t *TemplateIndex) segmentAt(i int64) Segment {
	start := t.PeriodStart + float64(i)*t.durationS()
	end := start + t.durationS()
	urls := resolveMediaURLs(t.BaseURLs, t.MediaTemplate, t.RepresentationID, t.Bitrate, t.StartNumber+i, 0)
	return Segment{
		Number:    t.StartNumber + i,
		Time:      start,
		End:       end,
		Duration:  t.durationS(),
		Timescale: t.Timescale,
		MediaURLs: urls,
	}
}

func (t *TemplateIndex) GetInitSegment() (Segment, bool) {
	if t.InitTemplate == "" {
		return Segment{}, false
	}
	urls := resolveMediaURLs(t.BaseURLs, t.InitTemplate, t.RepresentationID, t.Bitrate, 0, 0)
	return Segment{IsInit: true, MediaURLs: urls}, true
}

func (t *TemplateIndex) GetSegments(from, duration float64) []Segment {
	dur := t.durationS()
	if dur <= 0 {
		return nil
	}
	firstIdx := int64(math.Floor((from - t.PeriodStart) / dur))
	if firstIdx < 0 {
		firstIdx = 0
	}
	lastIdx := int64(math.Ceil((from+duration-t.PeriodStart)/dur)) + 1

	availLast := int64(math.MaxInt64)
	if t.IsDynamic {
		first, last := t.dynamicIndexBounds()
		availLast = last
		if firstIdx < first {
			firstIdx = first
		}
		if lastIdx > last+1 {
			lastIdx = last + 1
		}
	}

	// A window that ends before the first available segment clips up to it.
	if s := t.segmentAt(firstIdx); s.Time >= from+duration {
		if firstIdx > availLast {
			return nil
		}
		return []Segment{s}
	}

	var out []Segment
	for i := firstIdx; i < lastIdx; i++ {
		s := t.segmentAt(i)
		if s.End <= from || s.Time >= from+duration {
			continue
		}
		// Omit segments shorter than MinimumSegmentSize (spec §4.2). Every
		// segment here has the full template duration; none is truncated at
		// a Period end.
		if s.Duration < MinimumSegmentSize {
			continue
		}
		out = append(out, s)
	}
	return out
}

// dynamicIndexBounds converts the BoundsCalculator's wall-clock first/last
// positions into segment-number bounds for this index.
func (t *TemplateIndex) dynamicIndexBounds() (first, last int64) {
	dur := t.durationS()
	b := t.Bounds
	b.SegmentDurS = dur
	b.PeriodStartS = t.PeriodStart
	fp := b.FirstPosition()
	lp := b.LastPosition()
	if fp.Unknown || fp.None {
		first = 0
	} else {
		first = int64(math.Round((fp.Time - t.PeriodStart) / dur))
	}
	if lp.Unknown {
		last = first
	} else if lp.None {
		last = first - 1
	} else {
		last = int64(math.Round((lp.Time - t.PeriodStart) / dur))
	}
	return first, last
}

func (t *TemplateIndex) GetFirstPosition() Position {
	if !t.IsDynamic {
		return PositionAt(t.PeriodStart)
	}
	b := t.Bounds
	b.SegmentDurS = t.durationS()
	b.PeriodStartS = t.PeriodStart
	return b.FirstPosition()
}

func (t *TemplateIndex) GetLastPosition() Position {
	if !t.IsDynamic {
		return PositionUnknown()
	}
	b := t.Bounds
	b.SegmentDurS = t.durationS()
	b.PeriodStartS = t.PeriodStart
	return b.LastPosition()
}

func (t *TemplateIndex) ShouldRefresh(from, duration float64) bool {
	if !t.IsDynamic {
		return false
	}
	last := t.GetLastPosition()
	if last.Unknown {
		return true
	}
	if last.None {
		return false
	}
	return from+duration > last.Time+t.durationS()
}

func (t *TemplateIndex) CheckDiscontinuity(float64) (float64, bool) { return 0, false }

func (t *TemplateIndex) IsSegmentStillAvailable(s Segment) (bool, bool) {
	if !t.IsDynamic {
		return true, false
	}
	first := t.GetFirstPosition()
	if first.Unknown {
		return false, true
	}
	return s.Time >= first.Time, false
}

func (t *TemplateIndex) CanBeOutOfSyncError() bool { return t.IsDynamic }
func (t *TemplateIndex) IsFinished() bool          { return !t.IsDynamic }
func (t *TemplateIndex) IsInitialized() bool       { return t.DurationTicks > 0 && t.Timescale > 0 }

func (t *TemplateIndex) Replace(other Index) {
	o, ok := other.(*TemplateIndex)
	if !ok {
		return
	}
	*t = *o
}

func (t *TemplateIndex) Update(other Index) {
	o, ok := other.(*TemplateIndex)
	if !ok {
		return
	}
	t.DurationTicks = o.DurationTicks
	t.MediaTemplate = o.MediaTemplate
	t.Bounds = o.Bounds
	t.IsDynamic = o.IsDynamic
}

func (t *TemplateIndex) AddSegments([]Segment) {}
