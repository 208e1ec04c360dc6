// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import "sort"

// MinimumSegmentSize is the spec §6 tunable below which a trailing, short
// final segment is omitted rather than produced.
const MinimumSegmentSize = 0.005 // seconds

// Position represents get_first_position/get_last_position's tri-state
// result: a concrete time, "none" (index exists but yields no segment), or
// "unknown" (not yet determinable).
type Position struct {
	Time    float64
	None    bool
	Unknown bool
}

func PositionAt(t float64) Position  { return Position{Time: t} }
func PositionNone() Position         { return Position{None: true} }
func PositionUnknown() Position      { return Position{Unknown: true} }

// Index is the capability set every segment-index variant implements
// (spec §4.2). Consumers drive all variants uniformly through this
// interface (a tagged union plus a shared trait, per spec §9 design notes,
// rather than class inheritance).
type Index interface {
	GetInitSegment() (Segment, bool)
	// GetSegments returns segments for the window [from, from+duration),
	// ordered and strictly increasing by Time. The Timeline, List and Smooth
	// variants select by start time in the window (clipSegments, per the
	// spec §8 worked example); Base and Template return every segment
	// overlapping the window.
	GetSegments(from, duration float64) []Segment
	GetFirstPosition() Position
	GetLastPosition() Position
	ShouldRefresh(from, duration float64) bool
	// CheckDiscontinuity returns the gap's end time if t falls inside a gap between two segments, else ok=false.
	CheckDiscontinuity(t float64) (end float64, ok bool)
	// IsSegmentStillAvailable returns availability; unknown is signalled via the second return.
	IsSegmentStillAvailable(s Segment) (available bool, unknown bool)
	CanBeOutOfSyncError() bool
	IsFinished() bool
	IsInitialized() bool
	// Replace swaps this index's internal state with other's wholesale (e.g. manifest re-fetch of a VoD asset).
	Replace(other Index)
	// Update merges other's newer information into this index (incremental live refresh).
	Update(other Index)
	// AddSegments merges externally-discovered segments (e.g. parsed from an ISOBMFF sidx box) idempotently.
	AddSegments(segs []Segment)
}

// clipSegments enforces the edge policies for the Timeline, List and Smooth
// variants; Base and Template filter on their own (spec §4.2
// closing paragraph, worked example in spec §8 scenario 1): a segment
// qualifies when its *start* falls in `[from, from+duration)` -- a segment
// already under way when `from` lands inside it (but that started earlier)
// is not re-returned, matching the concrete "get_segments(4.0, 1.0) yields
// exactly segment 2" example rather than a full-interval-overlap test, which
// would also catch segment 1's still-overlapping tail. Requests before the
// first segment clip up to it; requests past every segment's start return
// empty.
func clipSegments(all []Segment, from, duration float64) []Segment {
	if len(all) == 0 {
		return nil
	}
	until := from + duration
	lo := sort.Search(len(all), func(i int) bool { return all[i].Time >= from })
	if lo == len(all) {
		return nil
	}
	hi := lo
	for hi < len(all) && all[hi].Time < until {
		hi++
	}
	if hi == lo {
		// Window falls entirely before the first remaining segment's start --
		// still clip up to it rather than returning nothing.
		return []Segment{all[lo]}
	}
	out := make([]Segment, hi-lo)
	copy(out, all[lo:hi])
	return out
}

// dedupeSorted removes duplicate segments (by Time) from an ascending-sorted
// slice, keeping the first occurrence. Used by AddSegments implementations so
// that applying the same segment list twice is a no-op, per spec §8.
func dedupeSorted(segs []Segment) []Segment {
	if len(segs) < 2 {
		return segs
	}
	out := segs[:1]
	for _, s := range segs[1:] {
		if s.Time > out[len(out)-1].Time {
			out = append(out, s)
		}
	}
	return out
}

func sortByTime(segs []Segment) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].Time < segs[j].Time })
}
