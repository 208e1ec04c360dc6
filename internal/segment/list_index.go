// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

// ListIndex implements SegmentList: an explicit, pre-resolved, ungenerated
// list of segments (spec §4.2's capability table, "Variants: ... List ...").
// Unlike the Template variants there is no arithmetic to invert -- the
// Representation description already enumerates every segment -- so this is
// the simplest Index: a stored, time-sorted slice with a binary-search query.
type ListIndex struct {
	IsDynamic bool
	InitSeg   *Segment

	segments []Segment
}

var _ Index = (*ListIndex)(nil)

// NewListIndex builds a ListIndex from an unsorted, possibly-overlapping set
// of segments, deduping and sorting per spec §4's general index hygiene rules.
func NewListIndex(segs []Segment, dynamic bool, initSeg *Segment) *ListIndex {
	cp := append([]Segment(nil), segs...)
	sortByTime(cp)
	return &ListIndex{IsDynamic: dynamic, InitSeg: initSeg, segments: dedupeSorted(cp)}
}

func (l *ListIndex) GetInitSegment() (Segment, bool) {
	if l.InitSeg == nil {
		return Segment{}, false
	}
	return *l.InitSeg, true
}

func (l *ListIndex) GetSegments(from, duration float64) []Segment {
	return clipSegments(l.segments, from, duration)
}

func (l *ListIndex) GetFirstPosition() Position {
	if len(l.segments) == 0 {
		return PositionNone()
	}
	return PositionAt(l.segments[0].Time)
}

func (l *ListIndex) GetLastPosition() Position {
	if len(l.segments) == 0 {
		if l.IsDynamic {
			return PositionUnknown()
		}
		return PositionNone()
	}
	return PositionAt(l.segments[len(l.segments)-1].Time)
}

func (l *ListIndex) ShouldRefresh(from, duration float64) bool {
	if !l.IsDynamic {
		return false
	}
	last := l.GetLastPosition()
	if last.Unknown || last.None {
		return true
	}
	return from+duration > last.Time
}

func (l *ListIndex) CheckDiscontinuity(at float64) (float64, bool) {
	for i := 0; i < len(l.segments)-1; i++ {
		if l.segments[i].End <= at && at < l.segments[i+1].Time {
			return l.segments[i+1].Time, true
		}
	}
	return 0, false
}

func (l *ListIndex) IsSegmentStillAvailable(s Segment) (bool, bool) {
	first := l.GetFirstPosition()
	if first.None || first.Unknown {
		return false, first.Unknown
	}
	return s.Time >= first.Time-1e-6, false
}

func (l *ListIndex) CanBeOutOfSyncError() bool { return l.IsDynamic }
func (l *ListIndex) IsFinished() bool          { return !l.IsDynamic }
func (l *ListIndex) IsInitialized() bool       { return len(l.segments) > 0 }

func (l *ListIndex) Replace(other Index) {
	o, ok := other.(*ListIndex)
	if !ok {
		return
	}
	*l = *o
}

func (l *ListIndex) Update(other Index) {
	o, ok := other.(*ListIndex)
	if !ok {
		return
	}
	l.AddSegments(o.segments)
	l.IsDynamic = o.IsDynamic
}

func (l *ListIndex) AddSegments(segs []Segment) {
	merged := append(l.segments, segs...)
	sortByTime(merged)
	l.segments = dedupeSorted(merged)
}
