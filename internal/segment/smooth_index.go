// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import "sort"

// SmoothIndex implements the Smooth Streaming segment-index variant: a
// timeline-like index, but one that is patched at runtime with "next
// segments" discovered from a fragment's tfrf box, and that evicts segments
// older than the declared DVR depth (spec §4.2 bullet 4, "Smooth").
type SmoothIndex struct {
	Timescale        uint32
	PeriodStart      float64
	DVRWindowS       float64 // <0 means unbounded
	MediaTemplate    string
	InitTemplate     string
	RepresentationID string
	Bitrate          int64
	BaseURLs         []string
	IsDynamic        bool

	segments []Segment
}

var _ Index = (*SmoothIndex)(nil)

func (s *SmoothIndex) GetInitSegment() (Segment, bool) {
	if s.InitTemplate == "" {
		return Segment{}, false
	}
	urls := resolveMediaURLs(s.BaseURLs, s.InitTemplate, s.RepresentationID, s.Bitrate, 0, 0)
	return Segment{IsInit: true, MediaURLs: urls}, true
}

// Seed installs the initial chunk list parsed from the manifest's own
// <c t d r> entries, which carry the same shape as a DASH SegmentTimeline.
func (s *SmoothIndex) Seed(entries []TimelineEntry) {
	t := &TimelineIndex{
		Timescale:        s.Timescale,
		StartNumber:      1,
		PeriodStart:      s.PeriodStart,
		MediaTemplate:    s.MediaTemplate,
		RepresentationID: s.RepresentationID,
		Bitrate:          s.Bitrate,
		BaseURLs:         s.BaseURLs,
		IsDynamic:        s.IsDynamic,
		PeriodEnd:        -1,
		Entries:          entries,
	}
	s.segments = t.expand()
	s.evict()
}

// PatchFromTfrf merges "next segments" extracted from a downloaded
// fragment's tfrf box: each entry is a (time, duration) pair in the index's
// own ticks, describing fragments the server already knows about but that
// were not yet present in the manifest's own chunk list.
func (s *SmoothIndex) PatchFromTfrf(nextSegments []TimelineEntry) {
	if len(nextSegments) == 0 {
		return
	}
	number := int64(len(s.segments)) + 1
	for _, e := range nextSegments {
		start := float64(e.T) / float64(s.Timescale)
		if !e.HasT && len(s.segments) > 0 {
			start = s.segments[len(s.segments)-1].End
		}
		dur := float64(e.D) / float64(s.Timescale)
		already := false
		for _, existing := range s.segments {
			if existing.Time == start+s.PeriodStart {
				already = true
				break
			}
		}
		if already {
			continue
		}
		urls := resolveMediaURLs(s.BaseURLs, s.MediaTemplate, s.RepresentationID, s.Bitrate, number, e.T)
		s.segments = append(s.segments, Segment{
			Number:    number,
			Time:      start + s.PeriodStart,
			End:       start + dur + s.PeriodStart,
			Duration:  dur,
			Timescale: s.Timescale,
			MediaURLs: urls,
		})
		number++
	}
	sortByTime(s.segments)
	s.evict()
}

// evict drops segments older than DVRWindowS relative to the newest segment,
// per spec §4.2: "Segments older than the declared DVR depth are evicted."
func (s *SmoothIndex) evict() {
	if s.DVRWindowS < 0 || len(s.segments) == 0 {
		return
	}
	cutoff := s.segments[len(s.segments)-1].End - s.DVRWindowS
	idx := sort.Search(len(s.segments), func(i int) bool { return s.segments[i].End > cutoff })
	s.segments = s.segments[idx:]
}

func (s *SmoothIndex) GetSegments(from, duration float64) []Segment {
	return clipSegments(s.segments, from, duration)
}

func (s *SmoothIndex) GetFirstPosition() Position {
	if len(s.segments) == 0 {
		return PositionNone()
	}
	return PositionAt(s.segments[0].Time)
}

func (s *SmoothIndex) GetLastPosition() Position {
	if len(s.segments) == 0 {
		if s.IsDynamic {
			return PositionUnknown()
		}
		return PositionNone()
	}
	return PositionAt(s.segments[len(s.segments)-1].Time)
}

func (s *SmoothIndex) ShouldRefresh(from, duration float64) bool {
	if !s.IsDynamic {
		return false
	}
	last := s.GetLastPosition()
	if last.Unknown || last.None {
		return true
	}
	return from+duration > last.Time
}

func (s *SmoothIndex) CheckDiscontinuity(at float64) (float64, bool) {
	for i := 0; i < len(s.segments)-1; i++ {
		if s.segments[i].End <= at && at < s.segments[i+1].Time {
			return s.segments[i+1].Time, true
		}
	}
	return 0, false
}

func (s *SmoothIndex) IsSegmentStillAvailable(seg Segment) (bool, bool) {
	first := s.GetFirstPosition()
	if first.None || first.Unknown {
		return false, first.Unknown
	}
	return seg.Time >= first.Time-1e-6, false
}

func (s *SmoothIndex) CanBeOutOfSyncError() bool { return s.IsDynamic }
func (s *SmoothIndex) IsFinished() bool          { return !s.IsDynamic }
func (s *SmoothIndex) IsInitialized() bool       { return len(s.segments) > 0 }

func (s *SmoothIndex) Replace(other Index) {
	o, ok := other.(*SmoothIndex)
	if !ok {
		return
	}
	*s = *o
}

func (s *SmoothIndex) Update(other Index) {
	o, ok := other.(*SmoothIndex)
	if !ok {
		return
	}
	s.AddSegments(o.segments)
	s.IsDynamic = o.IsDynamic
	s.DVRWindowS = o.DVRWindowS
}

func (s *SmoothIndex) AddSegments(segs []Segment) {
	merged := append(s.segments, segs...)
	sortByTime(merged)
	s.segments = dedupeSorted(merged)
	s.evict()
}
