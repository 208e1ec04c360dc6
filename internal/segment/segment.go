// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package segment implements the segment-index algorithms of spec §4.2:
// mapping a wall-clock or media time to concrete segment descriptors for
// every addressing scheme a Representation may use (SegmentTemplate with
// and without SegmentTimeline, SegmentBase/SIDX, SegmentList, and Smooth
// Streaming timelines).
package segment

// ByteRange is an inclusive byte range, used for SegmentBase/SIDX addressing.
type ByteRange struct {
	Start int64
	End   int64 // -1 is reserved for "to end of resource"; nothing in this module sets or reads that value.
}

// Segment is the pure-value segment descriptor (ISegment in spec §3).
type Segment struct {
	ID       string
	Number   int64
	Time     float64 // presentation time, seconds
	End      float64 // presentation time, seconds
	Duration float64 // seconds

	Timescale uint32
	// MediaURLs are ordered fallback URLs for the same byte content; nil if not yet resolvable.
	MediaURLs []string
	Range     *ByteRange
	IsInit    bool

	TimestampOffset float64
	// PrivateInfos carries transport-specific hints (e.g. Smooth Streaming tfrf fragment keys).
	PrivateInfos map[string]any
}

// Overlaps reports whether the segment overlaps the half-open window [from, from+duration).
// This implements the spec §8 invariant: time+duration > from && time < from+duration.
func (s Segment) Overlaps(from, duration float64) bool {
	return s.End > from && s.Time < from+duration
}
