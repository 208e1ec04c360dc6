// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package timing implements the time arithmetic shared by every segment
// index variant (media time <-> presentation time <-> timeline ticks) and
// the $Token$ URL templating used to turn a segment descriptor into a
// fetchable URL, per spec §4.1.
package timing

import "math"

// MediaTime converts a timeline tick into media time, in seconds.
func MediaTime(tIndex int64, timescale uint32) float64 {
	if timescale == 0 {
		return 0
	}
	return float64(tIndex) / float64(timescale)
}

// PresentationTime converts a timeline tick into presentation time, in seconds,
// given the presentation-time-offset (PTO) and the owning Period's start time.
func PresentationTime(tIndex int64, timescale uint32, pto int64, periodStart float64) float64 {
	if timescale == 0 {
		return periodStart
	}
	return float64(tIndex-pto)/float64(timescale) + periodStart
}

// TimelineTick is the inverse of PresentationTime: given a presentation time T,
// return the timeline tick nearest to T (rounded).
func TimelineTick(presentationTime float64, timescale uint32, pto int64, periodStart float64) int64 {
	return int64(math.Round((presentationTime-periodStart)*float64(timescale))) + pto
}

// Duration converts a tick-count duration into seconds.
func Duration(ticks int64, timescale uint32) float64 {
	if timescale == 0 {
		return 0
	}
	return float64(ticks) / float64(timescale)
}

// DurationTicks converts a duration in seconds into ticks at the given timescale.
func DurationTicks(seconds float64, timescale uint32) int64 {
	return int64(math.Round(seconds * float64(timescale)))
}
