// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSmoothIndexSeedAndPatch(t *testing.T) {
	idx := &SmoothIndex{
		Timescale:     1000,
		MediaTemplate: "$Number$.m4s",
		IsDynamic:     true,
		DVRWindowS:    -1,
	}
	idx.Seed([]TimelineEntry{
		{T: 0, HasT: true, D: 2000},
		{D: 2000},
	})
	require.Len(t, idx.GetSegments(0, 10), 2)
	require.True(t, idx.ShouldRefresh(0, 10))

	idx.PatchFromTfrf([]TimelineEntry{{T: 4000, HasT: true, D: 2000}})
	segs := idx.GetSegments(0, 10)
	require.Len(t, segs, 3)
	require.InDelta(t, 4.0, segs[2].Time, 1e-9)

	// Re-patching the same fragment is idempotent.
	idx.PatchFromTfrf([]TimelineEntry{{T: 4000, HasT: true, D: 2000}})
	require.Len(t, idx.GetSegments(0, 10), 3)
}

func TestSmoothIndexDVREviction(t *testing.T) {
	idx := &SmoothIndex{
		Timescale:     1000,
		MediaTemplate: "$Number$.m4s",
		IsDynamic:     true,
		DVRWindowS:    3,
	}
	idx.Seed([]TimelineEntry{
		{T: 0, HasT: true, D: 2000},
		{D: 2000},
		{D: 2000},
	})
	// newest segment ends at 6s; DVR window 3s => cutoff 3s, so the first
	// segment (ending at 2s) should be evicted.
	first := idx.GetFirstPosition()
	require.InDelta(t, 2.0, first.Time, 1e-9)
}
