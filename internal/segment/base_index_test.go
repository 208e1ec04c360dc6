// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBaseIndexAddAndQuerySegments(t *testing.T) {
	idx := &BaseIndex{
		Timescale: 1000,
		InitRange: ByteRange{Start: 0, End: 799},
		MediaURLs: []string{"https://example.test/video.mp4"},
	}
	idx.AddSegments([]Segment{
		{Number: 1, Time: 0, End: 4, Duration: 4, Range: &ByteRange{Start: 800, End: 100799}},
		{Number: 2, Time: 4, End: 8, Duration: 4, Range: &ByteRange{Start: 100800, End: 200799}},
	})

	init, ok := idx.GetInitSegment()
	require.True(t, ok)
	require.Equal(t, int64(0), init.Range.Start)
	require.Equal(t, int64(799), init.Range.End)

	segs := idx.GetSegments(3.0, 2.0)
	require.Len(t, segs, 2)

	first := idx.GetFirstPosition()
	require.InDelta(t, 0.0, first.Time, 1e-9)
	last := idx.GetLastPosition()
	require.InDelta(t, 4.0, last.Time, 1e-9)

	require.True(t, idx.IsFinished())
	require.False(t, idx.CanBeOutOfSyncError())
}
