// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestListIndexDedupesAndSorts(t *testing.T) {
	init := &Segment{IsInit: true, MediaURLs: []string{"init.mp4"}}
	idx := NewListIndex([]Segment{
		{Number: 2, Time: 4, End: 8, Duration: 4},
		{Number: 1, Time: 0, End: 4, Duration: 4},
		{Number: 1, Time: 0, End: 4, Duration: 4}, // duplicate
	}, false, init)

	initSeg, ok := idx.GetInitSegment()
	require.True(t, ok)
	require.Equal(t, []string{"init.mp4"}, initSeg.MediaURLs)

	segs := idx.GetSegments(0, 10)
	want := []Segment{
		{Number: 1, Time: 0, End: 4, Duration: 4},
		{Number: 2, Time: 4, End: 8, Duration: 4},
	}
	if diff := cmp.Diff(want, segs); diff != "" {
		t.Errorf("dedupe+sort mismatch (-want +got):\n%s", diff)
	}

	require.True(t, idx.IsFinished())
	require.False(t, idx.ShouldRefresh(0, 100))
}

func TestListIndexAddSegmentsIdempotent(t *testing.T) {
	idx := NewListIndex(nil, true, nil)
	idx.AddSegments([]Segment{{Number: 1, Time: 0, End: 2, Duration: 2}})
	idx.AddSegments([]Segment{{Number: 1, Time: 0, End: 2, Duration: 2}})
	require.Len(t, idx.GetSegments(0, 10), 1)
	require.True(t, idx.ShouldRefresh(0, 100))
}
