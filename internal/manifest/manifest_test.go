// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
)

func TestAdaptationIsSupported(t *testing.T) {
	a := &Adaptation{Representations: []*Representation{
		{ID: "r1", IsSupported: false},
		{ID: "r2", IsSupported: true},
	}}
	require.True(t, a.IsSupported())

	b := &Adaptation{Representations: []*Representation{{ID: "r1", IsSupported: false}}}
	require.False(t, b.IsSupported())
}

func TestManifestShouldRefreshFromIndex(t *testing.T) {
	idx := &segment.TemplateIndex{
		Timescale:     1000,
		DurationTicks: 2000,
		IsDynamic:     true,
		Bounds: segment.BoundsCalculator{
			TimeshiftBufferDepthS: -1,
			NowFunc:               func() float64 { return 10 },
		},
	}
	m := &Manifest{
		LifetimeS: -1,
		Periods: []*Period{
			{ID: "P0", Adaptations: map[MediaType][]*Adaptation{
				Video: {{ID: "a1", Representations: []*Representation{{ID: "r1", Index: idx}}}},
			}},
		},
	}
	require.True(t, m.ShouldRefresh(0, 0, 100))
	require.False(t, m.ShouldRefresh(0, 0, 0))
}
