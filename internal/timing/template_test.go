// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package timing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetokenizeRoundTrip(t *testing.T) {
	cases := []struct {
		tmpl string
		v    Values
		want string
	}{
		{
			tmpl: "$RepresentationID$/$Number%06d$.m4s",
			v:    Values{RepresentationID: "video-1", Number: 42},
			want: "video-1/000042.m4s",
		},
		{
			tmpl: "chunk-$Time$-$Bitrate$.cmfv",
			v:    Values{Time: 900900, Bitrate: 2000000},
			want: "chunk-900900-2000000.cmfv",
		},
		{
			tmpl: "$RepresentationID$/$Number$.m4s",
			v:    Values{RepresentationID: "a1", Number: 7},
			want: "a1/7.m4s",
		},
	}
	for _, c := range cases {
		got, err := Detokenize(c.tmpl, c.v)
		require.NoError(t, err)
		require.Equal(t, c.want, got)
	}
}

func TestHasToken(t *testing.T) {
	require.True(t, HasToken("$RepresentationID$/$Number%06d$.m4s", "Number"))
	require.False(t, HasToken("$RepresentationID$/$Number%06d$.m4s", "Time"))
}
