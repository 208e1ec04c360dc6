// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package manifest

import (
	"testing"

	m "github.com/Eyevinn/dash-mpd/mpd"
	"github.com/stretchr/testify/require"
)

func TestMediaTypeFromAdaptationSetUsesContentTypeWhenPresent(t *testing.T) {
	as := &m.AdaptationSetType{ContentType: "audio"}
	require.Equal(t, Audio, mediaTypeFromAdaptationSet(as))
}

func TestMediaTypeFromAdaptationSetFallsBackToMimeType(t *testing.T) {
	as := &m.AdaptationSetType{
		RepresentationBaseType: m.RepresentationBaseType{MimeType: "audio/mp4"},
	}
	require.Equal(t, Audio, mediaTypeFromAdaptationSet(as))
}

func TestMediaTypeFromAdaptationSetDefaultsToVideoWhenUnresolvable(t *testing.T) {
	as := &m.AdaptationSetType{}
	require.Equal(t, Video, mediaTypeFromAdaptationSet(as))
}
