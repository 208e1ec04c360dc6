// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fetcher

import (
	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
)

// CheckSegmentIntegrity verifies that data decodes as a structurally
// well-formed ISOBMFF file (spec §4.4 closing paragraph: "verify that the
// top-level boxes are structurally well-formed"), grounded on the same
// bits.NewFixedSliceReader + mp4.DecodeFileSR pattern the teacher uses to
// parse init segments and media segments in cmd/livesim2/app/asset.go.
func CheckSegmentIntegrity(data []byte) error {
	sr := bits.NewFixedSliceReader(data)
	if _, err := mp4.DecodeFileSR(sr); err != nil {
		return streamerrors.Integrity("segment failed ISOBMFF well-formedness check", err)
	}
	return nil
}
