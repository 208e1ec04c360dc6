// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package segment

import (
	"log/slog"

	"github.com/Dash-Industry-Forum/streamcore/internal/timing"
)

// resolveMediaURLs detokenizes tmpl against each BaseURL fallback (spec §4.1:
// "Template errors must fail the Representation, not the whole Manifest" —
// so a detokenization failure here logs and yields an empty URL list rather
// than panicking or returning an error up through the Index interface).
func resolveMediaURLs(baseURLs []string, tmpl, repID string, bitrate, number, t int64) []string {
	if tmpl == "" {
		return nil
	}
	v := timing.Values{RepresentationID: repID, Bitrate: bitrate, Number: number, Time: t}
	rel, err := timing.Detokenize(tmpl, v)
	if err != nil {
		slog.Warn("segment template detokenization failed", "template", tmpl, "error", err)
		return nil
	}
	if len(baseURLs) == 0 {
		return []string{rel}
	}
	urls := make([]string, 0, len(baseURLs))
	for _, b := range baseURLs {
		urls = append(urls, b+rel)
	}
	return urls
}
