// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package manifest

import (
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
)

// SmoothDoc is a minimal hand-defined representation of a parsed
// Smooth-Streaming client manifest (SmoothStreamingMedia/StreamIndex/
// QualityLevel/c), standing in for the intermediate tree a syntactic parser
// would hand this package -- the corpus carries no maintained Go
// Smooth-Streaming parser (the one stub found, go-webdl-smoothstreaming,
// ships only a go.mod with no source), so this struct is the parser
// boundary's input type for the Smooth transport, mirroring the role
// *mpd.MPD plays for DASH in fromdash.go.
type SmoothDoc struct {
	IsLive       bool
	DVRWindowS   float64 // <0 means unbounded
	Duration100ns int64
	Streams      []SmoothStream
}

type SmoothStream struct {
	Type       string // "video", "audio", "text"
	Language   string
	Timescale  uint32
	Chunks     []SmoothChunk // the <c t d r> entries, shared across QualityLevels
	Qualities  []SmoothQualityLevel
}

type SmoothQualityLevel struct {
	Index       int
	Bitrate     int64
	Codec       string
	Width       int
	Height      int
	FourCC      string
	MediaTemplate string // e.g. "QualityLevels({bitrate})/Fragments(video={start time})"
}

type SmoothChunk struct {
	T    int64
	HasT bool
	D    int64
	R    int
}

// FromSmooth builds a Manifest from a SmoothDoc (spec §6 Inbound parser
// boundary for the Smooth-Streaming transport_type).
func FromSmooth(doc *SmoothDoc, fetchedAt time.Time) (*Manifest, error) {
	out := &Manifest{
		TransportType: "smooth",
		IsDynamic:     doc.IsLive,
		IsLive:        doc.IsLive,
		FetchedAt:     fetchedAt,
		LifetimeS:     -1,
	}
	out.TimeBounds = TimeBounds{TimeshiftDepthS: doc.DVRWindowS, MaximumTimeIsLinear: doc.IsLive}

	period := &Period{ID: "period-0", Start: 0, Adaptations: map[MediaType][]*Adaptation{}}
	if !doc.IsLive {
		period.HasEnd = true
		period.End = float64(doc.Duration100ns) / 1e7
	}

	for i, stream := range doc.Streams {
		adaptation := &Adaptation{
			ID:                 fmt.Sprintf("stream-%d", i),
			Type:               mediaTypeFromSmoothType(stream.Type),
			Language:           stream.Language,
			LanguageNormalized: normalizeLanguageSmooth(stream.Language),
		}
		for _, q := range stream.Qualities {
			rep := &Representation{
				ID:          fmt.Sprintf("%s-%d", adaptation.ID, q.Index),
				Bitrate:     q.Bitrate,
				Codec:       q.Codec,
				Width:       q.Width,
				Height:      q.Height,
				IsSupported: true,
			}
			idx := &segment.SmoothIndex{
				Timescale:        stream.Timescale,
				PeriodStart:      period.Start,
				DVRWindowS:       doc.DVRWindowS,
				MediaTemplate:    q.MediaTemplate,
				RepresentationID: rep.ID,
				Bitrate:          q.Bitrate,
				IsDynamic:        doc.IsLive,
			}
			idx.Seed(toTimelineEntries(stream.Chunks))
			rep.Index = idx
			adaptation.Representations = append(adaptation.Representations, rep)
		}
		sortRepresentationsByBitrate(adaptation.Representations)
		period.Adaptations[adaptation.Type] = append(period.Adaptations[adaptation.Type], adaptation)
	}
	out.Periods = []*Period{period}
	return out, nil
}

func mediaTypeFromSmoothType(t string) MediaType {
	switch t {
	case "audio":
		return Audio
	case "text":
		return Text
	default:
		return Video
	}
}

func normalizeLanguageSmooth(raw string) string {
	if raw == "" {
		return ""
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No {
		return ""
	}
	return base.ISO3()
}

func toTimelineEntries(chunks []SmoothChunk) []segment.TimelineEntry {
	out := make([]segment.TimelineEntry, len(chunks))
	for i, c := range chunks {
		out[i] = segment.TimelineEntry{T: c.T, HasT: c.HasT, D: c.D, R: c.R}
	}
	return out
}
