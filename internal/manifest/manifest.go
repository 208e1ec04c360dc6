// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package manifest implements the Manifest/Period/Adaptation/Representation
// model (spec §3) and its refresh/merge semantics (spec §4.3, C3). It is
// transport-agnostic: the only way a raw DASH or Smooth-Streaming document
// reaches this package is through one of the `from*.go` adapters, which
// consume an already-parsed tree rather than raw bytes (spec §1's explicit
// "XML/MPD syntactic parsing of raw bytes" non-goal).
package manifest

import (
	"time"

	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
)

// MediaType enumerates the Adaptation media types a Period may carry.
type MediaType string

const (
	Audio MediaType = "audio"
	Video MediaType = "video"
	Text  MediaType = "text"
	Image MediaType = "image"
)

// TimeBounds captures the Manifest-level "how far back/forward can a client
// seek" envelope (spec §3, Manifest.time_bounds).
type TimeBounds struct {
	AbsoluteMinimumTimeS float64
	// TimeshiftDepthS < 0 means no sliding window (full DVR or VoD).
	TimeshiftDepthS float64
	// MaximumTimeIsLinear is true when the maximum time grows with wall-clock
	// (live), false when it is frozen (VoD, or a live stream that just ended).
	MaximumTimeIsLinear bool
	MaximumTimeS        float64
}

// Manifest is the root of the model (spec §3). Periods are stored in
// ascending Start order; consecutive Periods never overlap.
type Manifest struct {
	IsDynamic              bool
	IsLive                 bool
	IsLastPeriodKnown      bool
	AvailabilityStartTimeS float64
	HasAvailabilityStart   bool
	// ClockOffsetMS is server time minus client time.
	ClockOffsetMS               int64
	HasClockOffset              bool
	SuggestedPresentationDelayS float64
	// LifetimeS is how long the Manifest stays valid before a refresh is
	// needed (interpreted from minimumUpdatePeriod); <0 means no periodic refresh.
	LifetimeS    float64
	TimeBounds   TimeBounds
	URIs         []string
	TransportType string

	Periods []*Period

	FetchedAt time.Time
}

// Period is a non-overlapping time window of the presentation (spec §3).
type Period struct {
	ID       string
	Start    float64
	HasEnd   bool
	End      float64
	Adaptations map[MediaType][]*Adaptation

	// NotInManifest marks a Period that disappeared from the latest refresh
	// but is retained until its Adaptations have no subscriber (spec §4.3).
	NotInManifest bool
}

// Adaptation is a single selectable track within a Period for one media type
// (spec §3).
type Adaptation struct {
	ID       string
	Type     MediaType
	Language string // raw, as found in the source Manifest
	// LanguageNormalized is Language normalized to ISO-639-3 via golang.org/x/text/language.
	LanguageNormalized string

	IsAudioDescription bool
	IsClosedCaption    bool
	IsDub              bool
	IsSignInterpreted  bool
	IsTrickModeTrack   bool
	ManuallyAdded      bool

	// TrickModeTrackIDs references companion trick-mode Adaptations by id
	// (a weak reference, resolved via lookup per the ownership rule in spec §3).
	TrickModeTrackIDs []string

	// Representations are sorted ascending by Bitrate.
	Representations []*Representation
}

// IsSupported reports whether any Representation has a supported codec.
func (a *Adaptation) IsSupported() bool {
	for _, r := range a.Representations {
		if r.IsSupported {
			return true
		}
	}
	return false
}

// Decipherable is the tri-state spec §3 Representation.decipherable.
type Decipherable int

const (
	DecipherableUnknown Decipherable = iota
	DecipherableTrue
	DecipherableFalse
)

// HDRInfo carries optional high-dynamic-range signaling for a Representation.
type HDRInfo struct {
	ColorGamut  string
	Transfer    string
	SignalRange string
}

// Representation is a single encoded quality within an Adaptation (spec §3).
type Representation struct {
	ID          string
	Bitrate     int64 // bits/s
	Codec       string
	Width       int
	Height      int
	FrameRate   float64
	MimeType    string
	HDR         *HDRInfo
	Decipherable Decipherable
	IsSupported  bool

	Index segment.Index
}

// FindPeriod returns the Period with the given id, or nil.
func (m *Manifest) FindPeriod(id string) *Period {
	for _, p := range m.Periods {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// FindAdaptation returns the Adaptation with the given id within a Period's
// media-type bucket, or nil.
func (p *Period) FindAdaptation(t MediaType, id string) *Adaptation {
	for _, a := range p.Adaptations[t] {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// FindRepresentation returns the Representation with the given id, or nil.
func (a *Adaptation) FindRepresentation(id string) *Representation {
	for _, r := range a.Representations {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// ShouldRefresh reports whether any Period's Representations ask for a
// refresh, or the Manifest's own lifetime has elapsed (spec §4.3).
func (m *Manifest) ShouldRefresh(nowS float64, from, duration float64) bool {
	if m.LifetimeS >= 0 && !m.FetchedAt.IsZero() {
		if nowS-float64(m.FetchedAt.Unix()) >= m.LifetimeS {
			return true
		}
	}
	for _, p := range m.Periods {
		for _, reps := range p.Adaptations {
			for _, a := range reps {
				for _, r := range a.Representations {
					if r.Index != nil && r.Index.ShouldRefresh(from, duration) {
						return true
					}
				}
			}
		}
	}
	return false
}
