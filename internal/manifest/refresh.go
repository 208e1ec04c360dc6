// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package manifest

// Merge absorbs next into m in place, matching Periods by id (preferred) or
// by start time (fallback), matching Adaptations by id within a matched
// Period, and calling Update on each surviving Representation's Segment
// Index (spec §4.3). New Periods are appended; Periods missing from next are
// marked NotInManifest rather than removed outright.
func (m *Manifest) Merge(next *Manifest) {
	m.IsDynamic = next.IsDynamic
	m.IsLive = next.IsLive
	m.IsLastPeriodKnown = next.IsLastPeriodKnown
	m.AvailabilityStartTimeS = next.AvailabilityStartTimeS
	m.HasAvailabilityStart = next.HasAvailabilityStart
	m.ClockOffsetMS = next.ClockOffsetMS
	m.HasClockOffset = next.HasClockOffset
	m.SuggestedPresentationDelayS = next.SuggestedPresentationDelayS
	m.LifetimeS = next.LifetimeS
	m.TimeBounds = next.TimeBounds
	m.URIs = next.URIs
	m.TransportType = next.TransportType
	m.FetchedAt = next.FetchedAt

	matched := make(map[*Period]bool, len(next.Periods))
	merged := make([]*Period, 0, len(m.Periods)+len(next.Periods))

	for _, existing := range m.Periods {
		np := findMatchingPeriod(existing, next.Periods, matched)
		if np == nil {
			existing.NotInManifest = true
			merged = append(merged, existing)
			continue
		}
		matched[np] = true
		mergePeriod(existing, np)
		merged = append(merged, existing)
	}
	for _, np := range next.Periods {
		if !matched[np] {
			merged = append(merged, np)
		}
	}
	m.Periods = merged
}

func findMatchingPeriod(existing *Period, candidates []*Period, taken map[*Period]bool) *Period {
	for _, c := range candidates {
		if taken[c] {
			continue
		}
		if existing.ID != "" && c.ID != "" && existing.ID == c.ID {
			return c
		}
	}
	for _, c := range candidates {
		if taken[c] {
			continue
		}
		if (existing.ID == "" || c.ID == "") && sameStart(existing.Start, c.Start) {
			return c
		}
	}
	return nil
}

func sameStart(a, b float64) bool {
	const eps = 1e-3
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}

func mergePeriod(existing, next *Period) {
	existing.Start = next.Start
	existing.HasEnd = next.HasEnd
	existing.End = next.End
	existing.NotInManifest = false

	for mediaType, nextAdaptations := range next.Adaptations {
		existingAdaptations := existing.Adaptations[mediaType]
		matched := make(map[*Adaptation]bool, len(nextAdaptations))
		mergedAdaptations := make([]*Adaptation, 0, len(existingAdaptations)+len(nextAdaptations))

		for _, ea := range existingAdaptations {
			na := findMatchingAdaptation(ea, nextAdaptations, matched)
			if na == nil {
				continue // no longer present; dropped (Adaptations carry no NotInManifest flag in the model)
			}
			matched[na] = true
			mergeAdaptation(ea, na)
			mergedAdaptations = append(mergedAdaptations, ea)
		}
		for _, na := range nextAdaptations {
			if !matched[na] {
				mergedAdaptations = append(mergedAdaptations, na)
			}
		}
		if existing.Adaptations == nil {
			existing.Adaptations = map[MediaType][]*Adaptation{}
		}
		existing.Adaptations[mediaType] = mergedAdaptations
	}
}

func findMatchingAdaptation(existing *Adaptation, candidates []*Adaptation, taken map[*Adaptation]bool) *Adaptation {
	for _, c := range candidates {
		if taken[c] {
			continue
		}
		if existing.ID != "" && c.ID != "" && existing.ID == c.ID {
			return c
		}
	}
	return nil
}

func mergeAdaptation(existing, next *Adaptation) {
	existing.Language = next.Language
	existing.LanguageNormalized = next.LanguageNormalized
	existing.IsAudioDescription = next.IsAudioDescription
	existing.IsClosedCaption = next.IsClosedCaption
	existing.IsDub = next.IsDub
	existing.IsSignInterpreted = next.IsSignInterpreted
	existing.IsTrickModeTrack = next.IsTrickModeTrack
	existing.TrickModeTrackIDs = next.TrickModeTrackIDs

	matched := make(map[*Representation]bool, len(next.Representations))
	merged := make([]*Representation, 0, len(existing.Representations)+len(next.Representations))
	for _, er := range existing.Representations {
		nr := findMatchingRepresentation(er, next.Representations, matched)
		if nr == nil {
			continue
		}
		matched[nr] = true
		mergeRepresentation(er, nr)
		merged = append(merged, er)
	}
	for _, nr := range next.Representations {
		if !matched[nr] {
			merged = append(merged, nr)
		}
	}
	existing.Representations = merged
}

func findMatchingRepresentation(existing *Representation, candidates []*Representation, taken map[*Representation]bool) *Representation {
	for _, c := range candidates {
		if taken[c] {
			continue
		}
		if existing.ID != "" && c.ID != "" && existing.ID == c.ID {
			return c
		}
	}
	return nil
}

func mergeRepresentation(existing, next *Representation) {
	existing.Bitrate = next.Bitrate
	existing.Codec = next.Codec
	existing.Width = next.Width
	existing.Height = next.Height
	existing.FrameRate = next.FrameRate
	existing.MimeType = next.MimeType
	existing.HDR = next.HDR
	existing.Decipherable = next.Decipherable
	existing.IsSupported = next.IsSupported

	if existing.Index == nil {
		existing.Index = next.Index
		return
	}
	if next.Index == nil {
		return
	}
	existing.Index.Update(next.Index)
}
