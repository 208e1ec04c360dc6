// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package trackchoice implements the track-choice manager (spec §4.7, C10):
// per-Period, per-media-type "wanted" Adaptation bookkeeping that survives
// Manifest refreshes, falls back to the first supported Adaptation when the
// wanted one disappears, and exposes the named selection APIs a player
// binds to its UI.
package trackchoice

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Dash-Industry-Forum/streamcore/internal/manifest"
)

// Notifier receives a track-changed notification whenever a Period's wanted
// Adaptation for a media type changes, whether by explicit selection or by
// fallback-on-refresh (spec §4.7: "falls back ... and notifies").
type Notifier interface {
	TrackChanged(periodID string, mediaType manifest.MediaType, adaptationID string)
}

// wanted is the per-(Period,type) selection state.
type wanted struct {
	// adaptationID is the currently effective choice; "" means disabled.
	adaptationID string
	// trackBaseID is Video-only: the "normal" Adaptation the user chose,
	// preserved even while a trickmode Adaptation is the effective one
	// (spec §4.7's wanted_track_base).
	trackBaseID string
}

// periodRecord is one entry of the manager's ordered Period-info list.
type periodRecord struct {
	id              string
	period          *manifest.Period
	inManifest      bool
	subscriberCount int
	wanted          map[manifest.MediaType]*wanted
}

// Manager keeps the ordered Period-info list and answers track-selection
// queries and commands (spec §4.7 in full). It owns its list exclusively
// (spec §5's shared-resource policy); its Notifier may fan out further.
type Manager struct {
	mu       sync.Mutex
	periods  []*periodRecord
	notifier Notifier
}

// New creates an empty Manager.
func New(notifier Notifier) *Manager {
	return &Manager{notifier: notifier}
}

// UpdatePeriodList merges a fresh Period list into the manager's own,
// matching by id (spec §4.7: "performs a merge by id that preserves
// subscriber-held records"). Periods missing from newPeriods are marked
// in_manifest=false and kept until no subscriber remains; new Periods are
// appended. For any Period/type whose wanted Adaptation is no longer
// present, the manager falls back to the first supported Adaptation of
// that type and notifies.
func (m *Manager) UpdatePeriodList(newPeriods []*manifest.Period) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := make(map[string]*manifest.Period, len(newPeriods))
	for _, p := range newPeriods {
		byID[p.ID] = p
	}

	merged := make([]*periodRecord, 0, len(m.periods)+len(newPeriods))
	seen := make(map[string]bool, len(newPeriods))

	for _, rec := range m.periods {
		np, ok := byID[rec.id]
		if !ok {
			rec.inManifest = false
			if rec.subscriberCount > 0 {
				merged = append(merged, rec)
			}
			// subscriberCount == 0: drop the record, spec §4.7's "kept
			// until no subscriber remains" condition is now satisfied.
			continue
		}
		seen[rec.id] = true
		rec.period = np
		rec.inManifest = true
		m.reconcileWantedForPeriod(rec)
		merged = append(merged, rec)
	}
	for _, p := range newPeriods {
		if seen[p.ID] {
			continue
		}
		merged = append(merged, &periodRecord{
			id:         p.ID,
			period:     p,
			inManifest: true,
			wanted:     map[manifest.MediaType]*wanted{},
		})
	}
	m.periods = merged
}

// reconcileWantedForPeriod checks, for every media type the record has a
// wanted Adaptation recorded for, whether that Adaptation is still present
// in the refreshed Period; if not, falls back to the first supported
// Adaptation of that type (spec §4.7).
func (m *Manager) reconcileWantedForPeriod(rec *periodRecord) {
	for mt, w := range rec.wanted {
		if w.adaptationID == "" {
			continue // explicitly disabled; nothing to reconcile
		}
		if rec.period.FindAdaptation(mt, w.adaptationID) != nil {
			continue // still present
		}
		fallback := firstSupportedAdaptation(rec.period, mt)
		if fallback == nil {
			w.adaptationID = ""
			w.trackBaseID = ""
		} else {
			w.adaptationID = fallback.ID
			if mt == manifest.Video {
				w.trackBaseID = fallback.ID
			}
		}
		m.notify(rec.id, mt, w.adaptationID)
	}
}

func firstSupportedAdaptation(p *manifest.Period, mt manifest.MediaType) *manifest.Adaptation {
	for _, a := range p.Adaptations[mt] {
		if a.IsSupported() {
			return a
		}
	}
	return nil
}

func (m *Manager) notify(periodID string, mt manifest.MediaType, adaptationID string) {
	if m.notifier != nil {
		m.notifier.TrackChanged(periodID, mt, adaptationID)
	}
}

// Retain marks the Period as having a subscriber, preventing it from being
// dropped by a future UpdatePeriodList once it leaves the Manifest.
func (m *Manager) Retain(periodID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.findOrCreate(periodID)
	rec.subscriberCount++
}

// Release drops one subscriber hold on periodID. If the Period has already
// left the Manifest and no subscriber remains, it is pruned from the list.
func (m *Manager) Release(periodID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.periods {
		if rec.id != periodID {
			continue
		}
		if rec.subscriberCount > 0 {
			rec.subscriberCount--
		}
		if !rec.inManifest && rec.subscriberCount == 0 {
			m.periods = append(m.periods[:i], m.periods[i+1:]...)
		}
		return
	}
}

func (m *Manager) findOrCreate(periodID string) *periodRecord {
	for _, rec := range m.periods {
		if rec.id == periodID {
			return rec
		}
	}
	rec := &periodRecord{id: periodID, wanted: map[manifest.MediaType]*wanted{}}
	m.periods = append(m.periods, rec)
	return rec
}

func (m *Manager) findPeriod(periodID string) *periodRecord {
	for _, rec := range m.periods {
		if rec.id == periodID {
			return rec
		}
	}
	return nil
}

func (m *Manager) wantedFor(rec *periodRecord, mt manifest.MediaType) *wanted {
	w, ok := rec.wanted[mt]
	if !ok {
		w = &wanted{}
		rec.wanted[mt] = w
	}
	return w
}

// setTrackByID is the common body of SetAudioTrackByID/SetTextTrackByID:
// a not-found Period is a warn-and-no-op, a not-found track id is a hard
// error (spec §4.7).
func (m *Manager) setTrackByID(periodID string, mt manifest.MediaType, adaptationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		slog.Warn("trackchoice: set track on unknown period", "period", periodID, "mediaType", mt)
		return nil
	}
	if rec.period != nil && rec.period.FindAdaptation(mt, adaptationID) == nil {
		return fmt.Errorf("trackchoice: no %s adaptation %q in period %q", mt, adaptationID, periodID)
	}
	w := m.wantedFor(rec, mt)
	w.adaptationID = adaptationID
	m.notify(periodID, mt, adaptationID)
	return nil
}

// SetAudioTrackByID selects the audio Adaptation with the given id.
func (m *Manager) SetAudioTrackByID(periodID, adaptationID string) error {
	return m.setTrackByID(periodID, manifest.Audio, adaptationID)
}

// SetTextTrackByID selects the text Adaptation with the given id.
func (m *Manager) SetTextTrackByID(periodID, adaptationID string) error {
	return m.setTrackByID(periodID, manifest.Text, adaptationID)
}

// SetVideoTrackByID selects a "normal" (non-trickmode) video Adaptation.
// It also sets wanted_track_base to this choice, so a later trick-mode
// toggle can restore it (spec §4.7).
func (m *Manager) SetVideoTrackByID(periodID, adaptationID string) error {
	m.mu.Lock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		m.mu.Unlock()
		slog.Warn("trackchoice: set video track on unknown period", "period", periodID)
		return nil
	}
	if rec.period != nil && rec.period.FindAdaptation(manifest.Video, adaptationID) == nil {
		m.mu.Unlock()
		return fmt.Errorf("trackchoice: no video adaptation %q in period %q", adaptationID, periodID)
	}
	w := m.wantedFor(rec, manifest.Video)
	w.adaptationID = adaptationID
	w.trackBaseID = adaptationID
	m.mu.Unlock()
	m.notify(periodID, manifest.Video, adaptationID)
	return nil
}

// SetVideoTrickMode switches the effective video Adaptation to a trickmode
// Adaptation without losing the underlying wanted_track_base choice.
func (m *Manager) SetVideoTrickMode(periodID, trickModeAdaptationID string) error {
	m.mu.Lock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		m.mu.Unlock()
		slog.Warn("trackchoice: set video trickmode on unknown period", "period", periodID)
		return nil
	}
	if rec.period != nil && rec.period.FindAdaptation(manifest.Video, trickModeAdaptationID) == nil {
		m.mu.Unlock()
		return fmt.Errorf("trackchoice: no video adaptation %q in period %q", trickModeAdaptationID, periodID)
	}
	w := m.wantedFor(rec, manifest.Video)
	w.adaptationID = trickModeAdaptationID
	m.mu.Unlock()
	m.notify(periodID, manifest.Video, trickModeAdaptationID)
	return nil
}

// DisableVideoTrickMode restores the video Adaptation to wanted_track_base.
func (m *Manager) DisableVideoTrickMode(periodID string) error {
	m.mu.Lock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		m.mu.Unlock()
		slog.Warn("trackchoice: disable video trickmode on unknown period", "period", periodID)
		return nil
	}
	w := m.wantedFor(rec, manifest.Video)
	base := w.trackBaseID
	w.adaptationID = base
	m.mu.Unlock()
	m.notify(periodID, manifest.Video, base)
	return nil
}

// disableTrack is the common body of the Disable* APIs.
func (m *Manager) disableTrack(periodID string, mt manifest.MediaType) {
	m.mu.Lock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		m.mu.Unlock()
		slog.Warn("trackchoice: disable track on unknown period", "period", periodID, "mediaType", mt)
		return
	}
	w := m.wantedFor(rec, mt)
	w.adaptationID = ""
	if mt == manifest.Video {
		w.trackBaseID = ""
	}
	m.mu.Unlock()
	m.notify(periodID, mt, "")
}

// DisableAudioTrack disables audio for a Period.
func (m *Manager) DisableAudioTrack(periodID string) { m.disableTrack(periodID, manifest.Audio) }

// DisableTextTrack disables text/subtitles for a Period.
func (m *Manager) DisableTextTrack(periodID string) { m.disableTrack(periodID, manifest.Text) }

// DisableVideoTrack disables video for a Period.
func (m *Manager) DisableVideoTrack(periodID string) { m.disableTrack(periodID, manifest.Video) }

// getChosen is the common body of the GetChosen* APIs.
func (m *Manager) getChosen(periodID string, mt manifest.MediaType) (adaptationID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		slog.Warn("trackchoice: get chosen track on unknown period", "period", periodID, "mediaType", mt)
		return "", false
	}
	w, exists := rec.wanted[mt]
	if !exists || w.adaptationID == "" {
		return "", false
	}
	return w.adaptationID, true
}

// GetChosenAudioTrack returns the currently chosen audio Adaptation id.
func (m *Manager) GetChosenAudioTrack(periodID string) (string, bool) {
	return m.getChosen(periodID, manifest.Audio)
}

// GetChosenTextTrack returns the currently chosen text Adaptation id.
func (m *Manager) GetChosenTextTrack(periodID string) (string, bool) {
	return m.getChosen(periodID, manifest.Text)
}

// GetChosenVideoTrack returns the currently effective video Adaptation id
// (which may be a trickmode Adaptation; see GetChosenVideoTrackBase).
func (m *Manager) GetChosenVideoTrack(periodID string) (string, bool) {
	return m.getChosen(periodID, manifest.Video)
}

// GetChosenVideoTrackBase returns the "normal" video Adaptation id even
// while a trickmode Adaptation is effectively selected.
func (m *Manager) GetChosenVideoTrackBase(periodID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.findPeriod(periodID)
	if rec == nil {
		slog.Warn("trackchoice: get chosen video track base on unknown period", "period", periodID)
		return "", false
	}
	w, exists := rec.wanted[manifest.Video]
	if !exists || w.trackBaseID == "" {
		return "", false
	}
	return w.trackBaseID, true
}

// getAvailable is the common body of the GetAvailable* APIs.
func (m *Manager) getAvailable(periodID string, mt manifest.MediaType) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.findPeriod(periodID)
	if rec == nil || rec.period == nil {
		slog.Warn("trackchoice: get available tracks on unknown period", "period", periodID, "mediaType", mt)
		return nil
	}
	ids := make([]string, 0, len(rec.period.Adaptations[mt]))
	for _, a := range rec.period.Adaptations[mt] {
		ids = append(ids, a.ID)
	}
	return ids
}

// GetAvailableAudioTracks lists the audio Adaptation ids in a Period.
func (m *Manager) GetAvailableAudioTracks(periodID string) []string {
	return m.getAvailable(periodID, manifest.Audio)
}

// GetAvailableTextTracks lists the text Adaptation ids in a Period.
func (m *Manager) GetAvailableTextTracks(periodID string) []string {
	return m.getAvailable(periodID, manifest.Text)
}

// GetAvailableVideoTracks lists the video Adaptation ids in a Period,
// including trickmode Adaptations.
func (m *Manager) GetAvailableVideoTracks(periodID string) []string {
	return m.getAvailable(periodID, manifest.Video)
}
