// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package trackchoice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/streamcore/internal/manifest"
)

type recordingNotifier struct {
	events []trackChangedEvent
}

type trackChangedEvent struct {
	periodID string
	mt       manifest.MediaType
	adaptationID string
}

func (r *recordingNotifier) TrackChanged(periodID string, mt manifest.MediaType, adaptationID string) {
	r.events = append(r.events, trackChangedEvent{periodID, mt, adaptationID})
}

func supportedAdaptation(id string, mt manifest.MediaType) *manifest.Adaptation {
	return &manifest.Adaptation{
		ID:   id,
		Type: mt,
		Representations: []*manifest.Representation{
			{ID: id + "-rep0", IsSupported: true},
		},
	}
}

func periodWithAudioTracks(id string, audioIDs ...string) *manifest.Period {
	var auds []*manifest.Adaptation
	for _, aid := range audioIDs {
		auds = append(auds, supportedAdaptation(aid, manifest.Audio))
	}
	return &manifest.Period{
		ID: id,
		Adaptations: map[manifest.MediaType][]*manifest.Adaptation{
			manifest.Audio: auds,
		},
	}
}

func TestSetAndGetChosenAudioTrack(t *testing.T) {
	n := &recordingNotifier{}
	mgr := New(n)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en", "a-fr")})

	err := mgr.SetAudioTrackByID("p0", "a-fr")
	require.NoError(t, err)
	id, ok := mgr.GetChosenAudioTrack("p0")
	require.True(t, ok)
	require.Equal(t, "a-fr", id)
}

func TestSetTrackUnknownIDIsHardError(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en")})
	err := mgr.SetAudioTrackByID("p0", "a-does-not-exist")
	require.Error(t, err)
}

func TestSetTrackUnknownPeriodIsWarnAndNoop(t *testing.T) {
	mgr := New(nil)
	err := mgr.SetAudioTrackByID("ghost-period", "a-en")
	require.NoError(t, err)
	_, ok := mgr.GetChosenAudioTrack("ghost-period")
	require.False(t, ok)
}

func TestDisableAudioTrack(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en")})
	require.NoError(t, mgr.SetAudioTrackByID("p0", "a-en"))
	mgr.DisableAudioTrack("p0")
	_, ok := mgr.GetChosenAudioTrack("p0")
	require.False(t, ok)
}

func TestGetAvailableAudioTracks(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en", "a-fr")})
	ids := mgr.GetAvailableAudioTracks("p0")
	require.ElementsMatch(t, []string{"a-en", "a-fr"}, ids)
}

func TestFallbackToFirstSupportedAdaptationOnRefreshWhenWantedDisappears(t *testing.T) {
	n := &recordingNotifier{}
	mgr := New(n)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en", "a-fr")})
	require.NoError(t, mgr.SetAudioTrackByID("p0", "a-fr"))

	// Refresh: a-fr is gone, only a-en and a-de remain.
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en", "a-de")})

	id, ok := mgr.GetChosenAudioTrack("p0")
	require.True(t, ok)
	require.Equal(t, "a-en", id) // first supported Adaptation, in list order

	found := false
	for _, ev := range n.events {
		if ev.periodID == "p0" && ev.mt == manifest.Audio && ev.adaptationID == "a-en" {
			found = true
		}
	}
	require.True(t, found, "expected a fallback TrackChanged notification")
}

func TestRemovedPeriodKeptWhileSubscribed(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en")})
	mgr.Retain("p0")

	mgr.UpdatePeriodList([]*manifest.Period{}) // p0 disappears from the manifest

	rec := mgr.findPeriod("p0")
	require.NotNil(t, rec, "period with an active subscriber must be kept")
	require.False(t, rec.inManifest)
}

func TestRemovedPeriodPrunedOnceUnsubscribed(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en")})
	mgr.Retain("p0")
	mgr.UpdatePeriodList([]*manifest.Period{})
	require.NotNil(t, mgr.findPeriod("p0"))

	mgr.Release("p0")
	require.Nil(t, mgr.findPeriod("p0"))
}

func TestRemovedPeriodWithNoSubscribersIsPrunedImmediately(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en")})
	mgr.UpdatePeriodList([]*manifest.Period{})
	require.Nil(t, mgr.findPeriod("p0"))
}

func videoAdaptation(id string, trickmode bool) *manifest.Adaptation {
	a := supportedAdaptation(id, manifest.Video)
	a.IsTrickModeTrack = trickmode
	return a
}

func periodWithVideoTracks(id string, adaptations ...*manifest.Adaptation) *manifest.Period {
	return &manifest.Period{
		ID: id,
		Adaptations: map[manifest.MediaType][]*manifest.Adaptation{
			manifest.Video: adaptations,
		},
	}
}

func TestVideoTrickModeTogglePreservesTrackBase(t *testing.T) {
	mgr := New(nil)
	normal := videoAdaptation("v-normal", false)
	trick := videoAdaptation("v-trick", true)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithVideoTracks("p0", normal, trick)})

	require.NoError(t, mgr.SetVideoTrackByID("p0", "v-normal"))
	base, ok := mgr.GetChosenVideoTrackBase("p0")
	require.True(t, ok)
	require.Equal(t, "v-normal", base)

	require.NoError(t, mgr.SetVideoTrickMode("p0", "v-trick"))
	effective, ok := mgr.GetChosenVideoTrack("p0")
	require.True(t, ok)
	require.Equal(t, "v-trick", effective)
	// The base choice survives the trick-mode toggle.
	base, ok = mgr.GetChosenVideoTrackBase("p0")
	require.True(t, ok)
	require.Equal(t, "v-normal", base)

	require.NoError(t, mgr.DisableVideoTrickMode("p0"))
	effective, ok = mgr.GetChosenVideoTrack("p0")
	require.True(t, ok)
	require.Equal(t, "v-normal", effective)
}

func TestNewPeriodAppearsInList(t *testing.T) {
	mgr := New(nil)
	mgr.UpdatePeriodList([]*manifest.Period{periodWithAudioTracks("p0", "a-en")})
	mgr.UpdatePeriodList([]*manifest.Period{
		periodWithAudioTracks("p0", "a-en"),
		periodWithAudioTracks("p1", "a-en"),
	})
	require.NotNil(t, mgr.findPeriod("p1"))
}
