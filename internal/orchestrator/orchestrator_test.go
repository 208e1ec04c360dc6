// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/streamcore/internal/manifest"
	"github.com/Dash-Industry-Forum/streamcore/internal/playback"
	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
	"github.com/Dash-Industry-Forum/streamcore/internal/trackchoice"
)

type recordingLifecycle struct {
	loadedCount  int
	stalledCount int
	eosCount     int
	reloadCount  int
}

func (r *recordingLifecycle) Loaded()      { r.loadedCount++ }
func (r *recordingLifecycle) Stalled()     { r.stalledCount++ }
func (r *recordingLifecycle) EndOfStream() { r.eosCount++ }
func (r *recordingLifecycle) Reload()      { r.reloadCount++ }

type recordingSink struct {
	pushes int
}

func (s *recordingSink) Push(periodID, adaptationID, representationID string, data []byte, isInit bool, timestampOffsetS float64) {
	s.pushes++
}

func fakeRequest(body string) func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	return func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
	}
}

func failingRequest(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	return nil, 0, errors.New("connection refused")
}

// memCache is a trivial in-memory fetcher.Cache. Orchestrator content
// descriptors always set VerifyIntegrity, so a fixture segment that is
// meant to reach the MediaSink is marked IsInit and pre-seeded in a
// memCache -- the cache-hit path in Fetch delivers its bytes straight to
// the event sink without running the ISOBMFF well-formedness check, so
// these tests don't need a real boxed payload to exercise the orchestrator
// wiring.
type memCache struct {
	m map[string][]byte
}

func (c *memCache) Get(key string) ([]byte, bool) { d, ok := c.m[key]; return d, ok }
func (c *memCache) Put(key string, data []byte)   { c.m[key] = data }

func videoSegment(id string, t, dur float64) segment.Segment {
	return segment.Segment{
		ID:        id,
		Time:      t,
		End:       t + dur,
		Duration:  dur,
		IsInit:    true,
		MediaURLs: []string{"https://example.invalid/" + id + ".m4s"},
	}
}

func oneRepPeriod(periodID, adaptationID, repID string, segs []segment.Segment) *manifest.Period {
	idx := segment.NewListIndex(segs, false, nil)
	rep := &manifest.Representation{ID: repID, Bitrate: 500_000, IsSupported: true, Index: idx}
	ad := &manifest.Adaptation{ID: adaptationID, Type: manifest.Video, Representations: []*manifest.Representation{rep}}
	return &manifest.Period{
		ID:     periodID,
		Start:  0,
		HasEnd: false,
		Adaptations: map[manifest.MediaType][]*manifest.Adaptation{
			manifest.Video: {ad},
		},
	}
}

func newTestOrchestrator(period *manifest.Period, request func(ctx context.Context, url string) (io.ReadCloser, int64, error)) (*Orchestrator, *trackchoice.Manager, *recordingLifecycle, *recordingSink, *memCache) {
	tc := trackchoice.New(nil)
	pb := playback.NewObserver(playback.ModeMediaSource)
	life := &recordingLifecycle{}
	sink := &recordingSink{}
	cache := &memCache{m: map[string][]byte{}}
	o := New(func(ctx context.Context) (*manifest.Manifest, error) {
		return &manifest.Manifest{Periods: []*manifest.Period{period}}, nil
	}, tc, pb, life)
	o.Request = request
	o.MediaSink = sink
	o.Cache = cache
	return o, tc, life, sink, cache
}

func TestLoadEmitsLoadedAndSeedsTrackChoice(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, tc, life, _, _ := newTestOrchestrator(period, fakeRequest("data"))

	require.NoError(t, o.Load(context.Background()))
	require.Equal(t, 1, life.loadedCount)

	ids := tc.GetAvailableVideoTracks("p0")
	require.ElementsMatch(t, []string{"a-video"}, ids)
}

func TestTickFetchesDueSegmentForChosenTrack(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, tc, _, sink, cache := newTestOrchestrator(period, failingRequest)
	cache.m["r0#s0"] = []byte("cached-init-segment")
	require.NoError(t, o.Load(context.Background()))
	require.NoError(t, tc.SetVideoTrackByID("p0", "a-video"))

	state := playback.ElementState{ReadyState: 1, PositionS: 0, BufferGapS: 5}
	require.NoError(t, o.Tick(context.Background(), state))

	require.Equal(t, 1, sink.pushes)
}

func TestTickSkipsTrackWithNoWantedAdaptation(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, _, _, sink, cache := newTestOrchestrator(period, failingRequest)
	cache.m["r0#s0"] = []byte("cached-init-segment")
	require.NoError(t, o.Load(context.Background()))

	state := playback.ElementState{ReadyState: 1, PositionS: 0, BufferGapS: 5}
	require.NoError(t, o.Tick(context.Background(), state))

	require.Equal(t, 0, sink.pushes)
}

func TestTickDoesNotFetchBeyondLookahead(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, tc, _, sink, cache := newTestOrchestrator(period, failingRequest)
	cache.m["r0#s0"] = []byte("cached-init-segment")
	o.LookaheadS = 1 // shorter than the segment duration
	require.NoError(t, o.Load(context.Background()))
	require.NoError(t, tc.SetVideoTrackByID("p0", "a-video"))

	// nextTimeS starts at 0 <= position(0)+lookahead(1), so the first
	// fetch still happens; a second Tick at the same position must not
	// double-fetch since nextTimeS has already advanced past the window.
	state := playback.ElementState{ReadyState: 1, PositionS: 0, BufferGapS: 5}
	require.NoError(t, o.Tick(context.Background(), state))
	require.Equal(t, 1, sink.pushes)

	require.NoError(t, o.Tick(context.Background(), state))
	require.Equal(t, 1, sink.pushes, "second tick at the same position must not refetch an already-scheduled segment")
}

func TestTickToleratesRetryableFetchFailureWithoutFailingTick(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, tc, _, sink, _ := newTestOrchestrator(period, failingRequest)
	require.NoError(t, o.Load(context.Background()))
	require.NoError(t, tc.SetVideoTrackByID("p0", "a-video"))

	state := playback.ElementState{ReadyState: 1, PositionS: 0, BufferGapS: 5}
	require.NoError(t, o.Tick(context.Background(), state))
	require.Equal(t, 0, sink.pushes)
}

func TestStalledEmittedOnRebufferingEntry(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, _, life, _, _ := newTestOrchestrator(period, fakeRequest("data"))
	require.NoError(t, o.Load(context.Background()))

	ready := playback.ElementState{ReadyState: 4, PositionS: 0, BufferGapS: 5}
	require.NoError(t, o.Tick(context.Background(), ready))
	require.Equal(t, 0, life.stalledCount)

	rebuffering := playback.ElementState{ReadyState: 1, PositionS: 0, BufferGapS: 0}
	require.NoError(t, o.Tick(context.Background(), rebuffering))
	require.Equal(t, 1, life.stalledCount)

	// Staying in the rebuffering state must not re-emit "stalled".
	require.NoError(t, o.Tick(context.Background(), rebuffering))
	require.Equal(t, 1, life.stalledCount)
}

func TestEndOfStreamEmittedOncePastLastClosedPeriod(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	period.HasEnd = true
	period.End = 10
	o, _, life, _, _ := newTestOrchestrator(period, fakeRequest("data"))
	require.NoError(t, o.Load(context.Background()))

	state := playback.ElementState{ReadyState: 1, PositionS: 20, BufferGapS: 0}
	require.NoError(t, o.Tick(context.Background(), state))
	require.Equal(t, 1, life.eosCount)

	require.NoError(t, o.Tick(context.Background(), state))
	require.Equal(t, 1, life.eosCount, "end-of-stream must only fire once")
}

func TestReloadResetsPerTrackState(t *testing.T) {
	period := oneRepPeriod("p0", "a-video", "r0", []segment.Segment{videoSegment("s0", 0, 2)})
	o, tc, life, sink, cache := newTestOrchestrator(period, failingRequest)
	cache.m["r0#s0"] = []byte("cached-init-segment")
	require.NoError(t, o.Load(context.Background()))
	require.NoError(t, tc.SetVideoTrackByID("p0", "a-video"))

	state := playback.ElementState{ReadyState: 1, PositionS: 0, BufferGapS: 5}
	require.NoError(t, o.Tick(context.Background(), state))
	require.Equal(t, 1, sink.pushes)
	require.NotEmpty(t, o.tracks, "trackFor should have created a track entry")

	require.NoError(t, o.Reload(context.Background()))
	require.Equal(t, 1, life.reloadCount)
	require.Empty(t, o.tracks, "Reload must discard every per-track ABR/bandwidth/pending state")
}
