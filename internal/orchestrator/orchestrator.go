// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package orchestrator wires the Manifest model, track-choice manager, ABR
// estimator, segment fetcher, and playback observer into one engine (spec
// §13, C11), driving the lifecycle events a host player reacts to and
// mediating fatal-error propagation across the three supervised sub-
// pipelines spec §5/§13 name: streams, playback-rate, and stall-avoider.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dash-Industry-Forum/streamcore/internal/abr"
	"github.com/Dash-Industry-Forum/streamcore/internal/bandwidth"
	"github.com/Dash-Industry-Forum/streamcore/internal/fetcher"
	"github.com/Dash-Industry-Forum/streamcore/internal/manifest"
	"github.com/Dash-Industry-Forum/streamcore/internal/pendingrequests"
	"github.com/Dash-Industry-Forum/streamcore/internal/playback"
	"github.com/Dash-Industry-Forum/streamcore/internal/scorer"
	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
	"github.com/Dash-Industry-Forum/streamcore/internal/trackchoice"
)

// DefaultLookaheadS is how far ahead of the current position the streams
// pipeline tries to keep a Representation's segments fetched.
const DefaultLookaheadS = 10.0

// DefaultSegmentDurationS is used only as a Sample.DurationS fallback before
// any segment of a Representation has been inspected.
const DefaultSegmentDurationS = 2.0

// ManifestFetchFunc retrieves (or re-retrieves) a parsed Manifest. Parsing
// itself is out of this package's scope (spec §1 Non-goals); this is called
// with an already-running context so the caller's HTTP/XML/WASM pipeline
// can honor cancellation.
type ManifestFetchFunc func(ctx context.Context) (*manifest.Manifest, error)

// LifecycleSink receives the orchestrator's top-level lifecycle events
// (spec §13: "loaded", "stalled", "end-of-stream", "reload").
type LifecycleSink interface {
	Loaded()
	Stalled()
	EndOfStream()
	Reload()
}

// NopLifecycleSink implements LifecycleSink with no-ops; the zero value of
// Orchestrator falls back to it so Lifecycle is never nil to call through.
type NopLifecycleSink struct{}

func (NopLifecycleSink) Loaded()      {}
func (NopLifecycleSink) Stalled()     {}
func (NopLifecycleSink) EndOfStream() {}
func (NopLifecycleSink) Reload()      {}

// track is the per-(Period,media-type) state spec §5's shared-resource
// policy requires: its own bandwidth estimator, pending-requests store,
// scorer, and ABR cooldown state, with no cross-instance sharing.
type track struct {
	mu          sync.Mutex
	periodID    string
	mediaType   manifest.MediaType
	bandwidth   *bandwidth.Estimator
	pending     *pendingrequests.Store
	scorer      *scorer.Scorer
	abr         *abr.Estimator
	fetcher     *fetcher.Fetcher
	nextTimeS   float64
	repBitrates map[string]int
}

func (tr *track) repBitrateBps(repID string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.repBitrates[repID]
}

func (tr *track) setRepBitrates(reps []abr.RepresentationInfo) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, r := range reps {
		tr.repBitrates[r.ID] = r.Bitrate
	}
}

func trackKey(periodID string, mt manifest.MediaType) string {
	return periodID + "/" + string(mt)
}

// Orchestrator wires C3..C10 per spec §13's data-flow diagram.
type Orchestrator struct {
	FetchManifest ManifestFetchFunc
	TrackChoice   *trackchoice.Manager
	Playback      *playback.Observer
	Lifecycle     LifecycleSink
	NowFunc       func() time.Time
	LookaheadS    float64

	// Request/Cache/CustomLoader/Backoff configure the per-track Fetchers
	// this Orchestrator creates lazily (one per (Period,media-type) pair,
	// spec §5's shared-resource policy forbids sharing a Fetcher's Pending
	// store across tracks).
	Request      fetcher.RequestFunc
	Cache        fetcher.Cache
	CustomLoader fetcher.CustomLoader
	Backoff      *fetcher.BackoffOptions
	MediaSink    MediaSink

	mu                 sync.Mutex
	mft                *manifest.Manifest
	tracks             map[string]*track
	started            bool
	wasRebuffering     bool
	endOfStreamEmitted bool
}

// New creates an Orchestrator. lifecycle may be nil (defaults to
// NopLifecycleSink).
func New(fetchManifest ManifestFetchFunc, tc *trackchoice.Manager, pb *playback.Observer, lifecycle LifecycleSink) *Orchestrator {
	if lifecycle == nil {
		lifecycle = NopLifecycleSink{}
	}
	return &Orchestrator{
		FetchManifest: fetchManifest,
		TrackChoice:   tc,
		Playback:      pb,
		Lifecycle:     lifecycle,
		LookaheadS:    DefaultLookaheadS,
		tracks:        map[string]*track{},
	}
}

// Manifest returns the most recently loaded Manifest, or nil before the
// first successful Load/Reload/RefreshManifest.
func (o *Orchestrator) Manifest() *manifest.Manifest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mft
}

func (o *Orchestrator) now() time.Time {
	if o.NowFunc != nil {
		return o.NowFunc()
	}
	return time.Now()
}

// Load performs the initial Manifest fetch, seeds the track-choice manager,
// and emits the "loaded" lifecycle event (spec §13).
func (o *Orchestrator) Load(ctx context.Context) error {
	mft, err := o.FetchManifest(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.mft = mft
	o.mu.Unlock()
	o.TrackChoice.UpdatePeriodList(mft.Periods)
	o.Lifecycle.Loaded()
	return nil
}

// Reload discards all per-track ABR/bandwidth/pending state and performs a
// fresh Load, emitting "reload" instead of "loaded" (spec §13). Use this for
// a hard re-initialization (e.g. the host detects the stream id changed),
// as opposed to RefreshManifest's incremental merge.
func (o *Orchestrator) Reload(ctx context.Context) error {
	mft, err := o.FetchManifest(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.mft = mft
	o.tracks = map[string]*track{}
	o.mu.Unlock()
	o.TrackChoice.UpdatePeriodList(mft.Periods)
	o.Lifecycle.Reload()
	return nil
}

// RefreshManifest re-fetches and merges into the existing Manifest (spec
// §4.3's incremental refresh path via manifest.Manifest.Merge), preserving
// every track's ABR/bandwidth/pending state.
func (o *Orchestrator) RefreshManifest(ctx context.Context) error {
	next, err := o.FetchManifest(ctx)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if o.mft == nil {
		o.mft = next
	} else {
		o.mft.Merge(next)
	}
	mft := o.mft
	o.mu.Unlock()
	o.TrackChoice.UpdatePeriodList(mft.Periods)
	return nil
}

// Tick drives one step of the cooperative single-threaded scheduling model
// (spec §5): it samples the playback observer, then runs the three
// supervised sub-pipelines -- stall-avoider, playback-rate, and streams, in
// that order -- returning the first terminal error any of them produces, so
// the whole load fails together (spec §13's closing paragraph).
func (o *Orchestrator) Tick(ctx context.Context, state playback.ElementState) error {
	o.mu.Lock()
	first := !o.started
	o.started = true
	o.mu.Unlock()

	var obs playback.Observation
	if first {
		obs = o.Playback.Start(state)
	} else {
		obs = o.Playback.Sample(state)
	}

	if err := o.runStallAvoider(obs); err != nil {
		return fmt.Errorf("stall-avoider: %w", err)
	}
	if err := o.runPlaybackRate(state, obs); err != nil {
		return fmt.Errorf("playback-rate: %w", err)
	}
	if err := o.runStreams(ctx, state, obs); err != nil {
		return fmt.Errorf("streams: %w", err)
	}
	return nil
}

// runStallAvoider watches the playback observer's rebuffering transitions
// and emits "stalled" on entry (spec §13).
func (o *Orchestrator) runStallAvoider(obs playback.Observation) error {
	o.mu.Lock()
	wasRebuffering := o.wasRebuffering
	o.wasRebuffering = obs.Rebuffering
	o.mu.Unlock()
	if obs.Rebuffering && !wasRebuffering {
		o.Lifecycle.Stalled()
	}
	return nil
}

// runPlaybackRate is the seam for live-edge catch-up rate adjustment. Spec
// §13 names "playback-rate" as one of the three supervised sub-pipelines
// but spec.md never specifies a catch-up algorithm (no target latency,
// catch-up rate curve, or activation window is given anywhere in the
// source spec), so this stays a no-op: a host that needs live catch-up
// drives the element's playbackRate itself from the Observations it
// receives via Playback.Subscribe.
func (o *Orchestrator) runPlaybackRate(state playback.ElementState, obs playback.Observation) error {
	return nil
}

// runStreams is the core streams pipeline: for every (Period, media type)
// the track-choice manager currently wants, it asks that track's ABR
// estimator to choose a Representation and fetches the next due segment
// (spec §2's data-flow diagram).
func (o *Orchestrator) runStreams(ctx context.Context, state playback.ElementState, obs playback.Observation) error {
	o.mu.Lock()
	mft := o.mft
	o.mu.Unlock()
	if mft == nil {
		return nil
	}

	period := currentPeriod(mft, obs.PositionS)
	if period == nil {
		o.maybeEmitEndOfStream(mft, obs)
		return nil
	}

	for _, mt := range []manifest.MediaType{manifest.Video, manifest.Audio, manifest.Text} {
		adaptationID, ok := o.chosenAdaptationID(period.ID, mt)
		if !ok {
			continue
		}
		adaptation := period.FindAdaptation(mt, adaptationID)
		if adaptation == nil || len(adaptation.Representations) == 0 {
			continue
		}
		if err := o.runTrack(ctx, period, adaptation, mt, state, obs); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) maybeEmitEndOfStream(mft *manifest.Manifest, obs playback.Observation) {
	if !isEndOfStream(mft, obs.PositionS) {
		return
	}
	o.mu.Lock()
	already := o.endOfStreamEmitted
	o.endOfStreamEmitted = true
	o.mu.Unlock()
	if !already {
		o.Lifecycle.EndOfStream()
	}
}

func (o *Orchestrator) chosenAdaptationID(periodID string, mt manifest.MediaType) (string, bool) {
	switch mt {
	case manifest.Video:
		return o.TrackChoice.GetChosenVideoTrack(periodID)
	case manifest.Audio:
		return o.TrackChoice.GetChosenAudioTrack(periodID)
	default:
		return o.TrackChoice.GetChosenTextTrack(periodID)
	}
}

func (o *Orchestrator) runTrack(ctx context.Context, p *manifest.Period, a *manifest.Adaptation, mt manifest.MediaType, state playback.ElementState, obs playback.Observation) error {
	tr := o.trackFor(p.ID, mt)

	reps := make([]abr.RepresentationInfo, 0, len(a.Representations))
	for _, r := range a.Representations {
		reps = append(reps, abr.RepresentationInfo{ID: r.ID, Bitrate: int(r.Bitrate), Width: r.Width})
	}
	tr.setRepBitrates(reps)

	tr.mu.Lock()
	if tr.nextTimeS < obs.PositionS {
		tr.nextTimeS = obs.PositionS
	}
	nextTimeS := tr.nextTimeS
	tr.mu.Unlock()

	lookahead := o.effectiveLookahead()
	if nextTimeS > obs.PositionS+lookahead {
		return nil // far enough ahead already; nothing to fetch this tick
	}

	segDur := DefaultSegmentDurationS
	firstRep := a.Representations[0]
	if firstRep.Index != nil {
		if segs := firstRep.Index.GetSegments(nextTimeS, lookahead); len(segs) > 0 {
			segDur = segs[0].Duration
		}
	}

	sample := abr.Sample{
		BufferGapS: obs.BufferGapS,
		PositionS:  obs.PositionS,
		Speed:      state.PlaybackRate,
		DurationS:  segDur,
	}
	est := tr.abr.Choose(sample, reps)
	rep := a.FindRepresentation(est.RepresentationID)
	if rep == nil || rep.Index == nil {
		return nil
	}

	segs := rep.Index.GetSegments(nextTimeS, segDur)
	if len(segs) == 0 {
		return nil
	}
	seg := segs[0]

	content := fetcher.ContentDescriptor{
		PeriodID:         p.ID,
		AdaptationID:     a.ID,
		RepresentationID: rep.ID,
		Segment:          seg,
		VerifyIntegrity:  true,
	}
	err := tr.fetcher.Fetch(ctx, content)
	if err != nil {
		se, ok := err.(*streamerrors.Error)
		if ok && !se.Retryable() {
			return err
		}
		slog.Warn("segment fetch failed, will retry next tick", "period", p.ID, "representation", rep.ID, "segment", seg.ID, "error", err)
		return nil
	}

	tr.mu.Lock()
	tr.nextTimeS = seg.End
	tr.mu.Unlock()
	return nil
}

func (o *Orchestrator) trackFor(periodID string, mt manifest.MediaType) *track {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := trackKey(periodID, mt)
	tr, ok := o.tracks[key]
	if ok {
		return tr
	}
	bw := bandwidth.New()
	pending := pendingrequests.New()
	sc := scorer.New()
	tr = &track{
		periodID:    periodID,
		mediaType:   mt,
		bandwidth:   bw,
		pending:     pending,
		scorer:      sc,
		abr:         abr.New(bw, pending, sc),
		repBitrates: map[string]int{},
	}
	f := fetcher.New(o.Request, newTrackEventSink(tr, o.MediaSink), pending)
	f.Cache = o.Cache
	f.CustomLoader = o.CustomLoader
	if o.Backoff != nil {
		f.Backoff = *o.Backoff
	}
	f.IDPrefix = key
	tr.fetcher = f
	o.tracks[key] = tr
	return tr
}

func (o *Orchestrator) effectiveLookahead() float64 {
	if o.LookaheadS > 0 {
		return o.LookaheadS
	}
	return DefaultLookaheadS
}

// currentPeriod returns the Period containing positionS, the open-ended
// final (live) Period if positionS has run past every closed Period's end,
// or nil if there is no Period to stream from at all.
func currentPeriod(mft *manifest.Manifest, positionS float64) *manifest.Period {
	var last *manifest.Period
	for _, p := range mft.Periods {
		if p.NotInManifest {
			continue
		}
		if positionS >= p.Start && (!p.HasEnd || positionS < p.End) {
			return p
		}
		last = p
	}
	if last != nil && !last.HasEnd {
		return last
	}
	return nil
}

// isEndOfStream reports whether playback has run past the last Period's end
// in a Manifest that won't grow any further (spec §13's "end-of-stream").
func isEndOfStream(mft *manifest.Manifest, positionS float64) bool {
	if mft.IsDynamic && !mft.IsLastPeriodKnown {
		return false
	}
	if len(mft.Periods) == 0 {
		return false
	}
	last := mft.Periods[len(mft.Periods)-1]
	return last.HasEnd && positionS >= last.End
}

// TrackSnapshot is a read-only view of one per-(Period,media-type) track's
// state, for introspection (cmd/streamcore-fetch's /debug/abr endpoint).
type TrackSnapshot struct {
	PeriodID        string  `json:"periodId"`
	MediaType       string  `json:"mediaType"`
	BandwidthBps    float64 `json:"bandwidthBps"`
	HasBandwidth    bool    `json:"hasBandwidth"`
	PendingRequests int     `json:"pendingRequests"`
	NextTimeS       float64 `json:"nextTimeS"`
}

// DebugSnapshot reports the current state of every track the Orchestrator
// has created so far, for debug/metrics surfaces.
func (o *Orchestrator) DebugSnapshot() []TrackSnapshot {
	o.mu.Lock()
	tracks := make([]*track, 0, len(o.tracks))
	for _, tr := range o.tracks {
		tracks = append(tracks, tr)
	}
	o.mu.Unlock()

	out := make([]TrackSnapshot, 0, len(tracks))
	for _, tr := range tracks {
		tr.mu.Lock()
		out = append(out, TrackSnapshot{
			PeriodID:        tr.periodID,
			MediaType:       string(tr.mediaType),
			BandwidthBps:    tr.bandwidth.Estimate(),
			HasBandwidth:    tr.bandwidth.HasEstimate(),
			PendingRequests: tr.pending.Len(),
			NextTimeS:       tr.nextTimeS,
		})
		tr.mu.Unlock()
	}
	return out
}
