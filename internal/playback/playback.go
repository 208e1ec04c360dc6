// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package playback implements the playback observer (spec §4.6, C9): a
// timer- and event-driven sampler that turns raw media-element state into
// Observations, classifying rebuffering and freezing and disambiguating
// internal (orchestrator-driven) seeks from user-driven ones.
package playback

import (
	"math"
	"sync"
	"time"
)

// Mode selects the sampling interval and the rebuffering-detection strategy
// (spec §4.6: "interval chosen by mode: low-latency, media-source attached,
// or direct file").
type Mode int

const (
	ModeMediaSource Mode = iota
	ModeLowLatency
	ModeDirectFile
)

// Sampling intervals per spec §6's numeric constants.
const (
	SamplingIntervalMediaSourceMs = 1000
	SamplingIntervalLowLatencyMs  = 200
	SamplingIntervalNoMediaSourceMs = 500
)

// SamplingIntervalMs returns the timer interval for mode.
func SamplingIntervalMs(mode Mode) int {
	switch mode {
	case ModeLowLatency:
		return SamplingIntervalLowLatencyMs
	case ModeDirectFile:
		return SamplingIntervalNoMediaSourceMs
	default:
		return SamplingIntervalMediaSourceMs
	}
}

// RebufferReason is why playback entered rebuffering, which selects the
// RESUME_GAP used to leave it again (spec §4.6 / §6).
type RebufferReason int

const (
	ReasonNone RebufferReason = iota
	ReasonSeeking
	ReasonInternalSeek
	ReasonNotReady
	ReasonBuffering
)

// SeekKind labels a 'seeking' event, relabeled per spec §4.6's
// internal-vs-external disambiguation.
type SeekKind int

const (
	SeekNone SeekKind = iota
	SeekExternal
	SeekInternal
)

// Thresholds mirrors spec §6's tunable numeric constants, exposed for tuning
// as the spec requires ("implementations should expose them for tuning").
type Thresholds struct {
	RebufferingGapDefault         float64
	RebufferingGapLowLatency      float64
	ResumeGapAfterSeekingDefault  float64
	ResumeGapAfterSeekingLowLat   float64
	ResumeGapNotEnoughDataDefault float64
	ResumeGapNotEnoughDataLowLat  float64
	ResumeGapAfterBufferDefault   float64
	ResumeGapAfterBufferLowLat    float64
	MinimumBufferBeforeFreezingS  float64
}

// DefaultThresholds are the spec's stable defaults.
var DefaultThresholds = Thresholds{
	RebufferingGapDefault:         0.5,
	RebufferingGapLowLatency:      0.2,
	ResumeGapAfterSeekingDefault:  1.5,
	ResumeGapAfterSeekingLowLat:   0.5,
	ResumeGapNotEnoughDataDefault: 1.5,
	ResumeGapNotEnoughDataLowLat:  0.5,
	ResumeGapAfterBufferDefault:   1.5,
	ResumeGapAfterBufferLowLat:    0.5,
	MinimumBufferBeforeFreezingS:  0.5,
}

func (t Thresholds) rebufferingGap(lowLatency bool) float64 {
	if lowLatency {
		return t.RebufferingGapLowLatency
	}
	return t.RebufferingGapDefault
}

func (t Thresholds) resumeGap(reason RebufferReason, lowLatency bool) float64 {
	switch reason {
	case ReasonSeeking, ReasonInternalSeek:
		if lowLatency {
			return t.ResumeGapAfterSeekingLowLat
		}
		return t.ResumeGapAfterSeekingDefault
	case ReasonNotReady:
		if lowLatency {
			return t.ResumeGapNotEnoughDataLowLat
		}
		return t.ResumeGapNotEnoughDataDefault
	default: // ReasonBuffering
		if lowLatency {
			return t.ResumeGapAfterBufferLowLat
		}
		return t.ResumeGapAfterBufferDefault
	}
}

// ElementState is the raw media-element state a sample observes (spec
// §4.6's list of element events/properties driving a sample).
type ElementState struct {
	ReadyState   int
	Paused       bool
	Ended        bool
	PlaybackRate float64
	PositionS    float64
	BufferGapS   float64 // math.Inf(1) is a valid "no buffer at all" value
}

// Observation is one sample of playback state (spec §3 "Observation").
type Observation struct {
	SampleTime  time.Time
	PositionS   float64
	BufferGapS  float64
	Rebuffering bool
	Freezing    bool
	SeekKind    SeekKind
	Paused      bool
	Ended       bool
}

// Observer samples an ElementState on a timer and on media-element events
// and turns each into an Observation, per spec §4.6.
type Observer struct {
	Mode       Mode
	Thresholds Thresholds
	NowFunc    func() time.Time

	mu                  sync.Mutex
	subscribers         []func(Observation)
	started             bool
	hasObservation      bool
	lastObservation     Observation
	internalSeekCounter int
	currentSeekKind     SeekKind
	rebuffering         bool
	rebufferReason      RebufferReason
	freezing            bool
	everReadyState1     bool
	lastTimeupdateS     float64
	hasTimeupdate       bool
}

// NewObserver creates an Observer for mode with the spec's default
// thresholds.
func NewObserver(mode Mode) *Observer {
	return &Observer{
		Mode:       mode,
		Thresholds: DefaultThresholds,
	}
}

func (o *Observer) now() time.Time {
	if o.NowFunc != nil {
		return o.NowFunc()
	}
	return time.Now()
}

func (o *Observer) isLowLatency() bool {
	return o.Mode == ModeLowLatency
}

// BeginInternalSeek marks that the orchestrator is about to mutate the
// element's current time itself, so the next 'seeking' event is relabeled
// internal-seeking rather than attributed to the user (spec §4.6).
func (o *Observer) BeginInternalSeek() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.internalSeekCounter++
}

// OnSeeking consumes one 'seeking' event, returning its disambiguated kind.
// While internalSeekCounter is non-zero, the event is internal-seeking and
// the counter is decremented; otherwise it's an external (user) seek.
func (o *Observer) OnSeeking() SeekKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.internalSeekCounter > 0 {
		o.internalSeekCounter--
		o.currentSeekKind = SeekInternal
		return SeekInternal
	}
	o.currentSeekKind = SeekExternal
	return SeekExternal
}

// OnSeeked clears the active seek kind on the 'seeked' event: the seek has
// completed and any subsequent rebuffering is no longer attributable to it.
func (o *Observer) OnSeeked() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.currentSeekKind = SeekNone
}

// Subscribe registers fn to be called with every future Observation. Per
// spec §4.6's deferred-initial-subscription primitive, if the Observer has
// already taken its first sample, fn is invoked synchronously right away
// with that same first Observation (or the latest one, if more have since
// occurred) -- preventing a head-start race where an early subscriber would
// see a different "initial" sample than a late one.
func (o *Observer) Subscribe(fn func(Observation)) {
	o.mu.Lock()
	o.subscribers = append(o.subscribers, fn)
	started := o.started
	obs := o.lastObservation
	o.mu.Unlock()
	if started {
		fn(obs)
	}
}

// Start takes the first sample and, synchronously, delivers it to every
// subscriber registered so far -- they all observe the identical initial
// sample (spec §4.6 last paragraph).
func (o *Observer) Start(state ElementState) Observation {
	return o.sample(state, true)
}

// Sample takes a regular (timer- or event-driven) sample.
func (o *Observer) Sample(state ElementState) Observation {
	return o.sample(state, false)
}

func (o *Observer) sample(state ElementState, isStart bool) Observation {
	o.mu.Lock()

	wasEverReady := o.everReadyState1
	if state.ReadyState >= 1 {
		o.everReadyState1 = true
	}

	switch o.Mode {
	case ModeDirectFile:
		o.classifyDirectFileRebuffering(state)
	default:
		o.classifyMediaSourceRebuffering(state, wasEverReady)
	}
	o.classifyFreezing(state)

	obs := Observation{
		SampleTime:  o.now(),
		PositionS:   state.PositionS,
		BufferGapS:  state.BufferGapS,
		Rebuffering: o.rebuffering,
		Freezing:    o.freezing,
		SeekKind:    o.currentSeekKind,
		Paused:      state.Paused,
		Ended:       state.Ended,
	}
	o.lastObservation = obs
	o.hasObservation = true
	o.lastTimeupdateS = state.PositionS
	o.hasTimeupdate = true

	var toNotify []func(Observation)
	if isStart && !o.started {
		o.started = true
		toNotify = append(toNotify, o.subscribers...)
	} else if o.started {
		toNotify = append(toNotify, o.subscribers...)
	}
	o.mu.Unlock()

	for _, fn := range toNotify {
		fn(obs)
	}
	return obs
}

// classifyMediaSourceRebuffering implements spec §4.6's MediaSource-mode
// rebuffering state machine.
func (o *Observer) classifyMediaSourceRebuffering(state ElementState, wasEverReady bool) {
	gap := state.BufferGapS
	lowLatency := o.isLowLatency()
	if !o.rebuffering {
		if state.ReadyState >= 1 && !state.Ended {
			enter := gap <= o.Thresholds.rebufferingGap(lowLatency) || math.IsInf(gap, 1)
			if enter {
				o.rebuffering = true
				o.rebufferReason = o.rebufferEntryReason(wasEverReady)
			}
		}
		return
	}
	resumeGap := o.Thresholds.resumeGap(o.rebufferReason, lowLatency)
	if gap > resumeGap && !math.IsInf(gap, 1) {
		o.rebuffering = false
		o.rebufferReason = ReasonNone
	}
}

// rebufferEntryReason picks the reason at the moment rebuffering is entered.
// wasEverReady reflects readiness strictly before this sample, since the
// very sample that raises ready_state to 1 still counts as "wasn't ready".
func (o *Observer) rebufferEntryReason(wasEverReady bool) RebufferReason {
	switch o.currentSeekKind {
	case SeekExternal:
		return ReasonSeeking
	case SeekInternal:
		return ReasonInternalSeek
	}
	if !wasEverReady {
		return ReasonNotReady
	}
	return ReasonBuffering
}

// classifyDirectFileRebuffering implements spec §4.6's direct-file fallback:
// "rely on timestamp stagnation between two consecutive timeupdate events".
func (o *Observer) classifyDirectFileRebuffering(state ElementState) {
	if state.Paused || state.Ended {
		o.rebuffering = false
		return
	}
	if !o.hasTimeupdate {
		return
	}
	stagnant := state.PositionS == o.lastTimeupdateS
	o.rebuffering = stagnant
}

// classifyFreezing implements spec §4.6's freezing detection: position
// unchanged between samples while buffer_gap exceeds the minimum, not
// paused, not ended, ready, and playing at a non-zero rate. It clears on any
// change in that condition set (spec §8's "sticky until a disqualifying
// condition" invariant) -- a single sample where the position itself moves
// again is read as one of those disqualifying changes.
func (o *Observer) classifyFreezing(state ElementState) {
	conditionsHold := state.BufferGapS > o.Thresholds.MinimumBufferBeforeFreezingS &&
		!state.Paused && !state.Ended && state.ReadyState >= 1 && state.PlaybackRate != 0
	positionUnchanged := o.hasObservation && state.PositionS == o.lastObservation.PositionS
	o.freezing = conditionsHold && positionUnchanged
}

// Rebuffering reports whether the Observer currently considers playback to
// be rebuffering.
func (o *Observer) Rebuffering() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rebuffering
}

// Freezing reports whether the Observer currently considers playback to be
// frozen.
func (o *Observer) Freezing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.freezing
}

// RebufferReason reports why the Observer entered rebuffering, ReasonNone if
// it isn't currently rebuffering.
func (o *Observer) RebufferReason() RebufferReason {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.rebuffering {
		return ReasonNone
	}
	return o.rebufferReason
}

// CurrentSeekKind reports the most recent 'seeking' event's disambiguated
// kind, SeekNone once 'seeked' has cleared it.
func (o *Observer) CurrentSeekKind() SeekKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentSeekKind
}
