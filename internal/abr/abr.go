// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package abr implements the adaptive bitrate estimator (spec §4.5, C8):
// single-Representation passthrough, manual-bitrate override, and the
// auto path combining bandwidth-based choice, buffer-based (BOLA-like)
// choice with hysteresis, and guess mode with a back-off cooldown.
package abr

import (
	"sort"
	"time"

	"github.com/Dash-Industry-Forum/streamcore/internal/bandwidth"
	"github.com/Dash-Industry-Forum/streamcore/internal/pendingrequests"
	"github.com/Dash-Industry-Forum/streamcore/internal/scorer"
)

// RepresentationInfo is the minimal view of a Representation the
// estimator needs: id, bitrate, and width (for width_ceiling filtering).
type RepresentationInfo struct {
	ID      string
	Bitrate int
	Width   int
}

// Sample is one playback clock sample (spec §4.5 inputs).
type Sample struct {
	BufferGapS float64
	PositionS  float64
	Speed      float64
	DurationS  float64
	LiveGapS   float64
	HasLiveGap bool
}

// Estimate is the estimator's output (spec §4.5 closing paragraph).
type Estimate struct {
	Bitrate            int
	RepresentationID   string
	Urgent             bool
	Manual             bool
	KnownStableBitrate float64
}

// Tunables, all spec §9 Open-Questions resolved as configurable defaults
// rather than hardcoded constants.
const (
	DefaultBufferBasedActivateS   = 10.0
	DefaultBufferBasedDeactivateS = 5.0
	DefaultGuessLiveGapMaxS       = 50.0
	DefaultGuessMinBufferGapS     = 6.0
	DefaultGuessMinScoreRatio     = 1.4
	DefaultGuessBaseCooldownS     = 120.0
	DefaultGuessMaxCooldownS      = 360.0
	// DefaultCacheHeuristicMinDurationS below this, a completed request
	// looks like a cache hit (spec §4.5 "extremely short duration for its
	// size") and is not fed into the bandwidth estimator.
	DefaultCacheHeuristicMinDurationS = 0.05
)

// Estimator holds all per-(media-type, Period) ABR state: the bandwidth
// estimator, pending-requests store, and Representation scorer are owned
// exclusively by one Estimator instance (spec §5 shared-resource policy).
type Estimator struct {
	Bandwidth *bandwidth.Estimator
	Pending   *pendingrequests.Store
	Scorer    *scorer.Scorer
	NowFunc   func() time.Time

	ManualBitrateBps  int // -1 disables manual override
	MinAutoBitrateBps int // 0 = unbounded
	MaxAutoBitrateBps int // 0 = unbounded
	BitrateCeilingBps int // -1 = no ceiling
	WidthCeiling      int // -1 = no ceiling

	BufferBasedActivateS   float64
	BufferBasedDeactivateS float64
	GuessLiveGapMaxS       float64
	GuessMinBufferGapS     float64
	GuessMinScoreRatio     float64
	GuessBaseCooldownS     float64
	GuessMaxCooldownS      float64

	currentRepresentationID string
	bufferBasedActive       bool
	knownStableBitrateBps   float64

	consecutiveWrongGuesses int
	cooldownUntil           time.Time
	guessing                bool
	guessedRepresentationID string
	guessedBitrateBps       int
}

// New creates an Estimator with spec-default tunables, auto bitrate mode,
// and no bounds/ceilings.
func New(bw *bandwidth.Estimator, pending *pendingrequests.Store, sc *scorer.Scorer) *Estimator {
	return &Estimator{
		Bandwidth:              bw,
		Pending:                pending,
		Scorer:                 sc,
		NowFunc:                time.Now,
		ManualBitrateBps:       -1,
		BitrateCeilingBps:      -1,
		WidthCeiling:           -1,
		BufferBasedActivateS:   DefaultBufferBasedActivateS,
		BufferBasedDeactivateS: DefaultBufferBasedDeactivateS,
		GuessLiveGapMaxS:       DefaultGuessLiveGapMaxS,
		GuessMinBufferGapS:     DefaultGuessMinBufferGapS,
		GuessMinScoreRatio:     DefaultGuessMinScoreRatio,
		GuessBaseCooldownS:     DefaultGuessBaseCooldownS,
		GuessMaxCooldownS:      DefaultGuessMaxCooldownS,
	}
}

func (e *Estimator) now() time.Time {
	if e.NowFunc != nil {
		return e.NowFunc()
	}
	return time.Now()
}

// RecordCompletedRequest feeds one finished segment download's metrics
// into the bandwidth estimator and, for non-init segments, the
// maintainability scorer (spec §4.5 "Metric intake").
func (e *Estimator) RecordCompletedRequest(repID string, bitrateBps int, bytes int64, durationS float64, isInit bool, segmentDurationS float64) {
	if durationS < DefaultCacheHeuristicMinDurationS {
		return // looks like a cache hit, not real network throughput
	}
	e.Bandwidth.Sample(bytes, durationS)
	if !isInit && segmentDurationS > 0 {
		e.Scorer.Record(repID, segmentDurationS, durationS)
		score, confidence := e.Scorer.Score(repID)
		if confidence == scorer.HIGH && score >= 1.0 {
			e.knownStableBitrateBps = float64(bitrateBps)
		}
	}
	if e.guessing && repID == e.guessedRepresentationID {
		threshold := segmentDurationS
		if isInit {
			threshold = 1.0
		}
		if durationS > threshold {
			e.abortGuess()
		}
	}
}

// ObserveInFlightRequest lets the caller report an in-progress download's
// elapsed time and in-flight bandwidth for guess-mode abort monitoring
// (spec §4.5 "if any request elapses beyond its segment duration ... or
// if its in-flight bandwidth drops below the Representation's bitrate").
func (e *Estimator) ObserveInFlightRequest(repID string, bitrateBps int, elapsedS, expectedDurationS float64, inFlightBps float64, isInit bool) {
	if !e.guessing || repID != e.guessedRepresentationID {
		return
	}
	threshold := expectedDurationS
	if isInit {
		threshold = 1.0
	}
	if elapsedS > threshold || (inFlightBps > 0 && inFlightBps < float64(bitrateBps)) {
		e.abortGuess()
	}
}

func (e *Estimator) abortGuess() {
	e.guessing = false
	e.consecutiveWrongGuesses++
	cooldown := float64(e.consecutiveWrongGuesses) * e.GuessBaseCooldownS
	if cooldown > e.GuessMaxCooldownS {
		cooldown = e.GuessMaxCooldownS
	}
	e.cooldownUntil = e.now().Add(time.Duration(cooldown * float64(time.Second)))
}

// Choose computes the next Estimate given a playback sample and the
// sorted (ascending-bitrate) Representation list (spec §4.5).
func (e *Estimator) Choose(sample Sample, reps []RepresentationInfo) Estimate {
	if len(reps) == 1 {
		return Estimate{Bitrate: reps[0].Bitrate, RepresentationID: reps[0].ID}
	}

	if e.ManualBitrateBps >= 0 {
		chosen := pickManual(reps, e.ManualBitrateBps)
		e.setCurrent(chosen)
		return Estimate{Bitrate: chosen.Bitrate, RepresentationID: chosen.ID, Urgent: true, Manual: true, KnownStableBitrate: e.knownStable(sample.Speed)}
	}

	eligible := e.filterEligible(reps)
	if len(eligible) == 0 {
		eligible = reps
	}

	now := e.now()
	speed := sample.Speed
	if speed <= 0 {
		speed = 1.0
	}

	pessimisticBps := e.Bandwidth.Estimate()
	if e.Pending != nil {
		pessimisticBps = e.Pending.GlobalPessimisticEstimate(pessimisticBps, now)
	}
	bandwidthBased := pickAtOrBelow(eligible, pessimisticBps*speed)

	e.updateBufferBasedActivation(sample.BufferGapS)
	chosen := bandwidthBased
	if e.bufferBasedActive {
		if bufferBased := e.pickBufferBased(eligible, sample.BufferGapS); bufferBased != nil && bufferBased.Bitrate > chosen.Bitrate {
			chosen = bufferBased
		}
	}

	currentBitrateBps, knownCurrent := currentBitrateInList(eligible, e.currentRepresentationID)
	if !knownCurrent {
		currentBitrateBps = chosen.Bitrate
	}

	if e.guessing {
		if chosen.Bitrate >= e.guessedBitrateBps {
			e.consecutiveWrongGuesses = 0
			e.guessing = false
		}
		chosen = pickByID(eligible, e.guessedRepresentationID)
	} else if e.canAttemptGuess(sample, now) {
		if above := nextAbove(eligible, currentBitrateBps); above != nil {
			e.guessing = true
			e.guessedRepresentationID = above.ID
			e.guessedBitrateBps = above.Bitrate
			chosen = above
		}
	}

	urgent := chosen.Bitrate < currentBitrateBps && sample.BufferGapS < sample.DurationS
	e.setCurrent(chosen)
	return Estimate{
		Bitrate:            chosen.Bitrate,
		RepresentationID:   chosen.ID,
		Urgent:             urgent,
		KnownStableBitrate: e.knownStable(speed),
	}
}

func (e *Estimator) knownStable(speed float64) float64 {
	if speed <= 0 {
		speed = 1.0
	}
	return e.knownStableBitrateBps / speed
}

func (e *Estimator) setCurrent(rep *RepresentationInfo) {
	if rep == nil {
		return
	}
	e.currentRepresentationID = rep.ID
}

func currentBitrateInList(reps []RepresentationInfo, id string) (int, bool) {
	for _, r := range reps {
		if r.ID == id {
			return r.Bitrate, true
		}
	}
	return 0, false
}

func (e *Estimator) canAttemptGuess(sample Sample, now time.Time) bool {
	if now.Before(e.cooldownUntil) {
		return false
	}
	if !sample.HasLiveGap || sample.LiveGapS > e.GuessLiveGapMaxS {
		return false
	}
	if sample.BufferGapS < e.GuessMinBufferGapS {
		return false
	}
	score, confidence := e.Scorer.Score(e.currentRepresentationID)
	if confidence != scorer.HIGH {
		return false
	}
	speed := sample.Speed
	if speed <= 0 {
		speed = 1.0
	}
	return score/speed >= e.GuessMinScoreRatio
}

func (e *Estimator) updateBufferBasedActivation(bufferGapS float64) {
	if e.bufferBasedActive {
		if bufferGapS < e.BufferBasedDeactivateS {
			e.bufferBasedActive = false
		}
		return
	}
	if bufferGapS > e.BufferBasedActivateS {
		e.bufferBasedActive = true
	}
}

// pickBufferBased is a BOLA-variant mapping of buffer occupancy to a
// Representation: the fuller the buffer beyond the activation threshold,
// the higher the Representation it's willing to commit to, scaled linearly
// across the eligible ladder and capped by the top Representation.
func (e *Estimator) pickBufferBased(eligible []RepresentationInfo, bufferGapS float64) *RepresentationInfo {
	if len(eligible) == 0 {
		return nil
	}
	span := bufferGapS - e.BufferBasedActivateS
	if span < 0 {
		span = 0
	}
	// Every additional 10s of buffer beyond the activation threshold earns
	// one more rung on the ladder.
	rung := int(span / 10.0)
	if rung >= len(eligible) {
		rung = len(eligible) - 1
	}
	return &eligible[rung]
}

func (e *Estimator) filterEligible(reps []RepresentationInfo) []RepresentationInfo {
	out := make([]RepresentationInfo, 0, len(reps))
	for _, r := range reps {
		if e.BitrateCeilingBps >= 0 && r.Bitrate > e.BitrateCeilingBps {
			continue
		}
		if e.WidthCeiling >= 0 && r.Width > e.WidthCeiling {
			continue
		}
		if e.MinAutoBitrateBps > 0 && r.Bitrate < e.MinAutoBitrateBps {
			continue
		}
		if e.MaxAutoBitrateBps > 0 && r.Bitrate > e.MaxAutoBitrateBps {
			continue
		}
		out = append(out, r)
	}
	return out
}

func pickManual(reps []RepresentationInfo, manualBps int) *RepresentationInfo {
	best := &reps[0]
	found := false
	for i := range reps {
		if reps[i].Bitrate <= manualBps && (!found || reps[i].Bitrate > best.Bitrate) {
			best = &reps[i]
			found = true
		}
	}
	if found {
		return best
	}
	// None qualifies: fall back to the lowest Representation.
	lowest := &reps[0]
	for i := range reps {
		if reps[i].Bitrate < lowest.Bitrate {
			lowest = &reps[i]
		}
	}
	return lowest
}

func pickAtOrBelow(reps []RepresentationInfo, limitBps float64) *RepresentationInfo {
	best := &reps[0]
	found := false
	for i := range reps {
		if float64(reps[i].Bitrate) <= limitBps && (!found || reps[i].Bitrate > best.Bitrate) {
			best = &reps[i]
			found = true
		}
	}
	if found {
		return best
	}
	lowest := &reps[0]
	for i := range reps {
		if reps[i].Bitrate < lowest.Bitrate {
			lowest = &reps[i]
		}
	}
	return lowest
}

func pickByID(reps []RepresentationInfo, id string) *RepresentationInfo {
	for i := range reps {
		if reps[i].ID == id {
			return &reps[i]
		}
	}
	return &reps[0]
}

func nextAbove(reps []RepresentationInfo, bitrateBps int) *RepresentationInfo {
	sorted := make([]RepresentationInfo, len(reps))
	copy(sorted, reps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bitrate < sorted[j].Bitrate })
	for i := range sorted {
		if sorted[i].Bitrate > bitrateBps {
			return &sorted[i]
		}
	}
	return nil
}
