// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package bandwidth implements the exponentially-weighted throughput
// estimator (spec §4.5 "Metric intake" / "Bandwidth-based choice", C4): a
// fast-moving and a slow-moving EWMA of observed (bytes, duration) samples,
// combined by taking the minimum so a sudden throughput drop is reflected
// quickly while a sudden spike is trusted more slowly.
package bandwidth

import "math"

// ewma is a single exponentially-weighted moving average over a half-life
// expressed in elapsed-time units (seconds of download time, not wall clock),
// the same "time-weighted" EWMA construction used by most ABR estimators in
// the ecosystem (shaka-player's EwmaBandwidthEstimator, dash.js's
// EwmaBandWidthEstimator) -- this package's own idiom, not literally ported.
type ewma struct {
	halfLifeS float64
	estimate  float64
	totalWeight float64
}

func newEWMA(halfLifeS float64) *ewma {
	return &ewma{halfLifeS: halfLifeS}
}

func (e *ewma) sample(weight, value float64) {
	alpha := math.Pow(0.5, weight/e.halfLifeS)
	e.estimate = value*(1-alpha) + alpha*e.estimate
	e.totalWeight += weight
}

func (e *ewma) value(zeroFactorWeight float64) float64 {
	if e.totalWeight <= 0 {
		return 0
	}
	zeroFactor := 1 - math.Pow(0.5, e.totalWeight/zeroFactorWeight)
	if zeroFactor <= 0 {
		return 0
	}
	return e.estimate / zeroFactor
}

// Estimator holds the fast and slow EWMAs described in spec §4.5.
type Estimator struct {
	fast *ewma
	slow *ewma

	lastEstimateBps float64
}

// Default half-lives, seconds of accumulated download time, matching the
// fast-reacts/slow-trusts split common across EWMA-based ABR estimators.
const (
	DefaultFastHalfLifeS = 2.0
	DefaultSlowHalfLifeS = 5.0
)

// New creates an Estimator with the default fast/slow half-lives.
func New() *Estimator {
	return NewWithHalfLives(DefaultFastHalfLifeS, DefaultSlowHalfLifeS)
}

// NewWithHalfLives allows tuning the two half-lives (seconds of download time).
func NewWithHalfLives(fastHalfLifeS, slowHalfLifeS float64) *Estimator {
	return &Estimator{fast: newEWMA(fastHalfLifeS), slow: newEWMA(slowHalfLifeS)}
}

// Sample ingests one completed request's (bytes, durationS). Very short,
// high-throughput samples relative to byte count look like a cache hit and
// should be filtered by the caller before calling Sample (spec §4.5: "unless
// a heuristic flags the response as cached").
func (est *Estimator) Sample(bytes int64, durationS float64) {
	if durationS <= 0 || bytes <= 0 {
		return
	}
	bitsPerSecond := float64(bytes) * 8 / durationS
	est.fast.sample(durationS, bitsPerSecond)
	est.slow.sample(durationS, bitsPerSecond)
	est.lastEstimateBps = est.Estimate()
}

// Estimate returns the current bandwidth estimate in bits/second: the
// smaller of the fast and slow EWMAs, so a recent slowdown is trusted
// immediately while a recent speedup needs to persist.
func (est *Estimator) Estimate() float64 {
	fast := est.fast.value(DefaultFastHalfLifeS)
	slow := est.slow.value(DefaultSlowHalfLifeS)
	if fast == 0 || slow == 0 {
		return math.Max(fast, slow)
	}
	return math.Min(fast, slow)
}

// HasEstimate reports whether at least one sample has been ingested.
func (est *Estimator) HasEstimate() bool {
	return est.fast.totalWeight > 0
}
