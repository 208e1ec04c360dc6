// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dash-Industry-Forum/streamcore/internal/orchestrator"
	"github.com/Dash-Industry-Forum/streamcore/internal/playback"
)

// simTickS is the fixed simulated-clock step between Tick calls. It is
// independent of cfg.SimulateSpeed, which instead compresses how much real
// wall-clock time each step is allowed to take.
const simTickS = 1.0

// simulate drives the Orchestrator over an offline playback clock that
// advances simTickS seconds of simulated position per loop iteration,
// instead of waiting on a real media element's readyState/TimeRanges. This
// is the harness mode the CLI uses to exercise the full engine (ABR,
// fetcher, track choice) against a VoD asset without a browser, the
// equivalent of cmd/dashfetcher's one-shot downloader but driven through
// the adaptive engine instead of a flat segment-template walk.
func simulate(ctx context.Context, cfg *Config, eng *orchestrator.Orchestrator, life *slogLifecycle) error {
	speed := cfg.SimulateSpeed
	if speed <= 0 {
		speed = defaultSimSpeed
	}
	sleepPerTick := time.Duration(simTickS / speed * float64(time.Second))

	positionS := 0.0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		state := playback.ElementState{
			ReadyState:   4,
			PlaybackRate: 1,
			PositionS:    positionS,
			BufferGapS:   cfg.LookaheadS,
		}
		if err := eng.Tick(ctx, state); err != nil {
			return fmt.Errorf("simulated tick at %.1fs: %w", positionS, err)
		}
		recordTick(eng.DebugSnapshot())
		if life.ended.Load() {
			slog.Info("simulation stopped at end of stream", "positionS", positionS)
			return nil
		}

		positionS += simTickS
		if cfg.SimulateDurationS > 0 && positionS >= cfg.SimulateDurationS {
			slog.Info("simulation reached configured duration", "durationS", cfg.SimulateDurationS)
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleepPerTick):
		}
	}
}
