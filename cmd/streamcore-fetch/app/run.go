// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"

	"github.com/Dash-Industry-Forum/streamcore/internal/fetcher"
	"github.com/Dash-Industry-Forum/streamcore/internal/manifest"
	"github.com/Dash-Industry-Forum/streamcore/internal/orchestrator"
	"github.com/Dash-Industry-Forum/streamcore/internal/playback"
	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
	"github.com/Dash-Industry-Forum/streamcore/internal/trackchoice"
)

// discardSink is the default MediaSink: it counts bytes pushed per track but
// never retains them, matching this CLI's role as an engine exerciser rather
// than an actual player (spec §1 Non-goals: no rendering, no demuxing).
type discardSink struct {
	mu     sync.Mutex
	pushes int
	bytes  int64
}

func newDiscardSink() *discardSink { return &discardSink{} }

func (s *discardSink) Push(periodID, adaptationID, representationID string, data []byte, isInit bool, timestampOffsetS float64) {
	s.mu.Lock()
	s.pushes++
	s.bytes += int64(len(data))
	s.mu.Unlock()
	slog.Debug("segment delivered", "period", periodID, "adaptation", adaptationID, "representation", representationID,
		"bytes", len(data), "isInit", isInit, "timestampOffsetS", timestampOffsetS)
}

// slogLifecycle logs the orchestrator's top-level lifecycle events and bumps
// the rebuffer counter, the CLI's stand-in for a host player's UI reaction.
// ended latches true on EndOfStream so the simulate/runRealtime loops know
// to stop without needing their own end-of-stream bookkeeping.
type slogLifecycle struct {
	ended atomic.Bool
}

func (l *slogLifecycle) Loaded()  { slog.Info("stream loaded") }
func (l *slogLifecycle) Stalled() { slog.Warn("playback stalled"); engineMetrics.rebufferTotal.Inc() }
func (l *slogLifecycle) EndOfStream() {
	slog.Info("end of stream reached")
	l.ended.Store(true)
}
func (l *slogLifecycle) Reload() { slog.Info("stream reloaded") }

// httpRequest adapts net/http to fetcher.RequestFunc (spec §4.4's transport
// seam), the same direct http.DefaultClient.Do pattern
// cmd/dashfetcher/app/fetcher.go's downloadToFile uses. A >=400 status is
// reported as a *streamerrors.Error with Status set so classifyRequestError
// and Retryable (internal/fetcher/fetcher.go, internal/streamerrors/errors.go)
// can tell a fatal 4xx from a retryable 5xx instead of defaulting to
// KindNetOther's unconditional retry.
func httpRequest(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, 0, streamerrors.Network(streamerrors.KindHTTP, resp.StatusCode,
			fmt.Sprintf("GET %s: status %d", url, resp.StatusCode), nil)
	}
	return resp.Body, resp.ContentLength, nil
}

// fetchManifest downloads and parses the MPD at cfg.AssetURL into a Manifest
// (C3), the parser boundary spec §6 describes: raw XML is only ever touched
// here, everything downstream works off the parsed tree.
func fetchManifest(ctx context.Context, assetURL string) (*manifest.Manifest, error) {
	body, _, err := httpRequest(ctx, assetURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read manifest body: %w", err)
	}
	doc, err := m.ReadFromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse MPD: %w", err)
	}
	baseURL := assetURL[:strings.LastIndex(assetURL, "/")+1]
	return manifest.FromDASH(doc, []string{baseURL}, time.Now())
}

// selectDefaultTracks picks the first available track for every media type
// of every Period, the "player selected something" state a real UI would
// otherwise drive through trackchoice.Manager's Set*TrackByID calls.
func selectDefaultTracks(tc *trackchoice.Manager, mft *manifest.Manifest) {
	for _, p := range mft.Periods {
		if ids := tc.GetAvailableVideoTracks(p.ID); len(ids) > 0 {
			if err := tc.SetVideoTrackByID(p.ID, ids[0]); err != nil {
				slog.Warn("select video track", "period", p.ID, "error", err)
			}
		}
		if ids := tc.GetAvailableAudioTracks(p.ID); len(ids) > 0 {
			if err := tc.SetAudioTrackByID(p.ID, ids[0]); err != nil {
				slog.Warn("select audio track", "period", p.ID, "error", err)
			}
		}
	}
}

// BuildOrchestrator wires C3..C10 into one Orchestrator the way spec §13's
// data-flow diagram describes, parameterized by cfg.
func BuildOrchestrator(cfg *Config) (*orchestrator.Orchestrator, *trackchoice.Manager, *playback.Observer, *discardSink, *slogLifecycle) {
	tc := trackchoice.New(nil)
	pb := playback.NewObserver(playback.ModeMediaSource)
	sink := newDiscardSink()
	life := &slogLifecycle{}

	eng := orchestrator.New(func(ctx context.Context) (*manifest.Manifest, error) {
		return fetchManifest(ctx, cfg.AssetURL)
	}, tc, pb, life)
	eng.Request = httpRequest
	eng.MediaSink = sink
	eng.LookaheadS = cfg.LookaheadS
	backoff := fetcher.DefaultBackoffOptions
	eng.Backoff = &backoff

	return eng, tc, pb, sink, life
}

// Run loads the manifest, picks default tracks, and then either simulates an
// offline playback clock (cfg.Simulate) or drives Tick from wall-clock time
// until the context is cancelled or end-of-stream is reached.
func Run(ctx context.Context, cfg *Config, eng *orchestrator.Orchestrator, tc *trackchoice.Manager, life *slogLifecycle) error {
	if err := eng.Load(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	selectDefaultTracks(tc, eng.Manifest())

	if cfg.Simulate {
		return simulate(ctx, cfg, eng, life)
	}
	return runRealtime(ctx, cfg, eng, life)
}

// runRealtime drives Tick once per second off the wall clock, reporting a
// BufferGapS that always satisfies the stream pipeline's lookahead so the
// engine keeps fetching -- a simple default for hosts that don't otherwise
// plug in a real <video> element's TimeRanges/readyState.
func runRealtime(ctx context.Context, cfg *Config, eng *orchestrator.Orchestrator, life *slogLifecycle) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			state := playback.ElementState{
				ReadyState:   4,
				PlaybackRate: 1,
				PositionS:    now.Sub(start).Seconds(),
				BufferGapS:   cfg.LookaheadS,
			}
			if err := eng.Tick(ctx, state); err != nil {
				return fmt.Errorf("tick: %w", err)
			}
			recordTick(eng.DebugSnapshot())
			if life.ended.Load() {
				return nil
			}
		}
	}
}
