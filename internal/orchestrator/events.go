// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Dash-Industry-Forum/streamcore/internal/fetcher"
)

// MediaSink is the opaque media-buffer interface of spec §6 ("Outbound:
// Media buffer"): the core pushes init/media chunks, the host owns the
// actual SourceBuffer/file/pipe behind it.
type MediaSink interface {
	Push(periodID, adaptationID, representationID string, data []byte, isInit bool, timestampOffsetS float64)
}

// inFlight is what the event sink remembers about one outstanding fetch, so
// that RequestEnd (which only carries id/size/duration/err) can still be
// routed back to the right Representation's ABR bookkeeping.
type inFlight struct {
	content   fetcher.ContentDescriptor
	bitrateBps int
	startedAt time.Time
}

// trackEventSink adapts one track's Fetcher events into its Estimator's
// RecordCompletedRequest/ObserveInFlightRequest calls (spec §4.5's "Metric
// intake"), and forwards payload bytes to an optional MediaSink.
type trackEventSink struct {
	tr   *track
	sink MediaSink

	mu       sync.Mutex
	requests map[string]*inFlight
}

func newTrackEventSink(tr *track, sink MediaSink) *trackEventSink {
	return &trackEventSink{tr: tr, sink: sink, requests: map[string]*inFlight{}}
}

func (s *trackEventSink) RequestBegin(id string, content fetcher.ContentDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[id] = &inFlight{
		content:    content,
		bitrateBps: s.tr.repBitrateBps(content.RepresentationID),
		startedAt:  time.Now(),
	}
}

func (s *trackEventSink) Progress(id string, bytesReceived int64) {
	s.mu.Lock()
	f, ok := s.requests[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	elapsed := time.Since(f.startedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	inFlightBps := float64(bytesReceived) * 8 / elapsed
	s.tr.abr.ObserveInFlightRequest(f.content.RepresentationID, f.bitrateBps, elapsed,
		f.content.Segment.Duration, inFlightBps, f.content.Segment.IsInit)
}

func (s *trackEventSink) Chunk(id string, data []byte, isInitSegment bool) {
	s.deliver(id, data, isInitSegment)
}

func (s *trackEventSink) ChunkComplete(id string) {}

func (s *trackEventSink) Data(id string, data []byte) {
	s.deliver(id, data, false)
}

func (s *trackEventSink) deliver(id string, data []byte, isInitOverride bool) {
	s.mu.Lock()
	f, ok := s.requests[id]
	s.mu.Unlock()
	if !ok || s.sink == nil {
		return
	}
	isInit := f.content.Segment.IsInit || isInitOverride
	s.sink.Push(f.content.PeriodID, f.content.AdaptationID, f.content.RepresentationID, data, isInit, f.content.Segment.TimestampOffset)
}

func (s *trackEventSink) RequestEnd(id string, size int64, durationS float64, err error) {
	s.mu.Lock()
	f, ok := s.requests[id]
	delete(s.requests, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		return
	}
	s.tr.abr.RecordCompletedRequest(f.content.RepresentationID, f.bitrateBps, size, durationS,
		f.content.Segment.IsInit, f.content.Segment.Duration)
}

func (s *trackEventSink) Warning(id string, content fetcher.ContentDescriptor, err error) {
	slog.Warn("segment fetch warning", "representation", content.RepresentationID, "segment", content.Segment.ID, "error", err)
}
