// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package fetcher implements the segment fetcher (spec §4.4, C7): cache
// consultation, URL-fallback iteration with retry/backoff, chunked
// progressive delivery, custom-loader first-refusal-with-fallback, and the
// request-begin/progress/request-end event triple every fetch emits.
package fetcher

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/Dash-Industry-Forum/streamcore/internal/pendingrequests"
	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
	"github.com/Dash-Industry-Forum/streamcore/pkg/chunkparser"
)

// ContentDescriptor identifies the segment a fetch is for (spec §4.4
// "a content descriptor (period, adaptation, representation, segment)").
type ContentDescriptor struct {
	PeriodID         string
	AdaptationID     string
	RepresentationID string
	Segment          segment.Segment
	// VerifyIntegrity requests the ISOBMFF well-formedness check (spec §4.4
	// closing paragraph), set by the caller for media segments.
	VerifyIntegrity bool
}

// CacheKey is the cache key for a ContentDescriptor, used for the optional
// cache consultation step (spec §4.4 bullet 1, "used for init segments of
// audio/video").
func (c ContentDescriptor) CacheKey() string {
	return c.RepresentationID + "#" + c.Segment.ID
}

// RequestFunc performs one HTTP-like GET against url, returning the body
// reader and the advertised content length (-1 if unknown). Transport stays
// behind this interface per spec §15 ("no network transport implementation").
type RequestFunc func(ctx context.Context, url string) (body io.ReadCloser, contentLength int64, err error)

// Cache is consulted before issuing a request (spec §4.4 bullet 1).
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte)
}

// LoaderOutcome is the three-way result a CustomLoader may produce (spec
// §4.4 bullet 5 / spec §9 Design Notes "Coroutines / callbacks").
type LoaderOutcome int

const (
	// LoaderResolved means the loader supplied the data itself.
	LoaderResolved LoaderOutcome = iota
	// LoaderRejected means the loader failed outright; the fetch fails.
	LoaderRejected
	// LoaderFallback means the loader declined and the built-in loader
	// should handle the request; events from the custom loader attempt
	// are suppressed in this case (spec §4.4 bullet 5).
	LoaderFallback
)

// LoaderResult is what a CustomLoader.Load call produces.
type LoaderResult struct {
	Outcome LoaderOutcome
	Data    []byte
	Err     error
}

// CustomLoader gets first refusal on every request (spec §4.4 bullet 5).
type CustomLoader interface {
	Load(ctx context.Context, url string) LoaderResult
}

// EventSink receives the fetch's lifecycle events (spec §4.4 / §5). Every
// Fetch call emits exactly one RequestBegin, zero or more Progress (and
// Chunk if chunked delivery applies), and exactly one RequestEnd -- even on
// cancellation or error, per spec §5's ordering guarantee.
type EventSink interface {
	RequestBegin(id string, content ContentDescriptor)
	Progress(id string, bytesReceived int64)
	Chunk(id string, data []byte, isInitSegment bool)
	ChunkComplete(id string)
	Data(id string, data []byte)
	RequestEnd(id string, size int64, durationS float64, err error)
	Warning(id string, content ContentDescriptor, err error)
}

// BackoffOptions parameterizes the retry policy (spec §4.4 bullet 2: "base
// delay, max delay, cap on total retries; parameters configurable").
type BackoffOptions struct {
	InitialIntervalS float64
	MaxIntervalS     float64
	MaxElapsedS      float64
	MaxRetries       uint64
}

// DefaultBackoffOptions is the retry policy New installs: a 0.5s initial
// interval (backoff/v4's own default), at most 8s between attempts, 30s in
// total and 5 retries.
var DefaultBackoffOptions = BackoffOptions{
	InitialIntervalS: 0.5,
	MaxIntervalS:     8.0,
	MaxElapsedS:      30.0,
	MaxRetries:       5,
}

func (o BackoffOptions) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(o.InitialIntervalS * float64(time.Second))
	eb.MaxInterval = time.Duration(o.MaxIntervalS * float64(time.Second))
	eb.MaxElapsedTime = time.Duration(o.MaxElapsedS * float64(time.Second))
	return backoff.WithMaxRetries(eb, o.MaxRetries)
}

// Fetcher is the stateful segment fetcher.
type Fetcher struct {
	Request         RequestFunc
	Cache           Cache
	CustomLoader    CustomLoader
	Events          EventSink
	Pending         *pendingrequests.Store
	Backoff         BackoffOptions
	ChunkedDelivery bool
	IDPrefix        string

	idCounter int
}

// New creates a Fetcher with the default backoff policy.
func New(request RequestFunc, events EventSink, pending *pendingrequests.Store) *Fetcher {
	return &Fetcher{
		Request:  request,
		Events:   events,
		Pending:  pending,
		Backoff:  DefaultBackoffOptions,
		IDPrefix: "req",
	}
}

func (f *Fetcher) nextID() string {
	f.idCounter++
	return f.IDPrefix + "-" + uuid.NewString()
}

// Fetch performs one fetch for content, emitting the event sequence spec
// §4.4/§5 describe. The returned error is always a *streamerrors.Error.
func (f *Fetcher) Fetch(ctx context.Context, content ContentDescriptor) error {
	id := f.nextID()
	start := time.Now()
	f.Events.RequestBegin(id, content)
	if f.Pending != nil {
		f.Pending.Begin(pendingrequests.Entry{
			ID:                id,
			RepresentationID:  content.RepresentationID,
			IsInitSegment:     content.Segment.IsInit,
			ExpectedDurationS: content.Segment.Duration,
			RequestStartedAt:  start,
		})
	}

	ended := false
	end := func(size int64, err error) error {
		if ended {
			return err
		}
		ended = true
		f.Events.RequestEnd(id, size, time.Since(start).Seconds(), err)
		if f.Pending != nil {
			f.Pending.End(id)
		}
		return err
	}

	if cached, ok := f.cacheLookup(content); ok {
		f.Events.Data(id, cached)
		f.Events.ChunkComplete(id)
		return end(int64(len(cached)), nil)
	}

	if len(content.Segment.MediaURLs) == 0 {
		return end(0, streamerrors.Network(streamerrors.KindNetOther, 0, "no media URLs for segment", nil))
	}

	var lastErr error
	for _, url := range content.Segment.MediaURLs {
		select {
		case <-ctx.Done():
			return end(0, streamerrors.Cancellation("fetch cancelled"))
		default:
		}
		data, err := f.fetchOneURL(ctx, id, url, content)
		if err == nil {
			f.cacheStore(content, data)
			return end(int64(len(data)), nil)
		}
		lastErr = err
		f.Events.Warning(id, content, err)
		// Fatal-vs-retryable only governs same-URL backoff inside
		// fetchOneURL; a fatal error on one mirror still falls through to
		// the next fallback URL here.
	}
	if lastErr == nil {
		lastErr = streamerrors.Network(streamerrors.KindNetOther, 0, "all media URLs exhausted", nil)
	}
	return end(0, lastErr)
}

// fetchOneURL runs the custom-loader-first-refusal then retry/backoff loop
// for a single candidate URL (spec §4.4 bullets 2 and 5).
func (f *Fetcher) fetchOneURL(ctx context.Context, id, url string, content ContentDescriptor) ([]byte, error) {
	if f.CustomLoader != nil {
		res := f.CustomLoader.Load(ctx, url)
		switch res.Outcome {
		case LoaderResolved:
			if err := f.verifyIntegrity(res.Data, content); err != nil {
				return nil, err
			}
			f.deliver(id, res.Data, content)
			return res.Data, nil
		case LoaderRejected:
			return nil, streamerrors.Network(streamerrors.KindNetOther, 0, "custom loader rejected", res.Err)
		case LoaderFallback:
			// Fall through to the built-in loader; the custom loader's own
			// events (none emitted here) stay suppressed per spec §4.4 bullet 5.
		}
	}
	return f.fetchWithRetry(ctx, id, url, content)
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, id, url string, content ContentDescriptor) ([]byte, error) {
	var data []byte
	operation := func() error {
		body, _, err := f.Request(ctx, url)
		if err != nil {
			return classifyRequestError(err)
		}
		defer body.Close()
		d, err := f.readBody(ctx, id, body, content)
		if err != nil {
			return err
		}
		data = d
		return nil
	}

	bo := backoff.WithContext(f.Backoff.newBackOff(), ctx)
	err := backoff.Retry(func() error {
		err := operation()
		if err != nil && !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		if pe, ok := err.(*backoff.PermanentError); ok {
			return nil, pe.Err
		}
		return nil, classifyRequestError(err)
	}
	return data, nil
}

// readBody streams the response, emitting progress/chunk events as bytes
// arrive (spec §4.4 bullet 3). Chunked delivery is handed off to
// readBodyChunked, which splits on fragment (moof+mdat) boundaries instead
// of raw read sizes so a CMAF-aware consumer never gets a chunk that ends
// mid-box.
func (f *Fetcher) readBody(ctx context.Context, id string, body io.Reader, content ContentDescriptor) ([]byte, error) {
	if f.ChunkedDelivery {
		return f.readBodyChunked(ctx, id, body, content)
	}
	buf := make([]byte, 0, 64*1024)
	chunk := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return nil, streamerrors.Cancellation("fetch cancelled mid-transfer")
		default:
		}
		n, err := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			f.Events.Progress(id, int64(len(buf)))
			if f.Pending != nil {
				f.Pending.Progress(id, int64(len(buf)))
			}
		}
		if err == io.EOF {
			if integrityErr := f.verifyIntegrity(buf, content); integrityErr != nil {
				return nil, integrityErr
			}
			f.deliver(id, buf, content)
			return buf, nil
		}
		if err != nil {
			return nil, classifyRequestError(err)
		}
	}
}

// byteAccumulator is an io.Writer that keeps every byte written to it, used
// to recover the full segment body alongside chunkparser's fragment-at-a-
// time callback.
type byteAccumulator struct {
	buf []byte
}

func (a *byteAccumulator) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// ctxReader aborts a Read as soon as ctx is done, the same cancellation
// check the non-chunked path makes once per read iteration.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}
	return c.r.Read(p)
}

// readBodyChunked drives pkg/chunkparser.BoxBoundaryParser over the
// response body, emitting one Chunk event per complete init segment (moov)
// or media fragment (moof+mdat) rather than per network read.
func (f *Fetcher) readBodyChunked(ctx context.Context, id string, body io.Reader, content ContentDescriptor) ([]byte, error) {
	acc := &byteAccumulator{}
	tee := io.TeeReader(ctxReader{ctx: ctx, r: body}, acc)
	parser := chunkparser.NewBoxBoundaryParser(tee, make([]byte, 0, 64*1024), func(cd chunkparser.ChunkData) error {
		f.Events.Chunk(id, cd.Data, cd.IsInitSegment || content.Segment.IsInit)
		if f.Pending != nil {
			f.Pending.Progress(id, int64(len(acc.buf)))
		}
		f.Events.Progress(id, int64(len(acc.buf)))
		return nil
	})
	if err := parser.Parse(); err != nil {
		if ctx.Err() != nil {
			return nil, streamerrors.Cancellation("fetch cancelled mid-transfer")
		}
		return nil, classifyRequestError(err)
	}
	data := acc.buf
	if err := f.verifyIntegrity(data, content); err != nil {
		return nil, err
	}
	f.deliver(id, data, content)
	return data, nil
}

// verifyIntegrity runs the ISOBMFF well-formedness check (spec §4.4 closing
// paragraph) before data is ever handed to deliver, so a corrupt segment
// never reaches the caller's media buffer. Chunked delivery has already
// streamed its bytes out incrementally by the time the full body is known,
// so there is nothing left to withhold and the check is skipped.
func (f *Fetcher) verifyIntegrity(data []byte, content ContentDescriptor) error {
	if !content.VerifyIntegrity || f.ChunkedDelivery {
		return nil
	}
	return CheckSegmentIntegrity(data)
}

// deliver emits the terminal data/chunk-complete pair (spec §4.4 bullet 3).
func (f *Fetcher) deliver(id string, data []byte, content ContentDescriptor) {
	if !f.ChunkedDelivery {
		f.Events.Data(id, data)
	}
	f.Events.ChunkComplete(id)
}

func (f *Fetcher) cacheLookup(content ContentDescriptor) ([]byte, bool) {
	if f.Cache == nil || !content.Segment.IsInit {
		return nil, false
	}
	return f.Cache.Get(content.CacheKey())
}

func (f *Fetcher) cacheStore(content ContentDescriptor, data []byte) {
	if f.Cache == nil || !content.Segment.IsInit {
		return
	}
	f.Cache.Put(content.CacheKey(), data)
}

// classifyRequestError wraps a transport-level error into the spec §7
// NETWORK taxonomy unless it's already a streamerrors.Error.
func classifyRequestError(err error) error {
	if se, ok := err.(*streamerrors.Error); ok {
		return se
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return streamerrors.Network(streamerrors.KindTimeout, 0, "request timed out", err)
	}
	return streamerrors.Network(streamerrors.KindNetOther, 0, "request failed", err)
}

// isRetryable classifies per spec §4.4 bullet 2: "retryable (network, 5xx,
// timeout) or fatal (4xx other than 408/429, integrity failure)" -- except
// integrity failures, which spec §4.4's closing paragraph and spec §7
// instead mark retryable ("a failure throws an integrity error, which the
// caller treats as retryable").
func isRetryable(err error) bool {
	se, ok := err.(*streamerrors.Error)
	if !ok {
		return false
	}
	return se.Retryable()
}
