// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package fetcher

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/streamcore/internal/pendingrequests"
	"github.com/Dash-Industry-Forum/streamcore/internal/segment"
	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
)

// isobmffBox builds a minimal top-level ISOBMFF box: 4-byte size, 4-byte
// type, payload.
func isobmffBox(boxType string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(buf)))
	copy(buf[4:8], boxType)
	copy(buf[8:], payload)
	return buf
}

type recordingSink struct {
	mu          sync.Mutex
	begins      []string
	progress    []string
	chunks      []string
	chunkEnds   []string
	datas       []string
	ends        []string
	endErrs     []error
	warnings    []error
}

func newRecordingSink() *recordingSink { return &recordingSink{} }

func (s *recordingSink) RequestBegin(id string, content ContentDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins = append(s.begins, id)
}
func (s *recordingSink) Progress(id string, bytesReceived int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, id)
}
func (s *recordingSink) Chunk(id string, data []byte, isInitSegment bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, id)
}
func (s *recordingSink) ChunkComplete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkEnds = append(s.chunkEnds, id)
}
func (s *recordingSink) Data(id string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datas = append(s.datas, id)
}
func (s *recordingSink) RequestEnd(id string, size int64, durationS float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = append(s.ends, id)
	s.endErrs = append(s.endErrs, err)
}
func (s *recordingSink) Warning(id string, content ContentDescriptor, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, err)
}

type fakeCache struct {
	data map[string][]byte
}

func (c *fakeCache) Get(key string) ([]byte, bool) {
	d, ok := c.data[key]
	return d, ok
}
func (c *fakeCache) Put(key string, data []byte) {
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = data
}

func segmentWithURLs(urls ...string) segment.Segment {
	return segment.Segment{ID: "s1", MediaURLs: urls, Duration: 4.0}
}

func TestFetchSucceedsOnFirstURL(t *testing.T) {
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader([]byte("payload"))), 7, nil
	}
	f := New(req, sink, pendingrequests.New())
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s")}

	err := f.Fetch(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, sink.begins, 1)
	require.Len(t, sink.ends, 1)
	require.NoError(t, sink.endErrs[0])
	require.Len(t, sink.datas, 1)
	require.Len(t, sink.chunkEnds, 1)
	require.Equal(t, 0, f.Pending.Len())
}

func TestFetchFallsBackToSecondURLOnFatalError(t *testing.T) {
	sink := newRecordingSink()
	calls := 0
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		calls++
		if url == "http://a/1.m4s" {
			return nil, 0, streamerrors.Network(streamerrors.KindHTTP, 404, "not found", nil)
		}
		return io.NopCloser(bytes.NewReader([]byte("payload"))), 7, nil
	}
	f := New(req, sink, pendingrequests.New())
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s", "http://b/1.m4s")}

	err := f.Fetch(context.Background(), content)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Len(t, sink.warnings, 1)
	require.Len(t, sink.ends, 1)
	require.NoError(t, sink.endErrs[0])
}

func TestFetchReturnsErrorWhenAllURLsExhausted(t *testing.T) {
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return nil, 0, streamerrors.Network(streamerrors.KindHTTP, 404, "not found", nil)
	}
	f := New(req, sink, pendingrequests.New())
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s", "http://b/1.m4s")}

	err := f.Fetch(context.Background(), content)
	require.Error(t, err)
	require.Len(t, sink.ends, 1)
	require.Error(t, sink.endErrs[0])
}

func TestFetchUsesCacheForInitSegment(t *testing.T) {
	sink := newRecordingSink()
	cache := &fakeCache{}
	called := false
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		called = true
		return io.NopCloser(bytes.NewReader([]byte("fresh"))), 5, nil
	}
	f := New(req, sink, pendingrequests.New())
	f.Cache = cache
	seg := segment.Segment{ID: "init", IsInit: true, MediaURLs: []string{"http://a/init.mp4"}}
	content := ContentDescriptor{RepresentationID: "v1", Segment: seg}
	cache.Put(content.CacheKey(), []byte("cached"))

	err := f.Fetch(context.Background(), content)
	require.NoError(t, err)
	require.False(t, called)
	require.Len(t, sink.datas, 1)
}

func TestFetchNoURLsReturnsNetworkError(t *testing.T) {
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return nil, 0, nil
	}
	f := New(req, sink, pendingrequests.New())
	content := ContentDescriptor{RepresentationID: "v1", Segment: segment.Segment{ID: "s1"}}

	err := f.Fetch(context.Background(), content)
	require.Error(t, err)
	require.Len(t, sink.ends, 1)
}

func TestFetchHonorsCancellation(t *testing.T) {
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader([]byte("payload"))), 7, nil
	}
	f := New(req, sink, pendingrequests.New())
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Fetch(ctx, content)
	require.Error(t, err)
	require.Len(t, sink.ends, 1)
	require.Error(t, sink.endErrs[0])
}

func TestFetchWithCustomLoaderResolved(t *testing.T) {
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		t.Fatal("built-in loader should not be invoked when custom loader resolves")
		return nil, 0, nil
	}
	f := New(req, sink, pendingrequests.New())
	f.CustomLoader = customLoaderFunc(func(ctx context.Context, url string) LoaderResult {
		return LoaderResult{Outcome: LoaderResolved, Data: []byte("custom")}
	})
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s")}

	err := f.Fetch(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, sink.datas, 1)
}

func TestFetchWithCustomLoaderFallback(t *testing.T) {
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader([]byte("builtin"))), 7, nil
	}
	f := New(req, sink, pendingrequests.New())
	f.CustomLoader = customLoaderFunc(func(ctx context.Context, url string) LoaderResult {
		return LoaderResult{Outcome: LoaderFallback}
	})
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s")}

	err := f.Fetch(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, sink.datas, 1)
}

type customLoaderFunc func(ctx context.Context, url string) LoaderResult

func (f customLoaderFunc) Load(ctx context.Context, url string) LoaderResult { return f(ctx, url) }

func TestFetchChunkedDeliveryEmitsChunkPerBoxBoundary(t *testing.T) {
	body := append(append(
		isobmffBox("styp", make([]byte, 8)),
		isobmffBox("moof", make([]byte, 8))...),
		isobmffBox("mdat", []byte("DATA"))...)

	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
	}
	f := New(req, sink, pendingrequests.New())
	f.ChunkedDelivery = true
	content := ContentDescriptor{
		RepresentationID: "v1",
		VerifyIntegrity:  true,
		Segment:          segmentWithURLs("http://a/1.m4s"),
	}

	err := f.Fetch(context.Background(), content)
	require.NoError(t, err)
	require.Len(t, sink.chunks, 1)
	require.Len(t, sink.chunkEnds, 1)
	require.Empty(t, sink.datas)
	require.Len(t, sink.ends, 1)
	require.NoError(t, sink.endErrs[0])
}

func TestFetchChunkedDeliveryHonorsCancellation(t *testing.T) {
	body := isobmffBox("mdat", []byte("DATA"))
	sink := newRecordingSink()
	req := func(ctx context.Context, url string) (io.ReadCloser, int64, error) {
		return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
	}
	f := New(req, sink, pendingrequests.New())
	f.ChunkedDelivery = true
	content := ContentDescriptor{RepresentationID: "v1", Segment: segmentWithURLs("http://a/1.m4s")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.Fetch(ctx, content)
	require.Error(t, err)
	require.Len(t, sink.ends, 1)
	require.Error(t, sink.endErrs[0])
}
