// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dash-Industry-Forum/streamcore/internal/manifest"
	"github.com/Dash-Industry-Forum/streamcore/internal/streamerrors"
	"github.com/Dash-Industry-Forum/streamcore/internal/trackchoice"
)

func onePeriodManifest() *manifest.Manifest {
	video := &manifest.Adaptation{ID: "v0", Type: manifest.Video, Representations: []*manifest.Representation{
		{ID: "v0-lo", Bitrate: 500_000, IsSupported: true},
	}}
	audio := &manifest.Adaptation{ID: "a0", Type: manifest.Audio, Representations: []*manifest.Representation{
		{ID: "a0-stereo", Bitrate: 128_000, IsSupported: true},
	}}
	p := &manifest.Period{
		ID: "p0",
		Adaptations: map[manifest.MediaType][]*manifest.Adaptation{
			manifest.Video: {video},
			manifest.Audio: {audio},
		},
	}
	return &manifest.Manifest{Periods: []*manifest.Period{p}}
}

func TestSelectDefaultTracksChoosesFirstAvailable(t *testing.T) {
	tc := trackchoice.New(nil)
	mft := onePeriodManifest()
	tc.UpdatePeriodList(mft.Periods)

	selectDefaultTracks(tc, mft)

	videoID, ok := tc.GetChosenVideoTrack("p0")
	require.True(t, ok)
	require.Equal(t, "v0", videoID)

	audioID, ok := tc.GetChosenAudioTrack("p0")
	require.True(t, ok)
	require.Equal(t, "a0", audioID)
}

func TestDiscardSinkCountsPushes(t *testing.T) {
	sink := newDiscardSink()
	sink.Push("p0", "v0", "v0-lo", []byte("abcd"), true, 0)
	sink.Push("p0", "v0", "v0-lo", []byte("xy"), false, 2)

	require.Equal(t, 2, sink.pushes)
	require.EqualValues(t, 6, sink.bytes)
}

func TestHTTPRequestClassifiesNotFoundAsFatalHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, _, err := httpRequest(context.Background(), srv.URL)
	require.Error(t, err)

	var serr *streamerrors.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, streamerrors.CategoryNetwork, serr.Category)
	require.Equal(t, streamerrors.KindHTTP, serr.Kind)
	require.Equal(t, http.StatusNotFound, serr.Status)
	require.False(t, serr.Retryable())
}

func TestHTTPRequestClassifiesServerErrorAsRetryableHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, _, err := httpRequest(context.Background(), srv.URL)
	require.Error(t, err)

	var serr *streamerrors.Error
	require.True(t, errors.As(err, &serr))
	require.Equal(t, http.StatusServiceUnavailable, serr.Status)
	require.True(t, serr.Retryable())
}

func TestHTTPRequestReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	body, _, err := httpRequest(context.Background(), srv.URL)
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(data))
}

func TestSlogLifecycleLatchesEndOfStream(t *testing.T) {
	life := &slogLifecycle{}
	require.False(t, life.ended.Load())
	life.EndOfStream()
	require.True(t, life.ended.Load())
}
