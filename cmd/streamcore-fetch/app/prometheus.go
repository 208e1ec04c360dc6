// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Dash-Industry-Forum/streamcore/internal/orchestrator"
)

const service = "streamcore-fetch"

var defaultBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

// engineMetrics are the gauges/counters that describe the engine loop;
// cmd/livesim2/app/prometheus.go only instruments HTTP requests, but this
// CLI drives the ABR/fetcher loop itself rather than serving requests, so
// the metrics it exposes describe that loop's state instead. recordTick
// sets bandwidthBps and pendingRequests and run.go increments
// rebufferTotal; chosenBitrateBps, segmentFetches and fetchLatencyMS are
// registered but nothing updates them.
var engineMetrics = struct {
	bandwidthBps     prometheus.Gauge
	chosenBitrateBps *prometheus.GaugeVec
	rebufferTotal    prometheus.Counter
	pendingRequests  *prometheus.GaugeVec
	segmentFetches   *prometheus.CounterVec
	fetchLatencyMS   prometheus.Histogram
}{
	bandwidthBps: newGauge("bandwidth_estimate_bps",
		"Current steady-state bandwidth estimate."),
	chosenBitrateBps: newGaugeVec("chosen_bitrate_bps",
		"Bitrate of the Representation currently chosen per track.", []string{"period", "mediatype"}),
	rebufferTotal: newCounter("rebuffer_events_total",
		"Number of times playback entered a rebuffering state."),
	pendingRequests: newGaugeVec("pending_requests",
		"Number of in-flight segment requests per track.", []string{"period", "mediatype"}),
	segmentFetches: newCounterVec("segment_fetches_total",
		"Number of segment fetch attempts, partitioned by outcome.", []string{"outcome"}),
	fetchLatencyMS: newHistogram("segment_fetch_duration_milliseconds",
		"Segment fetch latency.", defaultBuckets),
}

// reqMetrics instruments the debug/introspection HTTP server itself, in the
// same shape as cmd/livesim2/app/prometheus.go's prometheusMiddleware.
type reqMetrics struct {
	reqs    *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

var httpMetrics = reqMetrics{
	reqs:    newCounterVec("http_requests_total", "Number of debug-server HTTP requests.", []string{"path", "code"}),
	latency: newHistogramVec("http_request_duration_milliseconds", "Debug-server HTTP latency.", []string{"path"}, defaultBuckets),
}

// NewPrometheusMiddleware returns a handler that records http request counts
// and latency for the debug/introspection server, mirroring
// cmd/livesim2/app/prometheus.go's handler() shape.
func NewPrometheusMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			code := strconv.Itoa(ww.Status())
			latencyMS := float64(time.Since(start).Nanoseconds()) * 1e-6
			httpMetrics.reqs.WithLabelValues(r.URL.Path, code).Inc()
			httpMetrics.latency.WithLabelValues(r.URL.Path).Observe(latencyMS)
		}
		return http.HandlerFunc(fn)
	}
}

func newCounter(name, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	})
	prometheus.MustRegister(c)
	return c
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	}, labels)
	prometheus.MustRegister(cv)
	return cv
}

func newGauge(name, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	})
	prometheus.MustRegister(g)
	return g
}

func newGaugeVec(name, help string, labels []string) *prometheus.GaugeVec {
	gv := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
	}, labels)
	prometheus.MustRegister(gv)
	return gv
}

func newHistogram(name, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     buckets,
	})
	prometheus.MustRegister(h)
	return h
}

func newHistogramVec(name, help string, labels []string, buckets []float64) *prometheus.HistogramVec {
	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     buckets,
	}, labels)
	prometheus.MustRegister(hv)
	return hv
}

// recordTick updates the engine gauges/counters from one DebugSnapshot,
// called after every orchestrator.Tick in run.go's loop.
func recordTick(snapshot []orchestrator.TrackSnapshot) {
	for _, tr := range snapshot {
		if tr.HasBandwidth {
			engineMetrics.bandwidthBps.Set(tr.BandwidthBps)
		}
		engineMetrics.pendingRequests.WithLabelValues(tr.PeriodID, tr.MediaType).Set(float64(tr.PendingRequests))
	}
}
