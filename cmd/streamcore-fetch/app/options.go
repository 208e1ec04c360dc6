// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

const (
	defaultPort       = 8089
	defaultTimeoutS   = 30
	defaultLookaheadS = 10.0
	defaultSimSpeed   = 1.0
)

// Config holds every tunable of the streamcore-fetch CLI, loaded in layers
// by LoadConfig (defaults, JSON config file, CLI flags, environment),
// mirroring cmd/livesim2/app/config.go's ServerConfig.
type Config struct {
	AssetURL string `json:"asseturl"`

	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`

	// Port is where the debug/metrics HTTP server listens. 0 disables it.
	Port int `json:"port"`
	// TimeoutS bounds every individual segment/manifest HTTP request.
	TimeoutS int `json:"timeouts"`

	// LookaheadS is how far ahead of the playback position the streams
	// pipeline tries to keep segments fetched (spec §5/§13).
	LookaheadS float64 `json:"lookaheads"`

	// Simulate runs an offline playback-clock simulation instead of
	// waiting on a real media element (see simulate.go).
	Simulate          bool    `json:"simulate"`
	SimulateDurationS float64 `json:"simulatedurations"`
	SimulateSpeed     float64 `json:"simulatespeed"`

	Version bool `json:"-"`
}

// DefaultConfig mirrors cmd/livesim2/app/config.go's DefaultConfig pattern:
// every flag/file/env layer starts from these values.
var DefaultConfig = Config{
	LogFormat:         "text",
	LogLevel:          "INFO",
	Port:              defaultPort,
	TimeoutS:          defaultTimeoutS,
	LookaheadS:        defaultLookaheadS,
	Simulate:          false,
	SimulateDurationS: 0,
	SimulateSpeed:     defaultSimSpeed,
}
