// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"

	"github.com/Dash-Industry-Forum/streamcore/pkg/logging"
	"github.com/spf13/pflag"
)

// LoadConfig loads defaults, an optional config file, command-line flags, and
// finally environment overrides, in that precedence order -- the same
// structs -> file -> posflag -> env pipeline cmd/livesim2/app/config.go uses.
//
// The MPD/manifest URL is the sole positional argument, as in
// cmd/dashfetcher/main.go.
func LoadConfig(args []string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("streamcore-fetch", pflag.ContinueOnError)
	name := args[0]
	f.Usage = func() {
		parts := strings.Split(name, "/")
		prog := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Usage: %s [options] mpdURL\n\n", prog)
		f.PrintDefaults()
	}

	cfgFile := f.String("cfg", "", "path to a JSON config file")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.Int("port", k.Int("port"), "debug/metrics HTTP server port (0 disables it)")
	f.Int("timeouts", k.Int("timeouts"), "per-request timeout (seconds)")
	f.Float64("lookaheads", k.Float64("lookaheads"), "streams pipeline lookahead (seconds)")
	f.Bool("simulate", k.Bool("simulate"), "run an offline playback-clock simulation instead of waiting on a real media element")
	f.Float64("simulatedurations", k.Float64("simulatedurations"), "simulated playback duration (seconds); 0 runs until end-of-stream")
	f.Float64("simulatespeed", k.Float64("simulatespeed"), "simulated clock speed multiplier")
	f.BoolP("version", "v", false, "print version and exit")
	f.CommandLine.SortFlags = false

	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *cfgFile != "" {
		if err := k.Load(file.Provider(*cfgFile), json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %w", err)
	}

	err := k.Load(env.Provider("STREAMCORE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "STREAMCORE_")), "_", ".")
	}), nil)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	version, _ := f.GetBool("version")
	cfg.Version = version

	if !cfg.Version {
		if len(f.Args()) != 1 {
			f.Usage()
			return nil, fmt.Errorf("exactly one mpdURL argument required")
		}
		cfg.AssetURL = f.Args()[0]
	}

	return &cfg, nil
}
