// Copyright 2023, DASH-Industry Forum. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/Dash-Industry-Forum/streamcore/cmd/streamcore-fetch/app"
	"github.com/Dash-Industry-Forum/streamcore/internal"
	"github.com/Dash-Industry-Forum/streamcore/pkg/logging"
)

func main() {
	cfg, err := app.LoadConfig(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if cfg.Version {
		fmt.Printf("streamcore-fetch: %s\n", internal.GetVersion())
		os.Exit(0)
	}

	if err := logging.InitSlog(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	eng, tc, _, _, life := app.BuildOrchestrator(cfg)

	if cfg.Port > 0 {
		srv := app.NewServer(cfg, eng)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Port)
			slog.Info("debug server listening", "addr", addr)
			if err := http.ListenAndServe(addr, srv.Router); err != nil && err != http.ErrServerClosed {
				slog.Error("debug server stopped", "error", err)
			}
		}()
	}

	slog.Info("streamcore-fetch starting", "version", internal.GetVersion(), "asset", cfg.AssetURL)
	if err := app.Run(ctx, cfg, eng, tc, life); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
