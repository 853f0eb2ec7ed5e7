// Command server bootstraps the fraud scoring pipeline: config, tracing,
// the stream processor, and the admin HTTP surface.
package main

import (
	"context"
	"os"

	"github.com/mbd888/fraudpipeline/internal/config"
	"github.com/mbd888/fraudpipeline/internal/logging"
	"github.com/mbd888/fraudpipeline/internal/server"
	"github.com/mbd888/fraudpipeline/internal/traces"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting fraud pipeline",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"ml_enabled", cfg.MLEnabled(),
		"review_threshold", cfg.ReviewThreshold,
		"block_threshold", cfg.BlockThreshold,
	)

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			if err := shutdownTraces(ctx); err != nil {
				logger.Warn("tracing shutdown error", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
