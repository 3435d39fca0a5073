// Command edge runs the signage edge: the public HTTP proxy, the WebSocket
// hub and the internal notification API in one process.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/signagehub/edge/internal/config"
	"github.com/signagehub/edge/internal/gateway"
	"github.com/signagehub/edge/internal/logging"
)

// set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "YAML config file; without it settings come from the environment")
	showVersion := flag.Bool("version", false, "print the version and exit")
	checkOnly := flag.Bool("validate", false, "load and validate the configuration, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("signage edge %s (built %s)\n", version, buildTime)
		return 0
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "edge: %v\n", err)
		return 1
	}
	if *checkOnly {
		fmt.Printf("configuration ok: %d services, %d routes\n", len(cfg.Services), len(cfg.Routes))
		return 0
	}

	logger, err := logging.New(loggingOptions(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "edge: logger: %v\n", err)
		return 1
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	logging.Info("starting signage edge",
		zap.String("build_time", buildTime),
		zap.String("config", *configPath),
		zap.String("address", cfg.Server.Address),
		zap.Strings("allowed_origins", cfg.CORS.AllowOrigins),
		zap.Bool("relay", cfg.Relay.Enabled),
		zap.Bool("tracing", cfg.Tracing.Enabled),
	)

	server, err := gateway.NewServer(cfg, *configPath)
	if err != nil {
		logging.Error("edge setup failed", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logging.Error("edge stopped with error", zap.Error(err))
		return 1
	}
	logging.Info("edge stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.LoadFromEnv()
	}
	return loader.Load(path)
}

func loggingOptions(c config.LoggingConfig) logging.Options {
	return logging.Options{
		Level:  c.Level,
		Format: c.Format,
		Output: c.Output,
		Rotation: logging.Rotation{
			MaxSize:    c.Rotation.MaxSize,
			MaxBackups: c.Rotation.MaxBackups,
			MaxAge:     c.Rotation.MaxAge,
			Compress:   c.Rotation.Compress,
			LocalTime:  c.Rotation.LocalTime,
		},
		Fields: []zap.Field{zap.String("version", version)},
	}
}
