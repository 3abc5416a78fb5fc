// Copyright 2025-2026 Quixote Systems
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command js8tastic bridges JS8Call and a Meshtastic radio in both
// directions. Tagged JS8Call traffic is routed to mesh nodes and channels
// per a configured routing table; mesh text is forwarded to JS8Call as
// free text or directed messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.mau.fi/util/exzerolog"

	"github.com/quixote-systems/js8tastic/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath    = pflag.StringP("config", "c", "config.yaml", "path to the configuration file")
	logLevel      = pflag.StringP("log-level", "l", "", "override the configured log level")
	exampleConfig = pflag.BoolP("example-config", "e", false, "print the example configuration and exit")
	version       = pflag.Bool("version", false, "print the version and exit")
)

func main() {
	pflag.Parse()

	if *version {
		fmt.Printf("js8tastic %s (%s, built %s)\n", Tag, Commit, BuildTime)
		return
	}
	if *exampleConfig {
		fmt.Print(bridge.ExampleConfig)
		return
	}

	// A .env next to the binary may carry overrides like JS8TASTIC_CONFIG.
	_ = godotenv.Load()
	path := *configPath
	if env := os.Getenv("JS8TASTIC_CONFIG"); env != "" && !pflag.CommandLine.Changed("config") {
		path = env
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := bridge.LoadConfig(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := setupLogging(cfg, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("built", BuildTime).
		Msg("Starting js8tastic")

	br, err := bridge.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bridge")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := br.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Bridge exited with error")
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogging(cfg *bridge.Config, override string) (zerolog.Logger, error) {
	levelStr := cfg.Logging.Level
	if override != "" {
		levelStr = override
	}
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("unknown log level %q", levelStr)
	}

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.StampMilli}
	log := zerolog.New(writer).With().Timestamp().Logger().Level(level)
	exzerolog.SetupDefaults(&log)
	return log, nil
}
