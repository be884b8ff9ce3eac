// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/AleutianFlow/cmd/calcflow/config"
	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/pkg/logging"
	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/AleutianAI/AleutianFlow/services/gateway"
	"github.com/spf13/cobra"
)

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveMode != "" {
		cfg.Session.Mode = strings.ToLower(serveMode)
	}
	if serveProtocol != "" {
		cfg.Session.Protocol = strings.ToLower(serveProtocol)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: gateway.ServiceName,
		JSON:    cfg.Logging.JSON,
	})
	defer logger.Close()
	logger.Install()

	gwCfg, err := gatewayConfig(cfg)
	if err != nil {
		return err
	}
	gwCfg.Logger = logger.Slog()

	svc, err := gateway.New(gwCfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(path, os.Getenv, func(next config.CalcflowConfig) {
		applyReload(logger, next)
	}, logger.Slog())
	if err != nil {
		logger.Warn("Config hot reload disabled", "path", path, "error", err)
	} else {
		go watcher.Run(ctx)
	}

	return svc.Run(ctx)
}

// applyReload applies the settings that can change without a restart. Only
// the log level is live; other changes are logged and wait for a restart.
func applyReload(logger *logging.Logger, cfg config.CalcflowConfig) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("Ignoring reloaded log level", "level", cfg.Logging.Level, "error", err)
		return
	}
	if level != logger.Level() {
		logger.Info("Log level changed", "from", logger.Level().String(), "to", level.String())
		logger.SetLevel(level)
	}
}

// gatewayConfig maps the file config onto gateway.Config.
func gatewayConfig(cfg config.CalcflowConfig) (gateway.Config, error) {
	mode, err := bridge.ParseMode(cfg.Session.Mode)
	if err != nil {
		return gateway.Config{}, err
	}
	protocol, err := wire.ParseProtocol(cfg.Session.Protocol)
	if err != nil {
		return gateway.Config{}, err
	}
	if err := config.Validate(cfg); err != nil {
		return gateway.Config{}, fmt.Errorf("after flag overrides: %w", err)
	}
	return gateway.Config{
		Addr:           cfg.Server.Addr,
		Debug:          cfg.Server.Debug,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Mode:           mode,
		Protocol:       protocol,
		PingInterval:   cfg.Transport.PingInterval,
		PongWait:       cfg.Transport.PongWait,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		ShutdownGrace:  cfg.Session.ShutdownGrace,
		InboxSize:      cfg.Transport.InboxSize,
		InboundRate:    cfg.Transport.InboundRate,
		InboundBurst:   cfg.Transport.InboundBurst,
		MaxFrameSize:   cfg.Transport.MaxFrameSize,
		DisableMetrics: !cfg.Observability.Metrics,
		TraceExporter:  cfg.Observability.TraceExporter,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		Version:        version,
	}, nil
}
