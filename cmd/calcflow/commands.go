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
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// serve flags
	configPath    string
	serveAddr     string
	serveMode     string
	serveProtocol string

	// client flags
	clientURL      string
	clientProtocol string

	rootCmd = &cobra.Command{
		Use:   "calcflow",
		Short: "A structured calculator workflow served over websockets",
		Long: `calcflow runs a step-by-step calculator workflow for every websocket
client that connects, asking for two numbers and an operation and
reporting the result.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the calcflow gateway",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Run the calculator workflow from this terminal",
		RunE:  runClient, // Defined in cmd_client.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the calcflow version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "calcflow", version)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to the config file (default ~/.calcflow/calcflow.yaml)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Bridge mode: cooperative or threaded, overrides session.mode")
	serveCmd.Flags().StringVar(&serveProtocol, "protocol", "", "Default wire protocol: text or json, overrides session.protocol")

	rootCmd.AddCommand(clientCmd)
	clientCmd.Flags().StringVar(&clientURL, "url", "ws://localhost:8000/calc", "Websocket URL of the calcflow gateway")
	clientCmd.Flags().StringVar(&clientProtocol, "protocol", "text", "Wire protocol: text or json")

	rootCmd.AddCommand(versionCmd)
}
