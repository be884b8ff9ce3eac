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
	"net/url"
	"os"
	"os/signal"

	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

func runClient(cmd *cobra.Command, args []string) error {
	protocol, err := wire.ParseProtocol(clientProtocol)
	if err != nil {
		return err
	}
	target, err := clientTarget(clientURL, protocol)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", target, err)
	}

	runner := NewClientRunner(conn, protocol, NewInteractiveInputReader(50), cmd.OutOrStdout())
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// clientTarget adds the protocol query parameter to raw, keeping any other
// parameters. http and https schemes are mapped to ws and wss.
func clientTarget(raw string, protocol wire.Protocol) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid url %q: scheme must be ws or wss", raw)
	}
	q := u.Query()
	q.Set("protocol", string(protocol))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
