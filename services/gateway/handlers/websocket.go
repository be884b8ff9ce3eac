// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/pkg/wire"
	"github.com/AleutianAI/AleutianFlow/services/gateway/session"
	"github.com/AleutianAI/AleutianFlow/services/gateway/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// SocketConfig holds the per-server defaults for /calc. Query parameters
// "mode" and "protocol" override Mode and Protocol per connection.
type SocketConfig struct {
	Mode     bridge.Mode
	Protocol wire.Protocol

	// AllowedOrigins lists browser origins allowed to connect. "*" allows any
	// origin; an empty list allows same-host origins only.
	AllowedOrigins []string

	Transport transport.Options
}

// HandleCalcWebSocket upgrades the request and serves one calculator session
// over the connection until it is closed.
//
// # Description
//
// Invalid "mode" or "protocol" query values are rejected with 400 before the
// upgrade. Once upgraded, the handler blocks in Supervisor.Serve; the
// supervisor owns the connection from then on.
//
// # Inputs
//
//   - sv: The session supervisor.
//   - cfg: Defaults and origin policy.
//
// # Outputs
//
//   - gin.HandlerFunc: The /calc handler.
func HandleCalcWebSocket(sv *session.Supervisor, cfg SocketConfig) gin.HandlerFunc {
	u := upgrader
	u.CheckOrigin = checkOrigin(cfg.AllowedOrigins)

	return func(c *gin.Context) {
		mode := cfg.Mode
		if raw := c.Query("mode"); raw != "" {
			m, err := bridge.ParseMode(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			mode = m
		}
		protocol := cfg.Protocol
		if raw := c.Query("protocol"); raw != "" {
			p, err := wire.ParseProtocol(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			protocol = p
		}

		ws, err := u.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already written the HTTP error response.
			slog.Warn("failed to upgrade the websocket", "error", err, "remote_addr", c.ClientIP())
			return
		}

		snap, err := sv.Serve(c.Request.Context(), ws, session.Options{
			Mode:       mode,
			Protocol:   protocol,
			RemoteAddr: c.ClientIP(),
			Transport:  cfg.Transport,
		})
		if err != nil {
			slog.Warn("Session was not started", "error", err, "remote_addr", c.ClientIP())
			return
		}
		slog.Debug("Websocket handler finished", "session_id", snap.ID, "final_state", snap.FinalState.String())
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		if _, ok := set[strings.ToLower(origin)]; ok {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
