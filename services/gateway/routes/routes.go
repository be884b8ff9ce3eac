// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/AleutianFlow/services/gateway/handlers"
	"github.com/AleutianAI/AleutianFlow/services/gateway/session"
	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the gateway's routes on router. metrics may be nil,
// in which case /metrics is not served.
func SetupRoutes(router *gin.Engine, sv *session.Supervisor, socket handlers.SocketConfig,
	metrics http.Handler) {

	router.GET("/", handlers.ClientPage)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/calc", handlers.HandleCalcWebSocket(sv, socket))
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.GET("/sessions", handlers.ListSessions(sv))
	}
}
