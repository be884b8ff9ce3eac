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
	"net/http/httptest"
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/calculator"
	"github.com/AleutianAI/AleutianFlow/services/gateway/handlers"
	"github.com/AleutianAI/AleutianFlow/services/gateway/session"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, metrics http.Handler) *gin.Engine {
	t.Helper()
	sv, err := session.NewSupervisor(session.Config{Workflow: calculator.MustNewWorkflow()})
	require.NoError(t, err)
	router := gin.New()
	SetupRoutes(router, sv, handlers.SocketConfig{}, metrics)
	return router
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

func TestSetupRoutes(t *testing.T) {
	router := newRouter(t, nil)

	for _, path := range []string{"/", "/calc", "/health", "/v1/sessions"} {
		assert.True(t, hasRoute(router, http.MethodGet, path), "missing GET %s", path)
	}
	assert.False(t, hasRoute(router, http.MethodGet, "/metrics"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":0,"sessions":[]}`, w.Body.String())
}

func TestSetupRoutes_Metrics(t *testing.T) {
	called := false
	router := newRouter(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}
