// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Exporter: ExporterNone})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_StdoutExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName: "calcflow-test",
		Exporter:    "STDOUT",
		Writer:      &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "session")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"session"`)
	assert.Contains(t, buf.String(), "calcflow-test")
}

func TestInit_Errors(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	shutdown, err := Init(context.Background(), Config{Exporter: ExporterOTLP})
	assert.Error(t, err)
	assert.NotNil(t, shutdown)
}
