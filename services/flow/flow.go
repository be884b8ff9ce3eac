// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow executes a fixed topology of steps against shared state.
//
// # Description
//
// A Flow is a set of nodes. Each node runs one step and returns a route value;
// the node's Next table maps that route to the following node. A route with no
// entry ends the run. Tables are checked once, in New, so a typo in a
// transition is a construction error and not a silent dead end at run time.
//
// Steps run strictly one at a time, so the state they share is never accessed
// concurrently.
//
// # Failure Semantics
//
// A step that returns an error, or panics, aborts the run. The error is
// returned as *StepError and still matches the underlying cause with
// errors.Is, which lets callers tell a disconnect (bridge.ErrClosed) from a
// real failure.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AleutianAI/AleutianFlow/services/flow"

// DefaultMaxSteps bounds the number of steps a single run may execute.
const DefaultMaxSteps = 64

var (
	// ErrNoSteps is returned by New when no nodes are given.
	ErrNoSteps = errors.New("flow: no steps")

	// ErrUnknownStep is returned by New when the start node or a transition
	// target does not exist.
	ErrUnknownStep = errors.New("flow: unknown step")

	// ErrDuplicateStep is returned by New when two nodes share an id.
	ErrDuplicateStep = errors.New("flow: duplicate step")

	// ErrStepLimit is returned by Run when the run exceeds its step budget.
	ErrStepLimit = errors.New("flow: step limit exceeded")
)

// StepID names a node.
type StepID string

// StepFunc is one unit of work. It may call conv any number of times and
// returns the route that selects the next node.
type StepFunc[S any, R comparable] func(ctx context.Context, state *S, conv bridge.Conversation) (R, error)

// Node binds a step to its outgoing transitions. A nil or empty Next makes the
// node terminal.
type Node[S any, R comparable] struct {
	ID   StepID
	Run  StepFunc[S, R]
	Next map[R]StepID
}

// StepError reports which step aborted a run.
type StepError struct {
	Step  StepID
	Err   error
	Panic bool
}

func (e *StepError) Error() string {
	if e.Panic {
		return fmt.Sprintf("step %s panicked: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result describes a finished run.
type Result[R comparable] struct {
	// Path lists the nodes executed, in order.
	Path []StepID

	// Last is the route returned by the last node executed.
	Last R
}

// Flow is an immutable, validated step topology.
type Flow[S any, R comparable] struct {
	name     string
	start    StepID
	nodes    map[StepID]Node[S, R]
	maxSteps int
	tracer   trace.Tracer
}

// New validates the nodes and builds a Flow.
//
// # Inputs
//
//   - name: Flow name used in logs and spans.
//   - start: Id of the first node.
//   - nodes: Every node of the flow.
//
// # Outputs
//
//   - *Flow: Ready to Run any number of times.
//   - error: ErrNoSteps, ErrDuplicateStep or ErrUnknownStep.
func New[S any, R comparable](name string, start StepID, nodes ...Node[S, R]) (*Flow[S, R], error) {
	if len(nodes) == 0 {
		return nil, ErrNoSteps
	}
	index := make(map[StepID]Node[S, R], len(nodes))
	for _, n := range nodes {
		if n.Run == nil {
			return nil, fmt.Errorf("flow %s: step %s has no function", name, n.ID)
		}
		if _, dup := index[n.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, n.ID)
		}
		index[n.ID] = n
	}
	if _, ok := index[start]; !ok {
		return nil, fmt.Errorf("%w: start %s", ErrUnknownStep, start)
	}
	for _, n := range nodes {
		for route, target := range n.Next {
			if _, ok := index[target]; !ok {
				return nil, fmt.Errorf("%w: %s routes %v to %s", ErrUnknownStep, n.ID, route, target)
			}
		}
	}
	return &Flow[S, R]{
		name:     name,
		start:    start,
		nodes:    index,
		maxSteps: DefaultMaxSteps,
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Name returns the flow name.
func (f *Flow[S, R]) Name() string {
	return f.name
}

// Run executes the flow from its start node until a node returns a route with
// no transition.
func (f *Flow[S, R]) Run(ctx context.Context, state *S, conv bridge.Conversation) (Result[R], error) {
	var res Result[R]
	logger := LoggerFrom(ctx).With("flow", f.name)

	current := f.start
	for steps := 0; ; steps++ {
		if steps >= f.maxSteps {
			return res, fmt.Errorf("%w: %d", ErrStepLimit, f.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		node := f.nodes[current]
		res.Path = append(res.Path, node.ID)
		logger.Debug("Running step", "step", node.ID)

		route, err := f.runStep(ctx, node, state, conv)
		if err != nil {
			logger.Debug("Step aborted the run", "step", node.ID, "error", err)
			return res, err
		}
		res.Last = route

		next, ok := node.Next[route]
		if !ok {
			logger.Debug("Run reached a terminal route", "step", node.ID, "route", route)
			return res, nil
		}
		current = next
	}
}

func (f *Flow[S, R]) runStep(ctx context.Context, node Node[S, R], state *S, conv bridge.Conversation) (route R, err error) {
	ctx, span := f.tracer.Start(ctx, "flow.step", trace.WithAttributes(
		attribute.String("flow.name", f.name),
		attribute.String("flow.step", string(node.ID)),
	))
	defer func() {
		if r := recover(); r != nil {
			var zero R
			route = zero
			err = &StepError{Step: node.ID, Err: fmt.Errorf("%v", r), Panic: true}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("flow.route", fmt.Sprint(route)))
		}
		span.End()
	}()

	route, err = node.Run(ctx, state, conv)
	if err != nil {
		return route, &StepError{Step: node.ID, Err: err}
	}
	return route, nil
}

// =============================================================================
// Context Logger
// =============================================================================

type loggerKey struct{}

// ContextWithLogger attaches a logger that Run and steps use for their output.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger attached to ctx, or slog.Default().
func LoggerFrom(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
