// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calculator

import (
	"context"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/services/flow"
)

// FlowName identifies the calculator flow in logs and spans.
const FlowName = "calculator"

// Route is the outcome of a calculator step.
type Route int

const (
	RouteNext Route = iota
	RouteAdd
	RouteSubtract
	RouteMultiply
	RouteDivide
	// RouteFailed ends the run without a result.
	RouteFailed
	// RouteDone ends the run after the result notification.
	RouteDone
)

func (r Route) String() string {
	switch r {
	case RouteNext:
		return "next"
	case RouteAdd:
		return "add"
	case RouteSubtract:
		return "subtract"
	case RouteMultiply:
		return "multiply"
	case RouteDivide:
		return "divide"
	case RouteFailed:
		return "failed"
	case RouteDone:
		return "done"
	default:
		return "unknown"
	}
}

// Step ids.
const (
	StepFirstNumber          flow.StepID = "first_number"
	StepSecondNumber         flow.StepID = "second_number"
	StepConditionalOperation flow.StepID = "conditional_operation"
	StepAddition             flow.StepID = "addition"
	StepSubtraction          flow.StepID = "subtraction"
	StepMultiplication       flow.StepID = "multiplication"
	StepDivision             flow.StepID = "division"
)

// NewFlow builds the calculator topology:
//
//	first_number ─► second_number ─► conditional_operation ─┬─ add ──────► addition
//	                                                         ├─ subtract ─► subtraction
//	                                                         ├─ multiply ─► multiplication
//	                                                         ├─ divide ───► division
//	                                                         └─ failed (end)
func NewFlow() (*flow.Flow[State, Route], error) {
	return flow.New(FlowName, StepFirstNumber,
		flow.Node[State, Route]{
			ID:   StepFirstNumber,
			Run:  firstNumber,
			Next: map[Route]flow.StepID{RouteNext: StepSecondNumber},
		},
		flow.Node[State, Route]{
			ID:   StepSecondNumber,
			Run:  secondNumber,
			Next: map[Route]flow.StepID{RouteNext: StepConditionalOperation},
		},
		flow.Node[State, Route]{
			ID:  StepConditionalOperation,
			Run: conditionalOperation,
			Next: map[Route]flow.StepID{
				RouteAdd:      StepAddition,
				RouteSubtract: StepSubtraction,
				RouteMultiply: StepMultiplication,
				RouteDivide:   StepDivision,
			},
		},
		flow.Node[State, Route]{ID: StepAddition, Run: addition},
		flow.Node[State, Route]{ID: StepSubtraction, Run: subtraction},
		flow.Node[State, Route]{ID: StepMultiplication, Run: multiplication},
		flow.Node[State, Route]{ID: StepDivision, Run: division},
	)
}

// Workflow runs the calculator flow with fresh state for every call.
//
// Safe for concurrent use; each Run owns its State.
type Workflow struct {
	flow *flow.Flow[State, Route]
}

// NewWorkflow builds a Workflow. It only fails if the topology is invalid.
func NewWorkflow() (*Workflow, error) {
	f, err := NewFlow()
	if err != nil {
		return nil, err
	}
	return &Workflow{flow: f}, nil
}

// MustNewWorkflow is NewWorkflow for package-level initialization.
func MustNewWorkflow() *Workflow {
	w, err := NewWorkflow()
	if err != nil {
		panic(err)
	}
	return w
}

// Name returns FlowName.
func (w *Workflow) Name() string {
	return w.flow.Name()
}

// Run executes one calculator run against conv.
func (w *Workflow) Run(ctx context.Context, conv bridge.Conversation) error {
	_, _, err := w.Execute(ctx, conv)
	return err
}

// Execute is Run, also returning the final state and the executed path.
func (w *Workflow) Execute(ctx context.Context, conv bridge.Conversation) (State, flow.Result[Route], error) {
	var s State
	res, err := w.flow.Run(ctx, &s, conv)

	logger := flow.LoggerFrom(ctx)
	if err == nil {
		logger.Debug("Calculator run finished", "state", s.String(), "last_route", res.Last.String())
	}
	return s, res, err
}
