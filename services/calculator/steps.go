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
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/services/flow"
)

// User-facing text. Clients match on these strings, so they are part of the
// wire contract.
const (
	MsgStart           = "Starting the structured flow"
	PromptFirstNumber  = "Enter the first number:"
	MsgSecondMethod    = "Starting second method"
	PromptSecondNumber = "Enter the second number:"
	MsgOperation       = "Starting Calculator Operation"
	PromptOperation    = "Enter the operation (add/subtract/multiply/divide):"
	MsgDivisionByZero  = "Division by zero!"

	resultPrefix = "Result: "
)

// OperandError is returned when an operand answer is not an integer.
type OperandError struct {
	Input string
	Err   error
}

func (e *OperandError) Error() string {
	return fmt.Sprintf("invalid operand %q: %v", e.Input, e.Err)
}

func (e *OperandError) Unwrap() error {
	return e.Err
}

// ParseOperand parses a base-10 integer, ignoring surrounding whitespace.
func ParseOperand(input string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			err = ne.Err
		}
		return 0, &OperandError{Input: input, Err: err}
	}
	return n, nil
}

// FormatResult renders r without an exponent. Integers print every digit
// (2, -12, 9223372030926249001); other values print the shortest float64
// form (3.5, 0.3333333333333333).
func FormatResult(r *big.Rat) string {
	if r == nil {
		return "<none>"
	}
	if r.IsInt() {
		return r.Num().String()
	}
	f, _ := r.Float64()
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ResultMessage is the notification sent for a computed result.
func ResultMessage(r *big.Rat) string {
	return resultPrefix + FormatResult(r)
}

// =============================================================================
// Input Steps
// =============================================================================

func firstNumber(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	n, err := askOperand(ctx, conv, MsgStart, PromptFirstNumber)
	if err != nil {
		return RouteFailed, err
	}
	s.Num1 = n
	return RouteNext, nil
}

func secondNumber(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	n, err := askOperand(ctx, conv, MsgSecondMethod, PromptSecondNumber)
	if err != nil {
		return RouteFailed, err
	}
	s.Num2 = n
	return RouteNext, nil
}

func askOperand(ctx context.Context, conv bridge.Conversation, notice, prompt string) (int64, error) {
	if err := conv.Notify(ctx, notice); err != nil {
		return 0, err
	}
	answer, err := conv.Request(ctx, prompt)
	if err != nil {
		return 0, err
	}
	return ParseOperand(answer)
}

// conditionalOperation asks for the operation and routes to its step. An
// unrecognized name routes to RouteFailed, which has no step.
func conditionalOperation(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	if err := conv.Notify(ctx, MsgOperation); err != nil {
		return RouteFailed, err
	}
	answer, err := conv.Request(ctx, PromptOperation)
	if err != nil {
		return RouteFailed, err
	}

	s.RawOperation = NormalizeOperation(answer)
	s.Operation = ParseOperation(answer)

	switch s.Operation {
	case OpAdd:
		return RouteAdd, nil
	case OpSubtract:
		return RouteSubtract, nil
	case OpMultiply:
		return RouteMultiply, nil
	case OpDivide:
		return RouteDivide, nil
	default:
		flow.LoggerFrom(ctx).Info("Unrecognized operation", "operation", s.RawOperation)
		return RouteFailed, nil
	}
}

// =============================================================================
// Arithmetic Steps
// =============================================================================

// Sums, differences and products are computed in big.Int so results past
// int64 (or past 2^53) stay exact.

func addition(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	a, b := operands(s)
	return publish(ctx, s, conv, new(big.Rat).SetInt(a.Add(a, b)))
}

func subtraction(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	a, b := operands(s)
	return publish(ctx, s, conv, new(big.Rat).SetInt(a.Sub(a, b)))
}

func multiplication(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	a, b := operands(s)
	return publish(ctx, s, conv, new(big.Rat).SetInt(a.Mul(a, b)))
}

// division is true division in float64: 7/2 is 3.5 and 1/3 is rounded.
func division(ctx context.Context, s *State, conv bridge.Conversation) (Route, error) {
	if s.Num2 == 0 {
		return RouteDone, conv.Notify(ctx, MsgDivisionByZero)
	}
	q := new(big.Rat).SetFloat64(float64(s.Num1) / float64(s.Num2))
	return publish(ctx, s, conv, q)
}

func operands(s *State) (*big.Int, *big.Int) {
	return big.NewInt(s.Num1), big.NewInt(s.Num2)
}

func publish(ctx context.Context, s *State, conv bridge.Conversation, r *big.Rat) (Route, error) {
	s.Result = r
	s.HasResult = true
	return RouteDone, conv.Notify(ctx, ResultMessage(r))
}
