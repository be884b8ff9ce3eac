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
	"math/big"
	"strconv"
	"testing"

	"github.com/AleutianAI/AleutianFlow/pkg/bridge"
	"github.com/AleutianAI/AleutianFlow/pkg/bridge/bridgetest"
	"github.com/AleutianAI/AleutianFlow/services/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, answers ...string) (State, flow.Result[Route], *bridgetest.Scripted, error) {
	t.Helper()
	conv := bridgetest.NewScripted(answers...)
	s, res, err := MustNewWorkflow().Execute(context.Background(), conv)
	return s, res, conv, err
}

// =============================================================================
// Scenario Tests
// =============================================================================

func TestWorkflow_DivideSixByThree(t *testing.T) {
	s, res, conv, err := execute(t, "6", "3", "divide")
	require.NoError(t, err)

	assert.Equal(t, []string{
		MsgStart,
		PromptFirstNumber,
		MsgSecondMethod,
		PromptSecondNumber,
		MsgOperation,
		PromptOperation,
		"Result: 2",
	}, conv.Texts())
	assert.Equal(t, []string{PromptFirstNumber, PromptSecondNumber, PromptOperation}, conv.Prompts())

	assert.True(t, s.HasResult)
	assert.Equal(t, "2", s.Result.RatString())
	assert.Equal(t, OpDivide, s.Operation)
	assert.Equal(t, []flow.StepID{StepFirstNumber, StepSecondNumber, StepConditionalOperation, StepDivision}, res.Path)
	assert.Equal(t, RouteDone, res.Last)
}

func TestWorkflow_DivisionByZero(t *testing.T) {
	s, _, conv, err := execute(t, "5", "0", "divide")
	require.NoError(t, err)

	texts := conv.Texts()
	assert.Equal(t, MsgDivisionByZero, texts[len(texts)-1])
	assert.False(t, s.HasResult)
	assert.Nil(t, s.Result)
	for _, text := range texts {
		assert.NotContains(t, text, "Result:")
	}
}

func TestWorkflow_OperationIsNormalized(t *testing.T) {
	s, res, conv, err := execute(t, "6", "3", "DIVIDE ")
	require.NoError(t, err)

	assert.Equal(t, "divide", s.RawOperation)
	assert.Equal(t, OpDivide, s.Operation)
	assert.Equal(t, StepDivision, res.Path[len(res.Path)-1])
	texts := conv.Texts()
	assert.Equal(t, "Result: 2", texts[len(texts)-1])
}

func TestWorkflow_UnknownOperationEndsSilently(t *testing.T) {
	s, res, conv, err := execute(t, "6", "3", "power")
	require.NoError(t, err)

	assert.Equal(t, RouteFailed, res.Last)
	assert.Equal(t, StepConditionalOperation, res.Path[len(res.Path)-1])
	assert.Equal(t, OpUnknown, s.Operation)
	assert.Equal(t, "power", s.RawOperation)
	assert.False(t, s.HasResult)

	texts := conv.Texts()
	assert.Equal(t, PromptOperation, texts[len(texts)-1])
}

func TestWorkflow_Arithmetic(t *testing.T) {
	tests := []struct {
		a, b, op string
		want     string
	}{
		{"2", "3", "add", "Result: 5"},
		{"2", "3", "subtract", "Result: -1"},
		{"4", "-3", "multiply", "Result: -12"},
		{"7", "2", "divide", "Result: 3.5"},
		{" 10 ", "+5", "Add", "Result: 15"},
		{"9007199254740993", "0", "add", "Result: 9007199254740993"},
		{"-9007199254740993", "2", "subtract", "Result: -9007199254740995"},
		{"3037000499", "3037000499", "multiply", "Result: 9223372030926249001"},
		{"9223372036854775807", "1", "add", "Result: 9223372036854775808"},
		{"-9223372036854775808", "-1", "multiply", "Result: 9223372036854775808"},
		{"9223372036854775807", "2", "multiply", "Result: 18446744073709551614"},
		{"1", "3", "divide", "Result: 0.3333333333333333"},
	}
	for _, tt := range tests {
		t.Run(tt.op+"_"+tt.a+"_"+tt.b, func(t *testing.T) {
			_, _, conv, err := execute(t, tt.a, tt.b, tt.op)
			require.NoError(t, err)
			texts := conv.Texts()
			assert.Equal(t, tt.want, texts[len(texts)-1])
		})
	}
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestWorkflow_OperandParseFailureAbortsRun(t *testing.T) {
	_, res, conv, err := execute(t, "six")
	require.Error(t, err)

	var opErr *OperandError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "six", opErr.Input)
	assert.ErrorIs(t, err, strconv.ErrSyntax)

	var stepErr *flow.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepFirstNumber, stepErr.Step)
	assert.Equal(t, []flow.StepID{StepFirstNumber}, res.Path)
	assert.Equal(t, []string{MsgStart, PromptFirstNumber}, conv.Texts())
}

func TestWorkflow_OperandOutOfRange(t *testing.T) {
	_, _, _, err := execute(t, "1", "99999999999999999999")
	assert.ErrorIs(t, err, strconv.ErrRange)
}

func TestWorkflow_SentinelAbortsCleanly(t *testing.T) {
	// Only one answer: the second request sees a closed conversation.
	s, res, conv, err := execute(t, "6")
	require.Error(t, err)
	assert.ErrorIs(t, err, bridge.ErrClosed)

	assert.Equal(t, int64(6), s.Num1)
	assert.False(t, s.HasResult)
	assert.Equal(t, StepSecondNumber, res.Path[len(res.Path)-1])
	assert.Equal(t, PromptSecondNumber, conv.Texts()[len(conv.Texts())-1])
}

// =============================================================================
// Unit Tests
// =============================================================================

func TestParseOperation(t *testing.T) {
	assert.Equal(t, OpAdd, ParseOperation("add"))
	assert.Equal(t, OpSubtract, ParseOperation("  Subtract"))
	assert.Equal(t, OpMultiply, ParseOperation("MULTIPLY\n"))
	assert.Equal(t, OpDivide, ParseOperation("DIVIDE "))
	assert.Equal(t, OpUnknown, ParseOperation("modulo"))
	assert.Equal(t, OpUnknown, ParseOperation(""))
	assert.Equal(t, "divide", OpDivide.String())
}

func TestFormatResult(t *testing.T) {
	assert.Equal(t, "2", FormatResult(big.NewRat(2, 1)))
	assert.Equal(t, "3.5", FormatResult(big.NewRat(7, 2)))
	assert.Equal(t, "0.3333333333333333", FormatResult(new(big.Rat).SetFloat64(1.0/3.0)))
	assert.Equal(t, "-9223372030926249001", FormatResult(new(big.Rat).SetInt64(-9223372030926249001)))
	assert.Equal(t, "<none>", FormatResult(nil))
	assert.Equal(t, "Result: -1", ResultMessage(big.NewRat(-1, 1)))
}

func TestNewFlow_IsValid(t *testing.T) {
	f, err := NewFlow()
	require.NoError(t, err)
	assert.Equal(t, FlowName, f.Name())
}
