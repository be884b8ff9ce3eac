// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package calculator implements the interactive two-operand calculator
// workflow on top of the flow engine.
package calculator

import (
	"fmt"
	"math/big"
	"strings"
)

// Operation is the arithmetic operation selected by the user.
type Operation int

const (
	// OpUnknown marks an operation name that matched nothing.
	OpUnknown Operation = iota
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
)

// String returns the operation name as the user types it.
func (o Operation) String() string {
	switch o {
	case OpAdd:
		return "add"
	case OpSubtract:
		return "subtract"
	case OpMultiply:
		return "multiply"
	case OpDivide:
		return "divide"
	default:
		return "unknown"
	}
}

// NormalizeOperation lowercases and trims raw operation input.
func NormalizeOperation(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// ParseOperation maps user input to an Operation. "DIVIDE " and "divide" are
// the same operation. Unrecognized names return OpUnknown.
func ParseOperation(raw string) Operation {
	switch NormalizeOperation(raw) {
	case "add":
		return OpAdd
	case "subtract":
		return OpSubtract
	case "multiply":
		return OpMultiply
	case "divide":
		return OpDivide
	default:
		return OpUnknown
	}
}

// State is the working data of one calculator run. Only the step currently
// running touches it.
type State struct {
	Num1 int64
	Num2 int64

	Operation Operation

	// RawOperation is the normalized operation text as entered.
	RawOperation string

	// Result is exact for add, subtract and multiply. A quotient is the
	// float64 division of the operands, held exactly.
	Result *big.Rat

	// HasResult is false until an arithmetic step stores Result. A division by
	// zero leaves it false.
	HasResult bool
}

func (s State) String() string {
	if !s.HasResult {
		return fmt.Sprintf("%d %s %d = <none>", s.Num1, s.Operation, s.Num2)
	}
	return fmt.Sprintf("%d %s %d = %s", s.Num1, s.Operation, s.Num2, FormatResult(s.Result))
}
