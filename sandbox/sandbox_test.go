//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) *Sandbox {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func TestEvalArithmetic(t *testing.T) {
	s := newSandbox(t)

	out, err := s.Eval(context.Background(), "1 + 2 * 3", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out)
}

func TestEvalVariables(t *testing.T) {
	s := newSandbox(t)
	vars := map[string]any{
		"loan_amount": int64(250000),
		"applicant":   map[string]any{"age": int64(34)},
	}

	out, err := s.Eval(context.Background(), "loan_amount > 100000 && applicant.age >= 18", vars)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = s.Eval(context.Background(), "loan_amount / 2", vars)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), out)
}

func TestEvalHelpers(t *testing.T) {
	s := newSandbox(t)

	tests := []struct {
		name string
		expr string
		vars map[string]any
		want any
	}{
		{name: "len string", expr: `len("abcd")`, want: int64(4)},
		{name: "len list", expr: "len(items)", vars: map[string]any{"items": []any{int64(1), int64(2)}}, want: int64(2)},
		{name: "min", expr: "min([3, 1, 2])", want: int64(1)},
		{name: "max", expr: "max([3, 1, 2])", want: int64(3)},
		{name: "sum ints", expr: "sum([1, 2, 3])", want: int64(6)},
		{name: "sum mixed", expr: "sum([1.5, 2.5])", want: float64(4)},
		{name: "sorted", expr: "sorted([3, 1, 2])", want: []any{int64(1), int64(2), int64(3)}},
		{name: "sorted strings", expr: `sorted(["b", "a"])`, want: []any{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.Eval(context.Background(), tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestEvalUnknownNameDenied(t *testing.T) {
	s := newSandbox(t)

	_, err := s.Eval(context.Background(), "not_defined + 1", map[string]any{"other": int64(1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDenied)
}

func TestEvalParseError(t *testing.T) {
	s := newSandbox(t)

	_, err := s.Eval(context.Background(), "1 +", nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDenied)
}

func TestEvalEmptyExpression(t *testing.T) {
	s := newSandbox(t)

	_, err := s.Eval(context.Background(), "   ", nil)
	require.Error(t, err)
}

func TestEvalTimeout(t *testing.T) {
	s := newSandbox(t)

	ctx, cancel := context.WithTimeout(context.Background(), -time.Millisecond)
	defer cancel()

	_, err := s.Eval(ctx, "1 + 1", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want bool
	}{
		{name: "nil", in: nil, want: false},
		{name: "false", in: false, want: false},
		{name: "true", in: true, want: true},
		{name: "zero int", in: int64(0), want: false},
		{name: "nonzero int", in: int64(5), want: true},
		{name: "zero float", in: float64(0), want: false},
		{name: "empty string", in: "", want: false},
		{name: "string", in: "x", want: true},
		{name: "empty list", in: []any{}, want: false},
		{name: "list", in: []any{1}, want: true},
		{name: "empty map", in: map[string]any{}, want: false},
		{name: "map", in: map[string]any{"a": 1}, want: true},
		{name: "struct-ish value", in: struct{}{}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Truthy(tt.in))
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	in := map[string]any{
		"nested": []any{map[string]any{"a": int64(1)}},
	}
	out := NormalizeValue(in)
	assert.Equal(t, in, out)
}
