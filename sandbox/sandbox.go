//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package sandbox evaluates restricted expressions against a value map.
//
// The dialect is CEL, which is restricted by construction: no file, network
// or process access, no imports, and no dynamic code evaluation. On top of
// the CEL standard library a small whitelist of helper functions is
// registered: len, min, max, sum and sorted. Date/time arithmetic uses CEL's
// timestamp and duration types; regular expressions use CEL's matches.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

var (
	// ErrTimeout indicates evaluation exceeded the caller's deadline.
	ErrTimeout = errors.New("sandbox: evaluation timed out")
	// ErrDenied indicates the expression referenced a name outside the
	// evaluation context and the whitelist.
	ErrDenied = errors.New("sandbox: forbidden name")
)

// interruptCheckFrequency is how many CEL evaluation steps pass between
// cancellation checks. A buggy expression must not overrun its deadline by
// more than a handful of steps.
const interruptCheckFrequency = 128

// Sandbox is a reusable, goroutine-safe expression evaluator.
type Sandbox struct {
	env *cel.Env
}

// New builds the CEL environment with the whitelisted helper functions.
func New() (*Sandbox, error) {
	env, err := cel.NewEnv(
		cel.Function("len",
			cel.Overload("len_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(unaryHelper(helperLen))),
		),
		cel.Function("min",
			cel.Overload("min_list", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(unaryHelper(helperMin))),
		),
		cel.Function("max",
			cel.Overload("max_list", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(unaryHelper(helperMax))),
		),
		cel.Function("sum",
			cel.Overload("sum_list", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(unaryHelper(helperSum))),
		),
		cel.Function("sorted",
			cel.Overload("sorted_list", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(unaryHelper(helperSorted))),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("sandbox: failed to create environment: %w", err)
	}
	return &Sandbox{env: env}, nil
}

// Eval evaluates expr against the given value map. The deadline is taken
// from ctx; on expiry ErrTimeout is returned. Identifiers are resolved from
// vars at evaluation time, so expressions are parsed without a static check
// and an unknown name yields ErrDenied.
func (s *Sandbox) Eval(ctx context.Context, expr string, vars map[string]any) (any, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("sandbox: expression is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, timeoutOr(ctx, err)
	}

	ast, issues := s.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("sandbox: parse error: %w", issues.Err())
	}

	prg, err := s.env.Program(ast, cel.InterruptCheckFrequency(interruptCheckFrequency))
	if err != nil {
		return nil, fmt.Errorf("sandbox: program build error: %w", err)
	}

	if vars == nil {
		vars = map[string]any{}
	}
	out, _, err := prg.ContextEval(ctx, vars)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, timeoutOr(ctx, ctxErr)
		}
		if strings.Contains(err.Error(), "no such attribute") {
			return nil, fmt.Errorf("%w: %v", ErrDenied, err)
		}
		return nil, fmt.Errorf("sandbox: eval error: %w", err)
	}

	return NormalizeValue(out), nil
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

// Truthy pins down the truthiness rules for predicate results: nil, false,
// numeric zero and empty strings, lists and maps are false; everything else
// is true.
func Truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case int:
		return val != 0
	case int64:
		return val != 0
	case uint64:
		return val != 0
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

// NormalizeValue converts CEL evaluation results into JSON-friendly Go
// values: ref.Val is unwrapped, map keys become strings, and nested
// maps/slices are normalized recursively.
func NormalizeValue(v any) any {
	if rv, ok := v.(ref.Val); ok {
		return NormalizeValue(rv.Value())
	}
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := fmt.Sprint(NormalizeValue(iter.Key().Interface()))
			out[key] = NormalizeValue(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = NormalizeValue(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}

// unaryHelper adapts a plain Go helper to a CEL unary function binding.
func unaryHelper(fn func(any) (any, error)) func(ref.Val) ref.Val {
	return func(arg ref.Val) ref.Val {
		out, err := fn(NormalizeValue(arg))
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		return types.DefaultTypeAdapter.NativeToValue(out)
	}
}

func helperLen(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return int64(len(val)), nil
	case []any:
		return int64(len(val)), nil
	case map[string]any:
		return int64(len(val)), nil
	default:
		return nil, fmt.Errorf("len: unsupported type %T", v)
	}
}

func helperMin(v any) (any, error) { return extremum(v, true) }

func helperMax(v any) (any, error) { return extremum(v, false) }

func extremum(v any, min bool) (any, error) {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("min/max: want a non-empty list, got %T", v)
	}
	best := list[0]
	for _, item := range list[1:] {
		less, err := lessThan(item, best)
		if err != nil {
			return nil, err
		}
		if less == min {
			best = item
		}
	}
	return best, nil
}

func helperSum(v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("sum: want a list, got %T", v)
	}
	var total float64
	allInts := true
	for _, item := range list {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("sum: non-numeric element %T", item)
		}
		if _, isInt := item.(int64); !isInt {
			allInts = false
		}
		total += f
	}
	if allInts {
		return int64(total), nil
	}
	return total, nil
}

func helperSorted(v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("sorted: want a list, got %T", v)
	}
	out := append([]any(nil), list...)
	var sortErr error
	sort.SliceStable(out, func(i, j int) bool {
		less, err := lessThan(out[i], out[j])
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return less
	})
	if sortErr != nil {
		return nil, sortErr
	}
	return out, nil
}

func lessThan(a, b any) (bool, error) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return false, fmt.Errorf("cannot compare string with %T", b)
		}
		return as < bs, nil
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false, fmt.Errorf("cannot compare %T with %T", a, b)
	}
	return af < bf, nil
}

func toFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
