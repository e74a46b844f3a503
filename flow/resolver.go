//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/log"
	"github.com/flowbuilder/flowengine/sandbox"
	"github.com/flowbuilder/flowengine/template"
)

// Default evaluator budgets. Variables default to 500ms; ad-hoc evaluator
// calls embedded in predicates and source-node resolution get 1500ms.
const (
	DefaultVariableTimeout = 500 * time.Millisecond
	DefaultEvalTimeout     = 1500 * time.Millisecond
)

// Resolver materialises variables lazily, at most once per request, and
// evaluates ad-hoc expressions for predicates and source nodes. It is bound
// to a single request Context and implements template.Source so that
// placeholder lookups trigger lazy evaluation.
type Resolver struct {
	store       graphstore.Store
	sbx         *sandbox.Sandbox
	c           *Context
	varTimeout  time.Duration
	evalTimeout time.Duration

	// resolving guards against a definition that references itself; such
	// a variable resolves to null instead of recursing forever.
	resolving map[string]bool
	fatal     error
}

// NewResolver binds a resolver to a request context.
func NewResolver(store graphstore.Store, sbx *sandbox.Sandbox, c *Context, varTimeout, evalTimeout time.Duration) *Resolver {
	if varTimeout <= 0 {
		varTimeout = DefaultVariableTimeout
	}
	if evalTimeout <= 0 {
		evalTimeout = DefaultEvalTimeout
	}
	return &Resolver{
		store:       store,
		sbx:         sbx,
		c:           c,
		varTimeout:  varTimeout,
		evalTimeout: evalTimeout,
		resolving:   make(map[string]bool),
	}
}

// Fatal returns the first non-recoverable evaluator failure, if any.
func (r *Resolver) Fatal() error { return r.fatal }

// Get returns the value of a named variable, evaluating its definition on
// first use. Failures cache null and append a warning; subsequent reads
// return the cached null without re-evaluation.
func (r *Resolver) Get(ctx context.Context, name string) any {
	v, _ := r.Resolve(ctx, name)
	return v
}

// Resolve implements template.Source. Lookup order: variable cache, then
// in-scope definitions (evaluated lazily), then input parameters, then the
// reserved names sourceNode and createdNodeIds. User-defined variables
// shadow input parameters; inputs themselves are read-only.
func (r *Resolver) Resolve(ctx context.Context, name string) (any, bool) {
	if e, ok := r.c.cachedVar(name); ok {
		return e.value, true
	}
	if def, ok := r.c.lookupDef(name); ok && !r.resolving[name] {
		value, raw := r.evalDefinition(ctx, def)
		r.c.cacheVar(name, value, raw)
		return value, true
	}
	if v, ok := r.c.inputs[name]; ok {
		return v, true
	}
	switch name {
	case "sourceNode":
		return r.c.SourceNode(), true
	case "createdNodeIds":
		ids := r.c.CreatedNodeIDs()
		out := make([]any, len(ids))
		for i, id := range ids {
			out[i] = id
		}
		return out, true
	}
	return nil, false
}

// evalDefinition renders and evaluates one variable definition. The result
// is the (value, raw) pair to cache; failures yield (nil, nil) plus a
// warning, and non-recoverable failures additionally set the fatal slot.
func (r *Resolver) evalDefinition(ctx context.Context, def VariableDef) (value, raw any) {
	r.resolving[def.Name] = true
	defer delete(r.resolving, def.Name)

	expr := def.Cypher
	useCypher := expr != ""
	if expr == "" {
		expr = def.Python
	}
	if expr == "" {
		r.c.Warn(def.Name, "definition carries no expression")
		return nil, nil
	}
	// An explicit prefix on the inline string overrides the key choice.
	if hasPrefix(expr, PrefixCypher) {
		useCypher = true
	} else if hasPrefix(expr, PrefixScript) {
		useCypher = false
	}

	timeout := r.varTimeout
	if def.TimeoutMs > 0 {
		timeout = time.Duration(def.TimeoutMs) * time.Millisecond
	}

	rendered, missing := template.Render(ctx, expr, r)
	for _, path := range missing {
		r.c.Warn(def.Name, fmt.Sprintf("substituted null for unresolved placeholder %q", path))
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	if useCypher {
		raw, err = r.runCypher(tctx, stripPrefix(rendered), def.Name)
	} else {
		raw, err = r.sbx.Eval(tctx, stripPrefix(rendered), r.scriptVars())
	}
	if err != nil {
		r.recoverEval(def.Name, err, timeout)
		return nil, nil
	}
	return reparseJSON(raw), raw
}

// EvalExpression renders and evaluates an ad-hoc expression (askWhen or
// sourceNode). For cypher expressions rows is the result row count; for
// script expressions rows is -1. The label attributes template warnings.
func (r *Resolver) EvalExpression(ctx context.Context, expr, label string) (value any, rows int, err error) {
	rendered, missing := template.Render(ctx, strings.TrimSpace(expr), r)
	for _, path := range missing {
		r.c.Warn(label, fmt.Sprintf("substituted null for unresolved placeholder %q", path))
	}

	tctx, cancel := context.WithTimeout(ctx, r.evalTimeout)
	defer cancel()

	if hasPrefix(rendered, PrefixCypher) {
		records, err := r.store.Run(tctx, stripPrefix(rendered), r.queryParams(),
			graphstore.WithOnTruncate(func(capped int) {
				r.c.Warn(label, fmt.Sprintf("result truncated to %d rows", capped))
			}))
		if err != nil {
			return nil, 0, err
		}
		return reparseJSON(collapseRecords(records)), len(records), nil
	}

	raw, err := r.sbx.Eval(tctx, stripPrefix(rendered), r.scriptVars())
	if err != nil {
		return nil, -1, err
	}
	return reparseJSON(raw), -1, nil
}

// recoverEval converts an evaluator failure into a warning, or records it
// as fatal when the store is unreachable. Returns true when fatal.
func (r *Resolver) recoverEval(label string, err error, timeout time.Duration) bool {
	if errors.Is(err, graphstore.ErrUnavailable) {
		if r.fatal == nil {
			r.fatal = err
		}
		return true
	}
	log.Debugf("recovered evaluator failure for %s: %v", label, err)
	r.c.Warn(label, warnMessage(err, timeout))
	return false
}

func warnMessage(err error, timeout time.Duration) string {
	switch {
	case errors.Is(err, graphstore.ErrTimeout), errors.Is(err, sandbox.ErrTimeout):
		return fmt.Sprintf("evaluator timeout after %s", timeout)
	case errors.Is(err, sandbox.ErrDenied):
		return fmt.Sprintf("sandbox violation: %v", err)
	default:
		return err.Error()
	}
}

// runCypher executes a rendered statement for a variable definition and
// collapses the result to the convenience form.
func (r *Resolver) runCypher(ctx context.Context, statement, label string) (any, error) {
	records, err := r.store.Run(ctx, statement, r.queryParams(),
		graphstore.WithOnTruncate(func(capped int) {
			r.c.Warn(label, fmt.Sprintf("result truncated to %d rows", capped))
		}))
	if err != nil {
		return nil, err
	}
	return collapseRecords(records), nil
}

// collapseRecords applies the single-value convenience: one record with one
// column yields that value alone; anything else yields a list of column
// maps.
func collapseRecords(records []graphstore.Record) any {
	if len(records) == 1 && len(records[0]) == 1 {
		for _, v := range records[0] {
			return v
		}
	}
	out := make([]any, len(records))
	for i, rec := range records {
		row := make(map[string]any, len(rec))
		for k, v := range rec {
			row[k] = v
		}
		out[i] = row
	}
	return out
}

// reparseJSON parses string values that hold JSON documents, one level deep
// into lists and maps, and leaves everything else untouched.
func reparseJSON(v any) any {
	switch val := v.(type) {
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(val), &parsed); err == nil {
			return parsed
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = reparseJSON(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = reparseJSON(item)
		}
		return out
	default:
		return v
	}
}

// scriptVars flattens the context into the value map exposed to the
// sandbox: inputs, materialised variables, the current source node (with
// the properties indirection collapsed) and createdNodeIds.
func (r *Resolver) scriptVars() map[string]any {
	vars := make(map[string]any, len(r.c.inputs)+len(r.c.vars)+2)
	for k, v := range r.c.inputs {
		vars[k] = scriptValue(v)
	}
	for name, e := range r.c.vars {
		vars[name] = scriptValue(e.value)
	}
	vars["sourceNode"] = scriptValue(r.c.SourceNode())
	ids := r.c.CreatedNodeIDs()
	idList := make([]any, len(ids))
	for i, id := range ids {
		idList[i] = id
	}
	vars["createdNodeIds"] = idList
	return vars
}

// scriptValue maps graph nodes and relationships onto plain maps so the
// sandbox never sees host objects.
func scriptValue(v any) any {
	switch val := v.(type) {
	case *graphstore.Node:
		if val == nil {
			return nil
		}
		out := make(map[string]any, len(val.Props)+2)
		for k, p := range val.Props {
			out[k] = scriptValue(p)
		}
		out["id"] = val.ID
		out["labels"] = val.Labels
		return out
	case *graphstore.Relationship:
		if val == nil {
			return nil
		}
		out := make(map[string]any, len(val.Props)+1)
		for k, p := range val.Props {
			out[k] = scriptValue(p)
		}
		out["id"] = val.ID
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = scriptValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = scriptValue(item)
		}
		return out
	default:
		return v
	}
}

// queryParams builds the parameter map passed to the graph store: inputs,
// materialised variables (nodes reduced to their ids), the source node id
// and createdNodeIds.
func (r *Resolver) queryParams() map[string]any {
	params := make(map[string]any, len(r.c.inputs)+len(r.c.vars)+2)
	for k, v := range r.c.inputs {
		params[k] = paramValue(v)
	}
	for name, e := range r.c.vars {
		params[name] = paramValue(e.value)
	}
	if n := r.c.sourceNodeRef(); n != nil {
		params["sourceNodeId"] = n.ID
	} else {
		params["sourceNodeId"] = nil
	}
	params["createdNodeIds"] = r.c.CreatedNodeIDs()
	return params
}

// paramValue reduces values to driver-safe parameters.
func paramValue(v any) any {
	switch val := v.(type) {
	case *graphstore.Node:
		if val == nil {
			return nil
		}
		return val.ID
	case *graphstore.Relationship:
		if val == nil {
			return nil
		}
		return val.ID
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = paramValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = paramValue(item)
		}
		return out
	default:
		return v
	}
}

func hasPrefix(expr, prefix string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(expr)), prefix)
}

func stripPrefix(expr string) string {
	trimmed := strings.TrimSpace(expr)
	lower := strings.ToLower(trimmed)
	for _, p := range []string{PrefixCypher, PrefixScript} {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(trimmed[len(p):])
		}
	}
	return trimmed
}
