//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import (
	"github.com/flowbuilder/flowengine/graphstore"
)

// Context is the per-request traversal state. It is constructed at request
// entry, mutated only by the traversal, and discarded at response emission.
// Inputs are immutable; the variable cache is insert-only; the warnings
// list and createdNodeIds are append-only; the source-node slot is a
// single-slot mutable cell.
type Context struct {
	traceID string
	inputs  map[string]any

	vars   map[string]*varEntry
	scopes []map[string]VariableDef

	source         any
	warnings       []Warning
	createdNodeIDs []int64
	nextSectionID  string
	completed      bool
}

type varEntry struct {
	value any
	raw   any
}

// NewContext builds a request context. The input map is copied so the
// caller's map cannot be mutated through the context.
func NewContext(traceID string, inputs map[string]any) *Context {
	in := make(map[string]any, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &Context{
		traceID: traceID,
		inputs:  in,
		vars:    make(map[string]*varEntry),
	}
}

// TraceID returns the request trace id.
func (c *Context) TraceID() string { return c.traceID }

// Inputs returns the read-only input parameter map.
func (c *Context) Inputs() map[string]any { return c.inputs }

// Warn appends a warning for a recovered failure.
func (c *Context) Warn(variable, message string) {
	c.warnings = append(c.warnings, Warning{Variable: variable, Message: message})
}

// Warnings returns the warnings accumulated so far.
func (c *Context) Warnings() []Warning { return c.warnings }

// SourceNode returns the current source node value, which may be nil.
func (c *Context) SourceNode() any { return c.source }

// SetSourceNode replaces the current source. The source persists across
// subsequent edges until re-declared.
func (c *Context) SetSourceNode(v any) { c.source = v }

// sourceNodeRef returns the current source as a graph node, or nil when no
// node-valued source has been resolved. The answered-ness check needs a
// concrete node to anchor the datapoint lookup.
func (c *Context) sourceNodeRef() *graphstore.Node {
	n, _ := c.source.(*graphstore.Node)
	return n
}

// AppendCreatedNodeIDs records ids produced by a CreatePropertyNode action.
func (c *Context) AppendCreatedNodeIDs(ids ...int64) {
	c.createdNodeIDs = append(c.createdNodeIDs, ids...)
}

// CreatedNodeIDs returns the accumulated created node ids.
func (c *Context) CreatedNodeIDs() []int64 { return c.createdNodeIDs }

// SetNextSectionID records a GotoSection redirect.
func (c *Context) SetNextSectionID(id string) { c.nextSectionID = id }

// NextSectionID returns the recorded redirect, empty when none.
func (c *Context) NextSectionID() string { return c.nextSectionID }

// MarkCompleted records that a MarkSectionComplete action ran.
func (c *Context) MarkCompleted() { c.completed = true }

// Completed reports whether a MarkSectionComplete action ran.
func (c *Context) Completed() bool { return c.completed }

// PushScope makes the given definitions visible to variable resolution.
// Scopes are searched innermost first: edge, then node, then section.
func (c *Context) PushScope(defs []VariableDef) {
	scope := make(map[string]VariableDef, len(defs))
	for _, def := range defs {
		scope[def.Name] = def
	}
	c.scopes = append(c.scopes, scope)
}

// PopScope removes the innermost scope.
func (c *Context) PopScope() {
	if len(c.scopes) > 0 {
		c.scopes = c.scopes[:len(c.scopes)-1]
	}
}

// lookupDef finds the definition for name, innermost scope first.
func (c *Context) lookupDef(name string) (VariableDef, bool) {
	for i := len(c.scopes) - 1; i >= 0; i-- {
		if def, ok := c.scopes[i][name]; ok {
			return def, true
		}
	}
	return VariableDef{}, false
}

// cacheVar stores a materialised variable. Insert-only: the first write for
// a name wins, so a variable is evaluated at most once per request.
func (c *Context) cacheVar(name string, value, raw any) {
	if _, exists := c.vars[name]; exists {
		return
	}
	c.vars[name] = &varEntry{value: value, raw: raw}
}

// cachedVar returns a previously materialised variable.
func (c *Context) cachedVar(name string) (*varEntry, bool) {
	e, ok := c.vars[name]
	return e, ok
}

// VarReports returns every variable actually materialised during the
// request, keyed by name.
func (c *Context) VarReports() map[string]VarReport {
	out := make(map[string]VarReport, len(c.vars))
	for name, e := range c.vars {
		out[name] = VarReport{Value: e.value, Raw: e.raw}
	}
	return out
}
