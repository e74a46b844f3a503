//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/log"
	"github.com/flowbuilder/flowengine/sandbox"
)

// Request is one traversal invocation. Inputs holds every request field
// other than sectionId; they are validated against the section's declared
// inputParams before traversal starts.
type Request struct {
	SectionID string
	Inputs    map[string]any
	// TraceID correlates logs and the response; generated when empty.
	TraceID string
}

// Response is the engine's answer: the next step the client should take.
type Response struct {
	SectionID        string               `json:"sectionId"`
	Question         *graphstore.Node     `json:"question"`
	NextSectionID    *string              `json:"nextSectionId"`
	CreatedNodeIDs   []int64              `json:"createdNodeIds"`
	Completed        bool                 `json:"completed"`
	RequestVariables map[string]any       `json:"requestVariables"`
	SourceNode       *graphstore.Node     `json:"sourceNode"`
	Vars             map[string]VarReport `json:"vars"`
	Warnings         []Warning            `json:"warnings"`
	TraceID          string               `json:"traceId"`
}

// Engine is the public facade: it builds the per-request context, runs a
// single traversal and shapes the response. The engine is stateless across
// requests and safe for concurrent use.
type Engine struct {
	store       graphstore.Store
	sbx         *sandbox.Sandbox
	varTimeout  time.Duration
	evalTimeout time.Duration
	traverser   *Traverser
}

// Option configures the Engine.
type Option func(*Engine)

// WithVariableTimeout overrides the default per-variable evaluation budget.
func WithVariableTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.varTimeout = d
		}
	}
}

// WithEvalTimeout overrides the default budget for ad-hoc evaluator calls
// and structural queries.
func WithEvalTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.evalTimeout = d
		}
	}
}

// New creates an engine over the given store and sandbox.
func New(store graphstore.Store, sbx *sandbox.Sandbox, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		sbx:         sbx,
		varTimeout:  DefaultVariableTimeout,
		evalTimeout: DefaultEvalTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.traverser = NewTraverser(store, e.evalTimeout)
	return e
}

// NextQuestion resolves the next unanswered question, action outcome or
// completion for the requested section.
func (e *Engine) NextQuestion(ctx context.Context, req Request) (*Response, error) {
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	if req.SectionID == "" {
		return nil, fmt.Errorf("%w: missing sectionId", ErrInvalidRequest)
	}

	section, err := e.traverser.ResolveSection(ctx, req.SectionID)
	if err != nil {
		return nil, err
	}
	if err := validateInputs(section, req.Inputs); err != nil {
		return nil, err
	}

	log.Infof("engine invoked: section=%s trace=%s", req.SectionID, traceID)

	c := NewContext(traceID, req.Inputs)
	r := NewResolver(e.store, e.sbx, c, e.varTimeout, e.evalTimeout)

	outcome, err := e.traverser.Run(ctx, section, c, r)
	if err != nil {
		return nil, err
	}

	resp := e.shapeResponse(req.SectionID, outcome, c)
	log.Infof("engine response: section=%s completed=%t question=%v nextSection=%v trace=%s",
		req.SectionID, resp.Completed, resp.Question != nil, resp.NextSectionID != nil, traceID)
	return resp, nil
}

// validateInputs checks that every input parameter the section declares is
// present in the request.
func validateInputs(section *graphstore.Node, inputs map[string]any) error {
	declared := stringList(section.Props["inputParams"])
	for _, name := range declared {
		if _, ok := inputs[name]; !ok {
			return fmt.Errorf("%w: missing input parameter %q", ErrInvalidRequest, name)
		}
	}
	return nil
}

// shapeResponse assembles the wire response from the outcome and the
// request context. requestVariables always echoes the caller's inputs
// verbatim.
func (e *Engine) shapeResponse(sectionID string, outcome Outcome, c *Context) *Response {
	resp := &Response{
		SectionID:        sectionID,
		Question:         outcome.Question,
		CreatedNodeIDs:   append([]int64{}, c.CreatedNodeIDs()...),
		Completed:        c.Completed() || outcome.Completed,
		RequestVariables: c.Inputs(),
		SourceNode:       c.sourceNodeRef(),
		Vars:             c.VarReports(),
		Warnings:         append([]Warning{}, c.Warnings()...),
		TraceID:          c.TraceID(),
	}
	if next := c.NextSectionID(); next != "" {
		resp.NextSectionID = &next
	}
	return resp
}

// stringList reads a property stored either as a list of strings or as a
// JSON-encoded string array.
func stringList(v any) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		if err := json.Unmarshal([]byte(val), &out); err == nil {
			return out
		}
		return nil
	default:
		return nil
	}
}
