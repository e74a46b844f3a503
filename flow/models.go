//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package flow implements the questionnaire traversal engine: lazy variable
// resolution, ordered and gated edge selection, source-node tracking, action
// execution and response assembly. The graph schema itself lives in the
// graph database; this package only walks it.
package flow

import (
	"encoding/json"
	"fmt"
)

// Edge types connecting sections, questions and actions.
const (
	EdgePrecedes = "PRECEDES"
	EdgeTriggers = "TRIGGERS"
)

// Action types.
const (
	ActionCreatePropertyNode  = "CreatePropertyNode"
	ActionGotoSection         = "GotoSection"
	ActionMarkSectionComplete = "MarkSectionComplete"
)

// Node labels the traversal dispatches on.
const (
	LabelSection   = "Section"
	LabelQuestion  = "Question"
	LabelDatapoint = "Datapoint"
)

// Expression prefixes selecting the evaluator. The "python" name is part of
// the persisted schema and is kept verbatim; such expressions are evaluated
// by the script sandbox.
const (
	PrefixCypher = "cypher:"
	PrefixScript = "python:"
)

// VariableDef is a named, lazily evaluated expression attached to a
// section, edge or action. Exactly one of Cypher or Python carries the
// expression body; the key selects the evaluator.
type VariableDef struct {
	Name      string `json:"name"`
	Cypher    string `json:"cypher,omitempty"`
	Python    string `json:"python,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// ParseVariableDefs decodes a variables property as stored in the graph:
// either a JSON string or a list of maps.
func ParseVariableDefs(v any) ([]VariableDef, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" {
			return nil, nil
		}
		var defs []VariableDef
		if err := json.Unmarshal([]byte(val), &defs); err != nil {
			return nil, fmt.Errorf("flow: malformed variables property: %w", err)
		}
		return defs, nil
	case []any:
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("flow: malformed variables property: %w", err)
		}
		var defs []VariableDef
		if err := json.Unmarshal(raw, &defs); err != nil {
			return nil, fmt.Errorf("flow: malformed variables property: %w", err)
		}
		return defs, nil
	default:
		return nil, fmt.Errorf("flow: variables property has unexpected type %T", v)
	}
}

// Warning reports a recovered evaluator failure. Warnings are returned to
// the client alongside a normal response; the engine prefers degraded
// success over hard failure.
type Warning struct {
	Variable string `json:"variable"`
	Message  string `json:"message"`
}

// VarReport is one materialised variable in the response: Raw is the
// evaluator's unprocessed return value, Value the parsed/normalised form.
type VarReport struct {
	Value any `json:"value"`
	Raw   any `json:"raw"`
}
