//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package graphstore defines the abstract interface the traversal engine
// uses to execute parameterised queries against the questionnaire graph.
// Implementations live in subpackages so that the engine never depends on a
// concrete database driver.
package graphstore

import "context"

// DefaultRowCap is the hard ceiling applied to query results when no
// explicit cap is configured.
const DefaultRowCap = 100

// Record is a single result row: a mapping from result-column name to a
// value. Values are one of: nil, bool, int64, float64, string, []any,
// map[string]any, Node or Relationship.
type Record map[string]any

// Node is a graph vertex returned by a query. Properties are copied by
// value so repeated visits during a traversal never share mutable state.
type Node struct {
	ID     int64          `json:"id"`
	Labels []string       `json:"labels"`
	Props  map[string]any `json:"properties"`
}

// HasLabel reports whether the node carries the given label.
func (n *Node) HasLabel(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Relationship is a graph edge returned by a query.
type Relationship struct {
	ID    int64          `json:"id"`
	Type  string         `json:"type"`
	Props map[string]any `json:"properties"`
}

// RunOptions carries per-call settings for Store.Run.
type RunOptions struct {
	// RowCap truncates the result to at most this many records.
	// Zero means DefaultRowCap.
	RowCap int
	// OnTruncate, if non-nil, is invoked once when the result was
	// truncated to RowCap records. Truncation is not an error.
	OnTruncate func(capped int)
}

// RunOption configures a single Store.Run call.
type RunOption func(*RunOptions)

// WithRowCap overrides the default row cap for one call.
func WithRowCap(n int) RunOption {
	return func(o *RunOptions) {
		if n > 0 {
			o.RowCap = n
		}
	}
}

// WithOnTruncate registers a callback fired when the result is truncated.
func WithOnTruncate(fn func(capped int)) RunOption {
	return func(o *RunOptions) { o.OnTruncate = fn }
}

// Store executes parameterised queries against the schema/data graph.
// Each call is an independent transaction; implementations must not carry
// state between calls. The per-call deadline is taken from ctx.
type Store interface {
	// Run executes statement with the given parameters and returns the
	// result rows, truncated to the configured row cap. Failures are
	// classified as ErrTimeout, ErrUnavailable or *QueryError.
	Run(ctx context.Context, statement string, params map[string]any, opts ...RunOption) ([]Record, error)
}
