//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/log"
	"github.com/flowbuilder/flowengine/sandbox"
	"github.com/flowbuilder/flowengine/template"
)

// Latest-active resolution is pushed into the query rather than done in
// application code: inactive versions are filtered out and the highest
// version number wins.
const (
	querySectionLatestActive = `
MATCH (s:Section {sectionId: $sectionId})
WHERE coalesce(s.active, true)
RETURN s
ORDER BY coalesce(s.versionNumber, 0) DESC
LIMIT 1`

	// Edges are ordered by orderInForm (legacy key: order) with the
	// store's creation order as tiebreak.
	queryOutgoingEdges = `
MATCH (n) WHERE id(n) = $nodeId
MATCH (n)-[e]->(t)
WHERE type(e) IN ['PRECEDES', 'TRIGGERS'] AND coalesce(t.active, true)
RETURN e, t
ORDER BY coalesce(e.orderInForm, e.order), id(e)`

	queryQuestionAnswered = `
MATCH (src) WHERE id(src) = $sourceId
MATCH (src)-[:SUPPLIES]->(:Datapoint)-[:ANSWERS]->(q {questionId: $questionId})
RETURN q
LIMIT 1`
)

// Outcome is the terminal result of one traversal: exactly one of an
// unanswered question, an immediately-returning action, or completion.
type Outcome struct {
	Question   *graphstore.Node
	ActionType string
	Completed  bool
}

// Traverser walks the questionnaire graph for a single request. It is
// stateless itself; all mutable state lives in the request Context.
type Traverser struct {
	store        graphstore.Store
	queryTimeout time.Duration
}

// NewTraverser creates a traverser. queryTimeout bounds the structural
// queries (section fetch, edge enumeration, answered-ness checks).
func NewTraverser(store graphstore.Store, queryTimeout time.Duration) *Traverser {
	if queryTimeout <= 0 {
		queryTimeout = DefaultEvalTimeout
	}
	return &Traverser{store: store, queryTimeout: queryTimeout}
}

// ResolveSection looks up the latest active version of a section.
func (t *Traverser) ResolveSection(ctx context.Context, sectionID string) (*graphstore.Node, error) {
	tctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()
	records, err := t.store.Run(tctx, querySectionLatestActive, map[string]any{"sectionId": sectionID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, sectionID)
	}
	node, ok := records[0]["s"].(*graphstore.Node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, sectionID)
	}
	return node, nil
}

// Run traverses the graph starting at section until it finds an unanswered
// question, an immediately-returning action, or exhausts all edges.
func (t *Traverser) Run(ctx context.Context, section *graphstore.Node, c *Context, r *Resolver) (Outcome, error) {
	out, err := t.step(ctx, section, c, r)
	if err == nil && r.Fatal() != nil {
		return out, r.Fatal()
	}
	return out, err
}

type outgoingEdge struct {
	rel    *graphstore.Relationship
	target *graphstore.Node
}

// step evaluates the outgoing edges of one node in sort order and follows
// the first whose predicate is truthy. Only one outgoing edge is ever taken
// at any node.
func (t *Traverser) step(ctx context.Context, node *graphstore.Node, c *Context, r *Resolver) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	t.pushNodeScope(node, c)

	edges, err := t.outgoingEdges(ctx, node.ID)
	if err != nil {
		return Outcome{}, err
	}

	for _, edge := range edges {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		c.PushScope(t.edgeDefs(edge.rel, c))

		matched, err := t.edgeMatches(ctx, edge.rel, c, r)
		if err != nil {
			return Outcome{}, err
		}
		if !matched {
			c.PopScope()
			continue
		}

		if expr, ok := stringProp(edge.rel.Props, "sourceNode"); ok && strings.TrimSpace(expr) != "" {
			val, err := t.resolveSourceExpr(ctx, expr, r)
			if err != nil {
				if fatal := r.recoverEval("sourceNode", err, r.evalTimeout); fatal {
					return Outcome{}, r.Fatal()
				}
				// The edge cannot be anchored; clear the source and
				// try the next edge in sort order.
				c.SetSourceNode(nil)
				c.PopScope()
				continue
			}
			c.SetSourceNode(val)
		}

		return t.dispatch(ctx, edge, c, r)
	}

	// No edge matched: this node is exhausted.
	return Outcome{Completed: true}, nil
}

// dispatch follows a selected edge into its target node.
func (t *Traverser) dispatch(ctx context.Context, edge outgoingEdge, c *Context, r *Resolver) (Outcome, error) {
	target := edge.target

	if edge.rel.Type == EdgePrecedes && target.HasLabel(LabelQuestion) {
		questionID, _ := stringProp(target.Props, "questionId")
		answered, err := t.questionAnswered(ctx, c, r, questionID)
		if err != nil {
			return Outcome{}, err
		}
		if answered {
			log.Debugf("question %s already answered, descending", questionID)
			c.PopScope()
			return t.step(ctx, target, c, r)
		}
		log.Debugf("stopping traversal at unanswered question %s", questionID)
		c.PopScope()
		return Outcome{Question: target}, nil
	}

	if actionType, ok := stringProp(target.Props, "actionType"); ok {
		c.PopScope()
		returnNow, err := t.executeAction(ctx, target, c, r)
		if err != nil {
			return Outcome{}, err
		}
		if returnNow {
			return Outcome{ActionType: actionType}, nil
		}
		return t.step(ctx, target, c, r)
	}

	// Structural target (e.g. a chained section): keep walking.
	c.PopScope()
	return t.step(ctx, target, c, r)
}

// edgeMatches evaluates the edge's askWhen predicate. An absent or empty
// predicate is true. A cypher predicate is truthy when it returns at least
// one row; a script predicate follows the sandbox truthiness rules. A
// predicate that fails evaluation is treated as false.
func (t *Traverser) edgeMatches(ctx context.Context, rel *graphstore.Relationship, c *Context, r *Resolver) (bool, error) {
	expr, ok := stringProp(rel.Props, "askWhen")
	if !ok || strings.TrimSpace(expr) == "" {
		return true, nil
	}

	value, rows, err := r.EvalExpression(ctx, expr, "askWhen")
	if err != nil {
		if fatal := r.recoverEval("askWhen", err, r.evalTimeout); fatal {
			return false, r.Fatal()
		}
		return false, nil
	}
	if rows >= 0 {
		return rows > 0, nil
	}
	return sandbox.Truthy(value), nil
}

// resolveSourceExpr evaluates a sourceNode expression: a sole placeholder
// resolves through the context chain; prefixed expressions go to the
// matching evaluator; anything else is evaluated as a script.
func (t *Traverser) resolveSourceExpr(ctx context.Context, expr string, r *Resolver) (any, error) {
	if path, ok := template.PlaceholderPath(expr); ok {
		val, found := template.Eval(ctx, path, r)
		if !found {
			return nil, fmt.Errorf("source node path %q not found in context", path)
		}
		return val, nil
	}
	value, _, err := r.EvalExpression(ctx, expr, "sourceNode")
	if err != nil {
		return nil, err
	}
	return value, nil
}

// questionAnswered runs the canonical answered-ness query: does a datapoint
// supplied by the current source answer this question. An unbound source
// never answers. A recoverable store failure degrades to unanswered.
func (t *Traverser) questionAnswered(ctx context.Context, c *Context, r *Resolver, questionID string) (bool, error) {
	src := c.sourceNodeRef()
	if src == nil || questionID == "" {
		return false, nil
	}

	tctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()
	records, err := t.store.Run(tctx, queryQuestionAnswered, map[string]any{
		"sourceId":   src.ID,
		"questionId": questionID,
	})
	if err != nil {
		if fatal := r.recoverEval("answeredCheck", err, t.queryTimeout); fatal {
			return false, r.Fatal()
		}
		return false, nil
	}
	return len(records) > 0, nil
}

// outgoingEdges fetches the ordered PRECEDES/TRIGGERS edges of a node.
func (t *Traverser) outgoingEdges(ctx context.Context, nodeID int64) ([]outgoingEdge, error) {
	tctx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()
	records, err := t.store.Run(tctx, queryOutgoingEdges, map[string]any{"nodeId": nodeID})
	if err != nil {
		return nil, err
	}
	edges := make([]outgoingEdge, 0, len(records))
	for _, rec := range records {
		rel, okRel := rec["e"].(*graphstore.Relationship)
		target, okTarget := rec["t"].(*graphstore.Node)
		if !okRel || !okTarget {
			continue
		}
		edges = append(edges, outgoingEdge{rel: rel, target: target})
	}
	return edges, nil
}

// pushNodeScope makes a node's variables visible for the rest of the
// traversal below it. Reports whether a scope was actually pushed so the
// caller can balance it where the visibility must not outlive the node.
func (t *Traverser) pushNodeScope(node *graphstore.Node, c *Context) bool {
	defs, err := ParseVariableDefs(node.Props["variables"])
	if err != nil {
		c.Warn("variables", err.Error())
		return false
	}
	if len(defs) == 0 {
		return false
	}
	c.PushScope(defs)
	return true
}

// edgeDefs parses edge-scoped variable definitions; malformed definitions
// are ignored with a warning.
func (t *Traverser) edgeDefs(rel *graphstore.Relationship, c *Context) []VariableDef {
	defs, err := ParseVariableDefs(rel.Props["variables"])
	if err != nil {
		c.Warn("variables", err.Error())
		return nil
	}
	return defs
}

func stringProp(props map[string]any, key string) (string, bool) {
	v, ok := props[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func boolProp(props map[string]any, key string, def bool) bool {
	v, ok := props[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	default:
		return 0, false
	}
}
