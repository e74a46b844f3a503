//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/log"
	"github.com/flowbuilder/flowengine/template"
)

// executeAction runs an action node's body and merges its side effects into
// the context. The returned flag is the action's returnImmediately setting
// (default true). Query errors raised inside an action body are surfaced
// because action side effects are intended to be observable; timeouts
// degrade to warnings.
func (t *Traverser) executeAction(ctx context.Context, action *graphstore.Node, c *Context, r *Resolver) (bool, error) {
	actionID, _ := stringProp(action.Props, "actionId")
	actionType, _ := stringProp(action.Props, "actionType")
	returnNow := boolProp(action.Props, "returnImmediately", true)

	// The action's variables are visible while the body runs; when traversal
	// continues past the action the recursion re-enters the node scope.
	if t.pushNodeScope(action, c) {
		defer c.PopScope()
	}

	// An action may re-declare the source before its body runs.
	if expr, ok := stringProp(action.Props, "sourceNode"); ok && strings.TrimSpace(expr) != "" {
		val, err := t.resolveSourceExpr(ctx, expr, r)
		if err != nil {
			if fatal := r.recoverEval("sourceNode", err, r.evalTimeout); fatal {
				return false, r.Fatal()
			}
		} else {
			c.SetSourceNode(val)
		}
	}

	log.Debugf("executing action %s (%s)", actionID, actionType)

	switch actionType {
	case ActionCreatePropertyNode:
		if err := t.runCreatePropertyNode(ctx, action, actionID, c, r); err != nil {
			return false, err
		}
	case ActionGotoSection:
		next, _ := stringProp(action.Props, "nextSectionId")
		if strings.Contains(next, "{{") {
			rendered, missing := template.Render(ctx, next, r)
			for _, path := range missing {
				c.Warn(actionID, fmt.Sprintf("substituted null for unresolved placeholder %q", path))
			}
			if len(missing) > 0 {
				// An unresolvable target is no redirect at all.
				break
			}
			next = strings.Trim(rendered, `"`)
		}
		c.SetNextSectionID(next)
	case ActionMarkSectionComplete:
		// The body is optional; without one the action only flips the flag.
		if body, ok := stringProp(action.Props, "cypher"); !ok || strings.TrimSpace(body) == "" {
			c.MarkCompleted()
			break
		}
		ran, err := t.runActionBody(ctx, action, actionID, c, r, nil)
		if err != nil {
			return false, err
		}
		if ran {
			c.MarkCompleted()
		}
	default:
		c.Warn(actionID, fmt.Sprintf("unknown action type %q ignored", actionType))
	}

	return returnNow, nil
}

// runCreatePropertyNode executes the body and appends every returned
// createdId to the context accumulator.
func (t *Traverser) runCreatePropertyNode(ctx context.Context, action *graphstore.Node, actionID string, c *Context, r *Resolver) error {
	_, err := t.runActionBody(ctx, action, actionID, c, r, func(records []graphstore.Record) {
		for _, rec := range records {
			if v, ok := rec["createdId"]; ok {
				if id, ok := toInt64(v); ok {
					c.AppendCreatedNodeIDs(id)
				}
				continue
			}
			// Convention fallback: a single-column result carries the id.
			if len(rec) == 1 {
				for _, v := range rec {
					if id, ok := toInt64(v); ok {
						c.AppendCreatedNodeIDs(id)
					}
				}
			}
		}
	})
	return err
}

// runActionBody renders and executes the action's cypher body. The collect
// callback, if non-nil, receives the result rows. The first return reports
// whether the body actually ran to completion.
func (t *Traverser) runActionBody(ctx context.Context, action *graphstore.Node, actionID string, c *Context, r *Resolver, collect func([]graphstore.Record)) (bool, error) {
	body, ok := stringProp(action.Props, "cypher")
	if !ok || strings.TrimSpace(body) == "" {
		c.Warn(actionID, "action has no body")
		return false, nil
	}

	rendered, missing := template.Render(ctx, body, r)
	for _, path := range missing {
		c.Warn(actionID, fmt.Sprintf("substituted null for unresolved placeholder %q", path))
	}

	tctx, cancel := context.WithTimeout(ctx, r.evalTimeout)
	defer cancel()
	records, err := t.store.Run(tctx, stripPrefix(rendered), r.queryParams(),
		graphstore.WithOnTruncate(func(capped int) {
			c.Warn(actionID, fmt.Sprintf("result truncated to %d rows", capped))
		}))
	if err != nil {
		if graphstore.IsQueryError(err) || errors.Is(err, graphstore.ErrUnavailable) {
			return false, fmt.Errorf("action %s: %w", actionID, err)
		}
		// Timeouts and other recoverable failures degrade to a warning;
		// the action produced no observable side effect this request.
		r.recoverEval(actionID, err, r.evalTimeout)
		return false, nil
	}
	if collect != nil {
		collect(records)
	}
	return true, nil
}
