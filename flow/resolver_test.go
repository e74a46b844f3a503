//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/sandbox"
)

func newResolver(t *testing.T, store graphstore.Store, c *Context) *Resolver {
	t.Helper()
	sbx, err := sandbox.New()
	require.NoError(t, err)
	return NewResolver(store, sbx, c, 0, 0)
}

func TestResolveReservedNames(t *testing.T) {
	c := NewContext("t", nil)
	r := newResolver(t, newFakeStore(), c)

	v, ok := r.Resolve(context.Background(), "sourceNode")
	require.True(t, ok)
	assert.Nil(t, v)

	node := &graphstore.Node{ID: 9}
	c.SetSourceNode(node)
	c.AppendCreatedNodeIDs(1, 2)

	v, ok = r.Resolve(context.Background(), "sourceNode")
	require.True(t, ok)
	assert.Equal(t, node, v)

	v, ok = r.Resolve(context.Background(), "createdNodeIds")
	require.True(t, ok)
	assert.Equal(t, []any{int64(1), int64(2)}, v)
}

func TestResolveInputFallback(t *testing.T) {
	c := NewContext("t", map[string]any{"formId": "f-1"})
	r := newResolver(t, newFakeStore(), c)

	v, ok := r.Resolve(context.Background(), "formId")
	require.True(t, ok)
	assert.Equal(t, "f-1", v)

	_, ok = r.Resolve(context.Background(), "unknown")
	assert.False(t, ok)
}

func TestResolveSelfReferenceDoesNotRecurse(t *testing.T) {
	store := newFakeStore()
	store.handle("RETURN null", []graphstore.Record{{"v": nil}})

	c := NewContext("t", nil)
	c.PushScope([]VariableDef{{Name: "x", Cypher: "RETURN {{ x }}"}})
	r := newResolver(t, store, c)

	v, ok := r.Resolve(context.Background(), "x")
	require.True(t, ok)
	assert.Nil(t, v)
	// The self-reference rendered to null and warned about it.
	require.NotEmpty(t, c.Warnings())
}

func TestEvalDefinitionPrefixOverridesKey(t *testing.T) {
	store := newFakeStore()
	c := NewContext("t", nil)
	// The expression sits under the cypher key but carries a script prefix.
	c.PushScope([]VariableDef{{Name: "n", Cypher: "python: 2 + 3"}})
	r := newResolver(t, store, c)

	v, ok := r.Resolve(context.Background(), "n")
	require.True(t, ok)
	assert.Equal(t, int64(5), v)
}

func TestEvalExpressionScriptRows(t *testing.T) {
	c := NewContext("t", nil)
	r := newResolver(t, newFakeStore(), c)

	v, rows, err := r.EvalExpression(context.Background(), "python: 1 < 2", "askWhen")
	require.NoError(t, err)
	assert.Equal(t, -1, rows)
	assert.Equal(t, true, v)
}

func TestCollapseRecords(t *testing.T) {
	single := []graphstore.Record{{"n": int64(42)}}
	assert.Equal(t, int64(42), collapseRecords(single))

	multi := []graphstore.Record{{"n": int64(1)}, {"n": int64(2)}}
	assert.Equal(t, []any{
		map[string]any{"n": int64(1)},
		map[string]any{"n": int64(2)},
	}, collapseRecords(multi))

	wide := []graphstore.Record{{"a": int64(1), "b": int64(2)}}
	assert.Equal(t, []any{map[string]any{"a": int64(1), "b": int64(2)}}, collapseRecords(wide))

	assert.Equal(t, []any{}, collapseRecords(nil))
}

func TestReparseJSON(t *testing.T) {
	assert.Equal(t, map[string]any{"a": float64(1)}, reparseJSON(`{"a": 1}`))
	assert.Equal(t, []any{float64(1), float64(2)}, reparseJSON(`[1, 2]`))
	assert.Equal(t, "plain text", reparseJSON("plain text"))
	assert.Equal(t, int64(3), reparseJSON(int64(3)))
	assert.Equal(t, []any{map[string]any{"x": true}}, reparseJSON([]any{`{"x": true}`}))
}

func TestPrefixHandling(t *testing.T) {
	assert.True(t, hasPrefix("cypher: MATCH (n) RETURN n", PrefixCypher))
	assert.True(t, hasPrefix("  CYPHER: MATCH (n) RETURN n", PrefixCypher))
	assert.True(t, hasPrefix("python: 1 + 1", PrefixScript))
	assert.False(t, hasPrefix("MATCH (n) RETURN n", PrefixCypher))

	assert.Equal(t, "MATCH (n) RETURN n", stripPrefix("cypher: MATCH (n) RETURN n"))
	assert.Equal(t, "1 + 1", stripPrefix("python: 1 + 1"))
	assert.Equal(t, "MATCH (n) RETURN n", stripPrefix("MATCH (n) RETURN n"))
}

func TestQueryParamsReducesNodes(t *testing.T) {
	c := NewContext("t", map[string]any{"formId": "f-1"})
	node := &graphstore.Node{ID: 5, Props: map[string]any{"a": 1}}
	c.SetSourceNode(node)
	c.cacheVar("applicant", node, node)
	c.AppendCreatedNodeIDs(8)
	r := newResolver(t, newFakeStore(), c)

	params := r.queryParams()
	assert.Equal(t, "f-1", params["formId"])
	assert.Equal(t, int64(5), params["applicant"])
	assert.Equal(t, int64(5), params["sourceNodeId"])
	assert.Equal(t, []int64{8}, params["createdNodeIds"])
}

func TestScriptVarsFlattensNodes(t *testing.T) {
	c := NewContext("t", nil)
	node := &graphstore.Node{ID: 5, Labels: []string{"Applicant"}, Props: map[string]any{"name": "Ada"}}
	c.SetSourceNode(node)
	r := newResolver(t, newFakeStore(), c)

	vars := r.scriptVars()
	src, ok := vars["sourceNode"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", src["name"])
	assert.Equal(t, int64(5), src["id"])
	assert.Equal(t, []string{"Applicant"}, src["labels"])
}

func TestParseVariableDefs(t *testing.T) {
	defs, err := ParseVariableDefs(`[{"name":"a","cypher":"RETURN 1"},{"name":"b","python":"1+1","timeoutMs":200}]`)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Name)
	assert.Equal(t, "RETURN 1", defs[0].Cypher)
	assert.Equal(t, 200, defs[1].TimeoutMs)

	defs, err = ParseVariableDefs([]any{map[string]any{"name": "c", "python": "2"}})
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "c", defs[0].Name)

	defs, err = ParseVariableDefs(nil)
	require.NoError(t, err)
	assert.Nil(t, defs)

	_, err = ParseVariableDefs("{broken")
	assert.Error(t, err)

	_, err = ParseVariableDefs(42)
	assert.Error(t, err)
}
