//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowbuilder/flowengine/graphstore"
)

type mapSource map[string]any

func (m mapSource) Resolve(_ context.Context, name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

func TestRenderNoPlaceholders(t *testing.T) {
	out, missing := Render(context.Background(), "MATCH (n) RETURN n", mapSource{})
	assert.Equal(t, "MATCH (n) RETURN n", out)
	assert.Empty(t, missing)
}

func TestRenderScalars(t *testing.T) {
	src := mapSource{
		"userId":  int64(42),
		"name":    "Ada",
		"active":  true,
		"balance": 12.5,
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "int", in: "id = {{ userId }}", want: "id = 42"},
		{name: "string quoted", in: "name = {{ name }}", want: `name = "Ada"`},
		{name: "bool", in: "active = {{ active }}", want: "active = true"},
		{name: "float", in: "balance = {{ balance }}", want: "balance = 12.5"},
		{name: "no inner spaces", in: "id = {{userId}}", want: "id = 42"},
		{name: "extra spaces", in: "id = {{   userId   }}", want: "id = 42"},
		{name: "two placeholders", in: "{{ userId }}/{{ name }}", want: `42/"Ada"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, missing := Render(context.Background(), tt.in, src)
			assert.Equal(t, tt.want, out)
			assert.Empty(t, missing)
		})
	}
}

func TestRenderMissingBecomesNull(t *testing.T) {
	out, missing := Render(context.Background(), "x = {{ unknown }}", mapSource{})
	assert.Equal(t, "x = null", out)
	assert.Equal(t, []string{"unknown"}, missing)
}

func TestRenderNestedPath(t *testing.T) {
	src := mapSource{
		"applicant": map[string]any{
			"address": map[string]any{"city": "Oslo"},
			"loans":   []any{int64(100), int64(200)},
		},
	}

	out, missing := Render(context.Background(), "{{ applicant.address.city }} {{ applicant.loans[1] }}", src)
	assert.Equal(t, `"Oslo" 200`, out)
	assert.Empty(t, missing)

	out, missing = Render(context.Background(), "{{ applicant.loans[5] }}", src)
	assert.Equal(t, "null", out)
	assert.Equal(t, []string{"applicant.loans[5]"}, missing)
}

func TestRenderNodeProperties(t *testing.T) {
	node := &graphstore.Node{
		ID:     7,
		Labels: []string{"Applicant"},
		Props:  map[string]any{"city": "Bergen"},
	}
	src := mapSource{"sourceNode": node}

	out, missing := Render(context.Background(), "{{ sourceNode.city }}/{{ sourceNode.id }}", src)
	assert.Equal(t, `"Bergen"/7`, out)
	assert.Empty(t, missing)
}

func TestPlaceholderPath(t *testing.T) {
	path, ok := PlaceholderPath("{{ current_applicant }}")
	require.True(t, ok)
	assert.Equal(t, "current_applicant", path)

	path, ok = PlaceholderPath("  {{ a.b[0] }}  ")
	require.True(t, ok)
	assert.Equal(t, "a.b[0]", path)

	_, ok = PlaceholderPath("prefix {{ a }}")
	assert.False(t, ok)
	_, ok = PlaceholderPath("no placeholder")
	assert.False(t, ok)
}

func TestEvalRecordAndRelationship(t *testing.T) {
	rel := &graphstore.Relationship{ID: 3, Props: map[string]any{"order": int64(1)}}
	src := mapSource{
		"row":  graphstore.Record{"n": "value"},
		"edge": rel,
	}

	v, ok := Eval(context.Background(), "row.n", src)
	require.True(t, ok)
	assert.Equal(t, "value", v)

	v, ok = Eval(context.Background(), "edge.order", src)
	require.True(t, ok)
	assert.Equal(t, int64(1), v)

	v, ok = Eval(context.Background(), "edge.id", src)
	require.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestParsePathErrors(t *testing.T) {
	_, err := parsePath("")
	assert.Error(t, err)
	_, err = parsePath("a[x]")
	assert.Error(t, err)
	_, err = parsePath("[0]")
	assert.Error(t, err)
}
