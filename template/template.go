//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package template rewrites expression strings by replacing every
// {{ path.to.value }} placeholder with a JSON-encoded literal drawn from a
// lookup source. Substitution happens before a string is handed to the
// graph store or the script sandbox, so the rendered string contains only
// syntactically legal literals.
package template

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/flowbuilder/flowengine/graphstore"
)

// placeholderRE matches {{ ... }} with optional inner whitespace.
var placeholderRE = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Source resolves a root name to a value. Implementations may evaluate
// lazily, which is why the request context is threaded through.
type Source interface {
	Resolve(ctx context.Context, name string) (any, bool)
}

// Render substitutes every placeholder in text with the JSON literal of the
// value the path resolves to. Paths that fail to resolve are replaced with
// the literal null and reported in missing. Rendering is pure aside from
// whatever lazy evaluation the source performs.
func Render(ctx context.Context, text string, src Source) (rendered string, missing []string) {
	rendered = placeholderRE.ReplaceAllStringFunc(text, func(m string) string {
		path := strings.TrimSpace(placeholderRE.FindStringSubmatch(m)[1])
		val, ok := Eval(ctx, path, src)
		if !ok {
			missing = append(missing, path)
			return "null"
		}
		literal, err := json.Marshal(val)
		if err != nil {
			missing = append(missing, path)
			return "null"
		}
		return string(literal)
	})
	return rendered, missing
}

// IsPlaceholder reports whether text is exactly one placeholder, e.g.
// "{{ current_applicant }}".
func IsPlaceholder(text string) bool {
	m := placeholderRE.FindStringSubmatch(strings.TrimSpace(text))
	return m != nil && m[0] == strings.TrimSpace(text)
}

// PlaceholderPath returns the path inside a sole placeholder. The second
// return is false when text is not exactly one placeholder.
func PlaceholderPath(text string) (string, bool) {
	if !IsPlaceholder(text) {
		return "", false
	}
	return strings.TrimSpace(placeholderRE.FindStringSubmatch(strings.TrimSpace(text))[1]), true
}

// Eval resolves a dotted path with optional bracketed indices, e.g.
// "a.b[0].c", against the source. The root segment is resolved through the
// source; the remainder is walked structurally.
func Eval(ctx context.Context, path string, src Source) (any, bool) {
	steps, err := parsePath(path)
	if err != nil || len(steps) == 0 {
		return nil, false
	}
	root, ok := src.Resolve(ctx, steps[0].key)
	if !ok {
		return nil, false
	}
	val := root
	for _, step := range steps[0].indices {
		if val, ok = index(val, step); !ok {
			return nil, false
		}
	}
	for _, step := range steps[1:] {
		if val, ok = field(val, step.key); !ok {
			return nil, false
		}
		for _, i := range step.indices {
			if val, ok = index(val, i); !ok {
				return nil, false
			}
		}
	}
	return val, true
}

type pathStep struct {
	key     string
	indices []int
}

func parsePath(path string) ([]pathStep, error) {
	if path == "" {
		return nil, fmt.Errorf("template: empty path")
	}
	var steps []pathStep
	for _, part := range strings.Split(path, ".") {
		key := part
		var indices []int
		for {
			open := strings.IndexByte(key, '[')
			if open < 0 {
				break
			}
			closeIdx := strings.IndexByte(key, ']')
			if closeIdx < open {
				return nil, fmt.Errorf("template: malformed index in %q", path)
			}
			idx, err := strconv.Atoi(key[open+1 : closeIdx])
			if err != nil {
				return nil, fmt.Errorf("template: malformed index in %q: %w", path, err)
			}
			indices = append(indices, idx)
			key = key[:open] + key[closeIdx+1:]
		}
		if key == "" && len(steps) == 0 {
			return nil, fmt.Errorf("template: path %q has no root name", path)
		}
		steps = append(steps, pathStep{key: key, indices: indices})
	}
	return steps, nil
}

// field reads a named attribute from a JSON-like value. A graph node's
// attributes are reached through the properties indirection collapsed away:
// node.foo reads node.properties.foo.
func field(v any, name string) (any, bool) {
	switch val := v.(type) {
	case map[string]any:
		out, ok := val[name]
		return out, ok
	case graphstore.Record:
		out, ok := val[name]
		return out, ok
	case *graphstore.Node:
		if val == nil {
			return nil, false
		}
		switch name {
		case "id":
			return val.ID, true
		case "labels":
			return val.Labels, true
		}
		out, ok := val.Props[name]
		return out, ok
	case *graphstore.Relationship:
		if val == nil {
			return nil, false
		}
		if name == "id" {
			return val.ID, true
		}
		out, ok := val.Props[name]
		return out, ok
	default:
		return nil, false
	}
}

func index(v any, i int) (any, bool) {
	list, ok := v.([]any)
	if !ok || i < 0 || i >= len(list) {
		return nil, false
	}
	return list[i], true
}
