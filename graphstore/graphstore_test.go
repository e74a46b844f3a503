//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package graphstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeHasLabel(t *testing.T) {
	n := &Node{Labels: []string{"Section", "Active"}}
	assert.True(t, n.HasLabel("Section"))
	assert.True(t, n.HasLabel("Active"))
	assert.False(t, n.HasLabel("Question"))
}

func TestRunOptions(t *testing.T) {
	opts := RunOptions{RowCap: DefaultRowCap}
	WithRowCap(10)(&opts)
	assert.Equal(t, 10, opts.RowCap)

	WithRowCap(0)(&opts)
	assert.Equal(t, 10, opts.RowCap)

	called := 0
	WithOnTruncate(func(int) { called++ })(&opts)
	opts.OnTruncate(10)
	assert.Equal(t, 1, called)
}

func TestQueryError(t *testing.T) {
	qe := &QueryError{Code: "Neo.ClientError.Statement.SyntaxError", Message: "bad"}
	assert.Contains(t, qe.Error(), "Neo.ClientError.Statement.SyntaxError")
	assert.Contains(t, qe.Error(), "bad")

	noCode := &QueryError{Message: "just bad"}
	assert.Contains(t, noCode.Error(), "just bad")

	assert.True(t, IsQueryError(qe))
	assert.True(t, IsQueryError(fmt.Errorf("wrapped: %w", qe)))
	assert.False(t, IsQueryError(errors.New("other")))
	assert.False(t, IsQueryError(ErrTimeout))
}
