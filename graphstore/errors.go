//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package graphstore

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates the query exceeded its per-call deadline.
	ErrTimeout = errors.New("graphstore: query timed out")
	// ErrUnavailable indicates the store cannot be reached.
	ErrUnavailable = errors.New("graphstore: store unavailable")
)

// QueryError reports a syntactic or semantic failure of a query, as opposed
// to a transport or deadline failure.
type QueryError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("graphstore: query error: %s", e.Message)
	}
	return fmt.Sprintf("graphstore: query error %s: %s", e.Code, e.Message)
}

// IsQueryError reports whether err wraps a *QueryError.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}
