//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package flow

import "errors"

var (
	// ErrInvalidRequest indicates a missing or malformed sectionId, or a
	// missing declared input parameter.
	ErrInvalidRequest = errors.New("flow: invalid request")
	// ErrSectionNotFound indicates no active version exists for the
	// requested section id.
	ErrSectionNotFound = errors.New("flow: section not found")
)
