//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package neo4j implements graphstore.Store on top of the Neo4j bolt driver.
package neo4j

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/flowbuilder/flowengine/graphstore"
	"github.com/flowbuilder/flowengine/log"
)

const (
	defaultMaxAttempts     = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Store is a graphstore.Store backed by a Neo4j driver. The driver's
// connection pool is shared across requests; each Run call executes in an
// independent session.
type Store struct {
	driver      neo4j.DriverWithContext
	database    string
	maxAttempts int
}

// Option configures the Store.
type Option func(*Store)

// WithDatabase selects a database other than the driver default.
func WithDatabase(name string) Option {
	return func(s *Store) { s.database = name }
}

// WithMaxAttempts sets the number of attempts for transient failures.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// New connects to the given bolt URI and verifies connectivity.
func New(ctx context.Context, uri, user, password string, opts ...Option) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	s := &Store{driver: driver, maxAttempts: defaultMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, errors.Join(graphstore.ErrUnavailable, err)
	}
	return s, nil
}

// Close releases the underlying driver pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Run implements graphstore.Store. Transient driver failures are retried
// with exponential backoff; client errors and deadline expiries are not.
func (s *Store) Run(ctx context.Context, statement string, params map[string]any, opts ...graphstore.RunOption) ([]graphstore.Record, error) {
	options := graphstore.RunOptions{RowCap: graphstore.DefaultRowCap}
	for _, opt := range opts {
		opt(&options)
	}
	if options.RowCap <= 0 {
		options.RowCap = graphstore.DefaultRowCap
	}

	var records []graphstore.Record
	operation := func() error {
		var err error
		records, err = s.runOnce(ctx, statement, params, options)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			log.Warnf("transient graph error, will retry: %v", err)
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultInitialInterval
	policy.MaxInterval = defaultMaxInterval
	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(s.maxAttempts-1)), ctx))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return records, nil
}

func (s *Store) runOnce(ctx context.Context, statement string, params map[string]any, options graphstore.RunOptions) ([]graphstore.Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
	defer session.Close(ctx)

	result, err := session.Run(ctx, statement, params)
	if err != nil {
		return nil, err
	}

	records := make([]graphstore.Record, 0, 8)
	truncated := false
	for result.Next(ctx) {
		if len(records) == options.RowCap {
			truncated = true
			break
		}
		rec := result.Record()
		row := make(graphstore.Record, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = convertValue(rec.Values[i])
		}
		records = append(records, row)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	if truncated && options.OnTruncate != nil {
		options.OnTruncate(options.RowCap)
	}
	return records, nil
}

// convertValue maps driver values onto the graphstore value vocabulary,
// copying node and relationship properties by value.
func convertValue(v any) any {
	switch val := v.(type) {
	case dbtype.Node:
		return &graphstore.Node{
			ID:     val.GetId(),
			Labels: append([]string(nil), val.Labels...),
			Props:  convertMap(val.Props),
		}
	case dbtype.Relationship:
		return &graphstore.Relationship{
			ID:    val.GetId(),
			Type:  val.Type,
			Props: convertMap(val.Props),
		}
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item)
		}
		return out
	case map[string]any:
		return convertMap(val)
	default:
		return v
	}
}

func convertMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = convertValue(v)
	}
	return out
}

func isTransient(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return strings.HasPrefix(neoErr.Code, "Neo.TransientError")
	}
	return false
}

// classify maps driver failures onto the graphstore error kinds.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Join(graphstore.ErrTimeout, err)
	}
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		if strings.HasPrefix(neoErr.Code, "Neo.ClientError") {
			return &graphstore.QueryError{Code: neoErr.Code, Message: neoErr.Msg}
		}
		return errors.Join(graphstore.ErrUnavailable, err)
	}
	if neo4j.IsConnectivityError(err) {
		return errors.Join(graphstore.ErrUnavailable, err)
	}
	return errors.Join(graphstore.ErrUnavailable, err)
}
