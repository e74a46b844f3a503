//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordRequest(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	require.NoError(t, InitMeterProvider(mp))
	defer func() { _ = InitMeterProvider(mp) }()

	ctx := context.Background()
	RecordRequest(ctx, "personal", 40*time.Millisecond, nil)
	RecordRequest(ctx, "personal", 10*time.Millisecond, errors.New("boom"))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	calls, ok := byName["flowengine.engine.calls"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, calls.DataPoints, 1)
	assert.Equal(t, int64(2), calls.DataPoints[0].Value)

	errs, ok := byName["flowengine.engine.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)

	dur, ok := byName["flowengine.engine.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, dur.DataPoints, 1)
	assert.Equal(t, uint64(2), dur.DataPoints[0].Count)
}

func TestRecordRequestBeforeInitDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRequest(context.Background(), "s", time.Millisecond, nil)
	})
}
