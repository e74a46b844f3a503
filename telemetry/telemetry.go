//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package telemetry provides metrics collection for the flow engine.
// It integrates with OpenTelemetry; the concrete exporter is wired by the
// process entry point.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "flowengine.engine"

var (
	meterProvider metric.MeterProvider = noop.NewMeterProvider()

	engineCalls    metric.Int64Counter
	engineErrors   metric.Int64Counter
	engineDuration metric.Float64Histogram
)

func init() {
	// A noop provider keeps the instruments safe to use before InitMeterProvider.
	_ = InitMeterProvider(noop.NewMeterProvider())
}

// InitMeterProvider initializes the meter provider and the engine instruments.
func InitMeterProvider(mp metric.MeterProvider) error {
	meterProvider = mp
	meter := mp.Meter(meterName)

	var err error
	if engineCalls, err = meter.Int64Counter(
		"flowengine.engine.calls",
		metric.WithDescription("Total number of traversal requests"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create metric flowengine.engine.calls: %w", err)
	}
	if engineErrors, err = meter.Int64Counter(
		"flowengine.engine.errors",
		metric.WithDescription("Total number of failed traversal requests"),
		metric.WithUnit("1"),
	); err != nil {
		return fmt.Errorf("failed to create metric flowengine.engine.errors: %w", err)
	}
	if engineDuration, err = meter.Float64Histogram(
		"flowengine.engine.duration",
		metric.WithDescription("Duration of traversal requests"),
		metric.WithUnit("s"),
	); err != nil {
		return fmt.Errorf("failed to create metric flowengine.engine.duration: %w", err)
	}
	return nil
}

// MeterProvider returns the active meter provider.
func MeterProvider() metric.MeterProvider { return meterProvider }

// RecordRequest records one engine invocation: its section, duration and
// whether it failed.
func RecordRequest(ctx context.Context, sectionID string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("section.id", sectionID))
	engineCalls.Add(ctx, 1, attrs)
	if err != nil {
		engineErrors.Add(ctx, 1, attrs)
	}
	engineDuration.Record(ctx, elapsed.Seconds(), attrs)
}
