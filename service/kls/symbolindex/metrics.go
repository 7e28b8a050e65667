// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package symbolindex

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("kls.symbolindex")
	meter  = otel.Meter("kls.symbolindex")
)

var (
	operationLatency metric.Float64Histogram
	operationTotal   metric.Int64Counter
	indexSize        metric.Int64Gauge
	queryResults     metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		operationLatency, metricsErr = meter.Float64Histogram(
			"kls.symbolindex.operation.duration",
			metric.WithDescription("Duration of symbol index operations"),
			metric.WithUnit("ms"),
		)
		if metricsErr != nil {
			return
		}
		operationTotal, metricsErr = meter.Int64Counter(
			"kls.symbolindex.operation.count",
			metric.WithDescription("Count of symbol index operations"),
		)
		if metricsErr != nil {
			return
		}
		indexSize, metricsErr = meter.Int64Gauge(
			"kls.symbolindex.size",
			metric.WithDescription("Current number of symbols persisted in the index"),
		)
		if metricsErr != nil {
			return
		}
		queryResults, metricsErr = meter.Int64Histogram(
			"kls.symbolindex.query.results",
			metric.WithDescription("Number of results returned by Query"),
		)
	})
	return metricsErr
}

func startOperationSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "symbolindex."+operation)
}

func setOperationSpanResult(span trace.Span, resultCount int, success bool) {
	span.SetAttributes()
	_ = resultCount
	_ = success
	span.End()
}

func recordOperationMetrics(ctx context.Context, operation string, duration time.Duration, resultCount int, success bool) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes()
	operationLatency.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
	operationTotal.Add(ctx, 1, attrs)
	if resultCount >= 0 {
		queryResults.Record(ctx, int64(resultCount), attrs)
	}
}

func recordIndexSize(ctx context.Context, size int) {
	if initMetrics() != nil {
		return
	}
	indexSize.Record(ctx, int64(size))
}
