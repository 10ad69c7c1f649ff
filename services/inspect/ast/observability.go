// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.inspect.ast")

var (
	// parseDuration measures per-file parse latency.
	// Labels: language
	parseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inspect",
		Subsystem: "ast",
		Name:      "parse_duration_seconds",
		Help:      "Source file parse latency by language",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"language"})

	// parseTotal counts parse attempts.
	// Labels: language, status (ok, error)
	parseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inspect",
		Subsystem: "ast",
		Name:      "parse_total",
		Help:      "Source file parse attempts by language and status",
	}, []string{"language", "status"})

	// declarationsTotal counts extracted member declarations.
	// Labels: language
	declarationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inspect",
		Subsystem: "ast",
		Name:      "declarations_total",
		Help:      "Member declarations extracted by language",
	}, []string{"language"})
)

func startParseSpan(ctx context.Context, language, filePath string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("language", language),
			attribute.String("file", filePath),
			attribute.Int("size_bytes", size),
		),
	)
}

func recordParseMetrics(language string, start time.Time, unit *Unit, err error) {
	parseDuration.WithLabelValues(language).Observe(time.Since(start).Seconds())
	if err != nil {
		parseTotal.WithLabelValues(language, "error").Inc()
		return
	}
	parseTotal.WithLabelValues(language, "ok").Inc()
	if unit != nil {
		declarationsTotal.WithLabelValues(language).Add(float64(unit.MemberCount()))
	}
}

func setParseSpanResult(span trace.Span, unit *Unit, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("types", len(unit.Types)),
		attribute.Int("members", unit.MemberCount()),
		attribute.Int("syntax_errors", len(unit.Errors)),
	)
}

// MemberCount returns the number of member declarations across all types.
func (u *Unit) MemberCount() int {
	n := 0
	for _, t := range u.Types {
		n += len(t.Members)
	}
	return n
}
