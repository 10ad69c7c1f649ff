// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inspect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianInspect/services/inspect/aggregate"
	"github.com/AleutianAI/AleutianInspect/services/inspect/correlate"
)

// =============================================================================
// Prometheus Metrics for Inspection
// =============================================================================

var (
	// filesTotal counts processed files.
	// Labels: kind (binary, csharp, vb), status (ok, failed)
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inspect",
		Subsystem: "scan",
		Name:      "files_total",
		Help:      "Files processed by kind and status",
	}, []string{"kind", "status"})

	// scanDurationSeconds measures whole requests.
	// Labels: operation (namespaces, members), status (ok, error)
	scanDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inspect",
		Subsystem: "scan",
		Name:      "duration_seconds",
		Help:      "Inspection request duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	}, []string{"operation", "status"})

	// callsTotal counts call-graph edges.
	// Labels: call_type (Internal, External, Unresolved)
	callsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inspect",
		Subsystem: "callgraph",
		Name:      "calls_total",
		Help:      "Classified call sites by call type",
	}, []string{"call_type"})

	// mappingsTotal counts correlation outcomes.
	// Labels: outcome (mapped, unmapped)
	mappingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inspect",
		Subsystem: "correlate",
		Name:      "mappings_total",
		Help:      "Source to assembly mappings by outcome",
	}, []string{"outcome"})
)

func recordFile(kind string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	filesTotal.WithLabelValues(kind, status).Inc()
}

func recordScan(operation string, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	scanDurationSeconds.WithLabelValues(operation, status).Observe(seconds)
}

func recordMembers(stats aggregate.Stats, corr *correlate.Result) {
	for ct, n := range stats.Calls {
		callsTotal.WithLabelValues(string(ct)).Add(float64(n))
	}
	if corr != nil {
		mappingsTotal.WithLabelValues("mapped").Add(float64(corr.Mapped))
		mappingsTotal.WithLabelValues("unmapped").Add(float64(corr.Unmapped))
	}
}
