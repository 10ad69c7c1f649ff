// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

var tracer = otel.Tracer("aleutian.inspect.callgraph")

// runFunc runs one Cypher statement.
type runFunc func(ctx context.Context, cypher string, params map[string]any) error

// Neo4jExporter writes call graphs to Neo4j.
//
// Description:
//
//	Nodes become :MethodNode nodes keyed by id. Edges become CALLS
//	relationships carrying call type, location and argument types. Targets
//	that are not nodes of the graph (external or private callees) are
//	merged as :MethodNode nodes flagged external or placeholder. Batches use
//	UNWIND so one export is a handful of round trips.
//
// Thread Safety:
//
//	Safe for concurrent use; the driver pools sessions.
type Neo4jExporter struct {
	driver neo4j.DriverWithContext
	run    runFunc
	logger *slog.Logger
}

// Neo4jOption configures a Neo4jExporter.
type Neo4jOption func(*neo4jOptions)

type neo4jOptions struct {
	database string
	logger   *slog.Logger
}

// WithDatabase selects the target database. The server default is used
// otherwise.
func WithDatabase(name string) Neo4jOption {
	return func(o *neo4jOptions) {
		o.database = name
	}
}

// WithExportLogger sets the exporter's logger.
func WithExportLogger(logger *slog.Logger) Neo4jOption {
	return func(o *neo4jOptions) {
		o.logger = logger
	}
}

// NewNeo4jExporter connects to Neo4j and verifies connectivity.
func NewNeo4jExporter(ctx context.Context, uri, user, password string, opts ...Neo4jOption) (*Neo4jExporter, error) {
	o := neo4jOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", uri, err)
	}
	var settings []neo4j.ExecuteQueryConfigurationOption
	if o.database != "" {
		settings = append(settings, neo4j.ExecuteQueryWithDatabase(o.database))
	}
	e := &Neo4jExporter{driver: driver, logger: o.logger}
	e.run = func(ctx context.Context, cypher string, params map[string]any) error {
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, settings...)
		return err
	}
	return e, nil
}

// Close releases the driver.
func (e *Neo4jExporter) Close(ctx context.Context) error {
	if e.driver == nil {
		return nil
	}
	return e.driver.Close(ctx)
}

const (
	cypherIndex = "CREATE INDEX inspect_method_node_id IF NOT EXISTS FOR (n:MethodNode) ON (n.id)"

	cypherClean = "MATCH (n:MethodNode {scan: $scan}) DETACH DELETE n"

	cypherNodes = `UNWIND $batch AS row
MERGE (n:MethodNode {id: row.id, scan: $scan})
SET n.name = row.name, n.className = row.className, n.namespace = row.namespace,
    n.fileName = row.fileName, n.external = false, n.placeholder = false`

	cypherEdges = `UNWIND $batch AS row
MERGE (caller:MethodNode {id: row.source, scan: $scan})
MERGE (callee:MethodNode {id: row.target, scan: $scan})
ON CREATE SET callee.name = row.name, callee.external = row.external, callee.placeholder = NOT row.external
CREATE (caller)-[r:CALLS]->(callee)
SET r.callType = row.callType, r.location = row.location, r.fileName = row.fileName,
    r.arguments = row.arguments, r.isInternal = row.isInternal`
)

// Export replaces the graph stored under scan with g.
//
// Inputs:
//
//	ctx - Bounds the export.
//	scan - Label value separating exports; an earlier export with the same
//	value is removed first.
//	g - The graph to write.
//
// Outputs:
//
//	error - The first failed statement, wrapped.
func (e *Neo4jExporter) Export(ctx context.Context, scan string, g schema.CallGraph) error {
	ctx, span := tracer.Start(ctx, "callgraph.Neo4jExport", trace.WithAttributes(
		attribute.String("scan", scan),
		attribute.Int("nodes", len(g.Nodes)),
		attribute.Int("edges", len(g.Edges)),
	))
	defer span.End()

	steps := []struct {
		name   string
		cypher string
		params map[string]any
	}{
		{"index", cypherIndex, nil},
		{"clean", cypherClean, map[string]any{"scan": scan}},
		{"nodes", cypherNodes, map[string]any{"scan": scan, "batch": nodeBatch(g.Nodes)}},
		{"edges", cypherEdges, map[string]any{"scan": scan, "batch": edgeBatch(g.Edges)}},
	}
	for _, s := range steps {
		if err := e.run(ctx, s.cypher, s.params); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("neo4j %s: %w", s.name, err)
		}
	}
	e.logger.Info("call graph exported",
		slog.String("scan", scan),
		slog.Int("nodes", len(g.Nodes)),
		slog.Int("edges", len(g.Edges)),
	)
	return nil
}

func nodeBatch(nodes []schema.MethodNode) []map[string]any {
	batch := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		batch = append(batch, map[string]any{
			"id":        n.ID,
			"name":      n.Name,
			"className": n.ClassName,
			"namespace": n.Namespace,
			"fileName":  n.FileName,
		})
	}
	return batch
}

func edgeBatch(edges []schema.MethodCallEdge) []map[string]any {
	batch := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		args := e.Arguments
		if args == nil {
			args = []string{}
		}
		batch = append(batch, map[string]any{
			"source":     e.SourceID,
			"target":     e.TargetID,
			"name":       e.CalledMemberName,
			"callType":   string(e.CallType),
			"location":   e.CallLocation,
			"fileName":   e.FileName,
			"arguments":  args,
			"isInternal": e.IsInternal,
			"external":   e.CallType == schema.CallTypeExternal,
		})
	}
	return batch
}
