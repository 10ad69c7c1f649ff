// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callgraph assembles the call graph of a scan from the member
// records and classified calls the normalizers produce.
package callgraph

import (
	"sort"

	"github.com/AleutianAI/AleutianInspect/services/inspect/classify"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// ExternalSuffix is appended, with the owning module, to an External target
// id that collides with a node of the scan.
const ExternalSuffix = "@"

// Graph is a call graph under construction.
//
// Description:
//
//	Nodes are the distinct Namespace.ClassName.MemberName triples of the
//	source-derived members added; binary-only members never become nodes.
//	Edges keep insertion order. The first member seen for an id supplies
//	the node's file name.
//
// Thread Safety:
//
//	Not safe for concurrent use. The aggregator is the single writer.
type Graph struct {
	nodes map[string]schema.MethodNode
	edges []schema.MethodCallEdge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]schema.MethodNode)}
}

// Assemble builds a graph from members and calls in one step.
func Assemble(members []schema.MemberRecord, calls []classify.Call) *Graph {
	g := New()
	for i := range members {
		g.AddMember(&members[i])
	}
	for i := range calls {
		g.AddCall(&calls[i])
	}
	return g
}

// AddMember adds the node for a source-derived member. Binary-derived
// members are ignored.
func (g *Graph) AddMember(m *schema.MemberRecord) {
	if m.Origin != schema.OriginSource {
		return
	}
	id := m.NodeID()
	if _, ok := g.nodes[id]; ok {
		return
	}
	g.nodes[id] = schema.MethodNode{
		ID:        id,
		Name:      m.Name,
		ClassName: m.ClassName,
		Namespace: m.Namespace,
		FileName:  m.FileName,
	}
}

// AddCall appends the edge of a classified call. A call still carrying the
// Unknown default is recorded as Unresolved.
func (g *Graph) AddCall(c *classify.Call) {
	e := c.Edge()
	if e.CallType == schema.CallTypeUnknown {
		e.CallType = schema.CallTypeUnresolved
	}
	g.edges = append(g.edges, e)
}

// NodeCount returns the number of distinct nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// HasNode reports whether id is a node of the graph.
func (g *Graph) HasNode(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

// ToSchema returns the serializable form of the graph.
//
// Description:
//
//	Nodes are sorted by id for deterministic output; edges keep discovery
//	order. An External edge never points at a node id of this graph: a
//	colliding target gets the owning module appended (id@Module).
//
// Outputs:
//
//	schema.CallGraph - Collections are never nil.
//
// Complexity:
//
//	O(V log V + E).
func (g *Graph) ToSchema() schema.CallGraph {
	out := schema.CallGraph{Nodes: []schema.MethodNode{}, Edges: []schema.MethodCallEdge{}}
	if g == nil {
		return out
	}

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out.Nodes = append(out.Nodes, g.nodes[id])
	}

	for _, e := range g.edges {
		if e.CallType == schema.CallTypeExternal && g.HasNode(e.TargetID) {
			module := e.TargetAssembly
			if module == "" {
				module = "external"
			}
			e.TargetID += ExternalSuffix + module
		}
		out.Edges = append(out.Edges, e)
	}
	return out
}
