// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"context"

	"github.com/AleutianAI/AleutianInspect/services/inspect/callgraph"
	"github.com/AleutianAI/AleutianInspect/services/inspect/correlate"
	"github.com/AleutianAI/AleutianInspect/services/inspect/normalize"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// Stats counts what a merger has absorbed.
type Stats struct {
	Files        int
	Members      int
	Dependencies int
	Calls        map[schema.CallType]int
}

// Merger concatenates per-file results in the order they are added.
//
// Description:
//
//	Only namespace entries (by module and name) and assembly information
//	(by module base name) are deduplicated, first occurrence winning. All
//	other collections are ordered concatenation. Every classified call
//	becomes a call-graph edge; only external calls enter the flat
//	call-record list.
//
// Thread Safety:
//
//	Not safe for concurrent use. Feed it from RunOrdered's emit.
type Merger struct {
	namespaces   []schema.NamespaceEntry
	namespaceSet map[string]struct{}

	assemblies  []schema.AssemblyInformation
	assemblySet map[string]struct{}

	members      []schema.MemberRecord
	dependencies []schema.Dependency
	calls        []schema.CallRecord
	modules      []*correlate.Module
	graph        *callgraph.Graph
	stats        Stats
}

// NewMerger returns an empty merger.
func NewMerger() *Merger {
	return &Merger{
		namespaceSet: make(map[string]struct{}),
		assemblySet:  make(map[string]struct{}),
		graph:        callgraph.New(),
		stats:        Stats{Calls: make(map[schema.CallType]int)},
	}
}

// AddNamespaces merges namespace entries.
func (m *Merger) AddNamespaces(entries []schema.NamespaceEntry) {
	for _, e := range entries {
		k := e.Key()
		if _, ok := m.namespaceSet[k]; ok {
			continue
		}
		m.namespaceSet[k] = struct{}{}
		m.namespaces = append(m.namespaces, e)
	}
}

// AddAssembly merges one assembly information entry.
func (m *Merger) AddAssembly(info schema.AssemblyInformation) {
	if _, ok := m.assemblySet[info.Name]; ok {
		return
	}
	m.assemblySet[info.Name] = struct{}{}
	m.assemblies = append(m.assemblies, info)
}

// Add merges the result of one file.
func (m *Merger) Add(r *normalize.Result) {
	if r == nil {
		return
	}
	m.stats.Files++
	m.AddNamespaces(r.Namespaces)
	if r.Assembly != nil {
		m.AddAssembly(*r.Assembly)
		m.modules = append(m.modules, &correlate.Module{
			FileName: r.File.Name(),
			Assembly: r.AssemblyName,
			Members:  r.Members,
		})
	}

	m.members = append(m.members, r.Members...)
	for i := range r.Members {
		m.graph.AddMember(&r.Members[i])
	}
	m.stats.Members += len(r.Members)

	m.dependencies = append(m.dependencies, r.Dependencies...)
	m.stats.Dependencies += len(r.Dependencies)

	for i := range r.Calls {
		c := &r.Calls[i]
		m.graph.AddCall(c)
		m.stats.Calls[c.Verdict.CallType]++
		if c.External() {
			m.calls = append(m.calls, c.Record())
		}
	}
}

// Namespaces returns the merged namespace entries, never nil.
func (m *Merger) Namespaces() []schema.NamespaceEntry {
	if m.namespaces == nil {
		return []schema.NamespaceEntry{}
	}
	return m.namespaces
}

// Stats returns the counters of everything merged so far.
func (m *Merger) Stats() Stats {
	return m.stats
}

// Graph returns the call graph under construction.
func (m *Merger) Graph() *callgraph.Graph {
	return m.graph
}

// Members correlates the merged records and returns the members payload
// with the correlation result.
func (m *Merger) Members(ctx context.Context) (*schema.MembersPayload, *correlate.Result) {
	p := schema.NewMembersPayload()
	p.Dependencies = append(p.Dependencies, m.dependencies...)
	p.Methods = append(p.Methods, m.members...)
	p.MethodCalls = append(p.MethodCalls, m.calls...)
	p.AssemblyInformation = append(p.AssemblyInformation, m.assemblies...)
	p.CallGraph = m.graph.ToSchema()

	corr := correlate.Correlate(ctx, m.modules, m.members)
	p.SourceAssemblyMapping = corr.Mappings
	return p, corr
}
