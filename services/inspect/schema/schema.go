// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema defines the canonical records every front-end is normalized
// into: namespaces, members, dependencies, calls, the call graph, assembly
// information and source-to-binary mappings.
//
// All records are created fresh per inspection request and serialize to JSON
// with optional fields omitted rather than emitted as null.
package schema

// MemberKind discriminates the member variants collapsed into MemberRecord.
type MemberKind string

const (
	MemberKindMethod      MemberKind = "Method"
	MemberKindConstructor MemberKind = "Constructor"
	MemberKindProperty    MemberKind = "Property"
	MemberKindField       MemberKind = "Field"
	MemberKindEvent       MemberKind = "Event"
)

// HasReturnType reports whether the kind carries a return type rather than a
// value type.
func (k MemberKind) HasReturnType() bool {
	return k == MemberKindMethod || k == MemberKindConstructor
}

// Origin records which front-end produced a record. It is not serialized.
type Origin int

const (
	OriginSource Origin = iota
	OriginBinary
)

// NamespaceEntry is one namespace declared by one module.
//
// Dedup key within a scan is Module+Name.
type NamespaceEntry struct {
	Module string `json:"module"`
	Name   string `json:"name"`
}

// Key returns the dedup key of the entry.
func (n NamespaceEntry) Key() string {
	return n.Module + "\x00" + n.Name
}

// Parameter is one formal parameter of a member.
type Parameter struct {
	Name               string `json:"name"`
	Type               string `json:"type"`
	TypeFullName       string `json:"typeFullName,omitempty"`
	IsGenericParameter bool   `json:"isGenericParameter"`
}

// MemberRecord describes one declared method, constructor, property, field
// or event.
//
// Description:
//
//	Source-derived records carry Path, Line and Column (1-based). Binary-derived
//	records carry only module/assembly identity and leave Line and Column at
//	zero. Methods and constructors use ReturnType; the other kinds use
//	ValueType.
//
//	Signature, ReturnTypeFullName and MetadataToken feed correlation and are
//	not serialized.
type MemberRecord struct {
	Kind             MemberKind  `json:"kind"`
	Path             string      `json:"path,omitempty"`
	FileName         string      `json:"fileName,omitempty"`
	Assembly         string      `json:"assembly,omitempty"`
	Module           string      `json:"module,omitempty"`
	Namespace        string      `json:"namespace,omitempty"`
	ClassName        string      `json:"className,omitempty"`
	Attributes       string      `json:"attributes,omitempty"`
	Name             string      `json:"name"`
	ReturnType       string      `json:"returnType,omitempty"`
	ValueType        string      `json:"valueType,omitempty"`
	Line             int         `json:"line,omitempty"`
	Column           int         `json:"column,omitempty"`
	Parameters       []Parameter `json:"parameters,omitempty"`
	CustomAttributes []string    `json:"customAttributes,omitempty"`
	IsStatic         bool        `json:"isStatic"`

	Origin             Origin `json:"-"`
	Signature          string `json:"-"`
	ReturnTypeFullName string `json:"-"`
	MetadataToken      uint32 `json:"-"`
}

// TypeName returns ReturnType for methods and constructors, ValueType otherwise.
func (m *MemberRecord) TypeName() string {
	if m.Kind.HasReturnType() {
		return m.ReturnType
	}
	return m.ValueType
}

// NodeID returns the call-graph id of the member.
func (m *MemberRecord) NodeID() string {
	return NodeID(m.Namespace, m.ClassName, m.Name)
}

// Dependency is one import/using edge.
//
// NamespaceMembers lists the immediate child namespaces of the imported
// namespace; it is empty when the import resolves to a type or not at all.
type Dependency struct {
	Path             string   `json:"path,omitempty"`
	FileName         string   `json:"fileName,omitempty"`
	Assembly         string   `json:"assembly,omitempty"`
	Module           string   `json:"module,omitempty"`
	Namespace        string   `json:"namespace,omitempty"`
	Name             string   `json:"name"`
	Alias            string   `json:"alias,omitempty"`
	Line             int      `json:"line,omitempty"`
	Column           int      `json:"column,omitempty"`
	NamespaceMembers []string `json:"namespaceMembers,omitempty"`
}

// CallRecord is one external call site kept for dependency auditing.
type CallRecord struct {
	Path           string   `json:"path,omitempty"`
	FileName       string   `json:"fileName,omitempty"`
	Assembly       string   `json:"assembly,omitempty"`
	Module         string   `json:"module,omitempty"`
	Namespace      string   `json:"namespace,omitempty"`
	ClassName      string   `json:"className,omitempty"`
	CalledMember   string   `json:"calledMember"`
	TargetAssembly string   `json:"targetAssembly,omitempty"`
	Line           int      `json:"line,omitempty"`
	Column         int      `json:"column,omitempty"`
	Arguments      []string `json:"arguments,omitempty"`
	IsInternal     bool     `json:"isInternal"`
}

// CallType is the classification of a call-graph edge.
type CallType string

const (
	// CallTypeUnknown is the pre-classification default. It never appears in
	// final output.
	CallTypeUnknown    CallType = "Unknown"
	CallTypeInternal   CallType = "Internal"
	CallTypeExternal   CallType = "External"
	CallTypeUnresolved CallType = "Unresolved"
)

// MethodNode is one source-declared member in the call graph.
type MethodNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ClassName string `json:"className,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	FileName  string `json:"fileName,omitempty"`
}

// MethodCallEdge is one invocation in the call graph.
type MethodCallEdge struct {
	SourceID            string   `json:"sourceId"`
	TargetID            string   `json:"targetId"`
	CallLocation        string   `json:"callLocation,omitempty"`
	FileName            string   `json:"fileName,omitempty"`
	IsInternal          bool     `json:"isInternal"`
	CalledMemberName    string   `json:"calledMemberName"`
	Arguments           []string `json:"arguments,omitempty"`
	ArgumentExpressions []string `json:"argumentExpressions,omitempty"`
	CallType            CallType `json:"callType"`

	// TargetAssembly is the module owning an External target.
	TargetAssembly string `json:"-"`
}

// CallGraph is the node set plus ordered edge sequence of one scan.
type CallGraph struct {
	Nodes []MethodNode     `json:"nodes"`
	Edges []MethodCallEdge `json:"edges"`
}

// AssemblyInformation is one distinct compiled module.
type AssemblyInformation struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// SourceAssemblyMapping correlates one source member with its compiled
// counterpart.
type SourceAssemblyMapping struct {
	SourceID              string     `json:"sourceId"`
	SourcePath            string     `json:"sourcePath,omitempty"`
	SourceLine            int        `json:"sourceLine,omitempty"`
	SourceColumn          int        `json:"sourceColumn,omitempty"`
	SourceSignature       string     `json:"sourceSignature"`
	SourceMetadataToken   uint32     `json:"sourceMetadataToken,omitempty"`
	AssemblyMetadataToken uint32     `json:"assemblyMetadataToken,omitempty"`
	AssemblyName          string     `json:"assemblyName,omitempty"`
	ModuleName            string     `json:"moduleName,omitempty"`
	AssemblyID            string     `json:"assemblyId,omitempty"`
	AssemblySignature     string     `json:"assemblySignature,omitempty"`
	MemberType            MemberKind `json:"memberType"`
	MemberName            string     `json:"memberName"`
	ClassName             string     `json:"className,omitempty"`
	Namespace             string     `json:"namespace,omitempty"`
	IsMapped              bool       `json:"isMapped"`
}

// MembersPayload is the result of InspectMembers.
type MembersPayload struct {
	Dependencies          []Dependency            `json:"dependencies"`
	Methods               []MemberRecord          `json:"methods"`
	MethodCalls           []CallRecord            `json:"methodCalls"`
	AssemblyInformation   []AssemblyInformation   `json:"assemblyInformation"`
	CallGraph             CallGraph               `json:"callGraph"`
	SourceAssemblyMapping []SourceAssemblyMapping `json:"sourceAssemblyMapping"`
}

// NewMembersPayload returns a payload whose collections are empty, not nil,
// so an empty scan serializes as empty arrays.
func NewMembersPayload() *MembersPayload {
	return &MembersPayload{
		Dependencies:          []Dependency{},
		Methods:               []MemberRecord{},
		MethodCalls:           []CallRecord{},
		AssemblyInformation:   []AssemblyInformation{},
		CallGraph:             CallGraph{Nodes: []MethodNode{}, Edges: []MethodCallEdge{}},
		SourceAssemblyMapping: []SourceAssemblyMapping{},
	}
}
