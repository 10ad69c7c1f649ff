// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index builds the batch semantic model used to resolve names in
// source files: namespaces, types and members gathered from parsed source
// units, loaded CLI modules and the built-in framework catalog.
//
// Every symbol records where it was declared. A symbol declared in a parsed
// source unit has a source location; one read from a module or the catalog
// has a metadata location. A symbol can have both.
//
// Thread Safety:
//
//	A Model is immutable once Build returns and is safe for concurrent use.
package index

import (
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// Location is a set of declaration origins.
type Location uint8

const (
	LocSource Location = 1 << iota
	LocMetadata
)

// Namespace is one namespace of the batch.
type Namespace struct {
	FullName string
	Name     string
	Loc      Location

	parent    *Namespace
	children  map[string]*Namespace
	types     map[string]*Type
	typesFold map[string]*Type
}

func newNamespace(full string, parent *Namespace) *Namespace {
	name := full
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		name = full[i+1:]
	}
	return &Namespace{
		FullName:  full,
		Name:      name,
		parent:    parent,
		children:  make(map[string]*Namespace),
		types:     make(map[string]*Type),
		typesFold: make(map[string]*Type),
	}
}

// Parent returns the containing namespace, nil for the global namespace.
func (n *Namespace) Parent() *Namespace {
	return n.parent
}

// ChildNames returns the simple names of the immediate child namespaces in
// ordinal order.
func (n *Namespace) ChildNames() []string {
	out := make([]string, 0, len(n.children))
	for name := range n.children {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Type is one named type of the batch.
type Type struct {
	// Namespace is the namespace of the outermost enclosing type.
	Namespace string

	// Name is the simple name without arity.
	Name  string
	Arity int

	// ClassName is the '+'-joined nesting path used for node ids. Source
	// declarations use plain names; metadata-only types keep arity suffixes.
	ClassName string

	// FullName is the metadata full name (Ns.Outer`1+Inner).
	FullName string

	Outer       *Type
	TypeParams  []string
	IsValueType bool
	IsInterface bool
	IsStatic    bool
	IsModule    bool
	Module      string
	Loc         Location

	// open types answer any member lookup with a synthesized member.
	open bool

	baseNames []baseRef
	bases     []*Type
	members   map[string][]*Member
	nested    map[string]*Type
}

type baseRef struct {
	text  string
	scope *Scope
}

// MetadataName returns the simple name with its arity suffix.
func (t *Type) MetadataName() string {
	return metadataName(t.Name, t.Arity)
}

// Bases returns the resolved base class and interfaces.
func (t *Type) Bases() []*Type {
	return t.bases
}

// Members returns the members named name declared on the type itself.
func (t *Type) Members(name string) []*Member {
	return t.members[name]
}

// Nested returns the nested type with the given metadata simple name.
func (t *Type) Nested(name string) *Type {
	return t.nested[name]
}

func (t *Type) addMember(m *Member) *Member {
	for _, existing := range t.members[m.Name] {
		if existing.Kind == m.Kind && existing.ParamCount == m.ParamCount && existing.IsStatic == m.IsStatic {
			existing.Loc |= m.Loc
			if existing.Token == 0 {
				existing.Token = m.Token
			}
			if existing.TypeName == "" {
				existing.TypeName = m.TypeName
			}
			return existing
		}
	}
	m.Owner = t
	t.members[m.Name] = append(t.members[m.Name], m)
	return m
}

// Member is one method, constructor, property, field or event.
type Member struct {
	Name  string
	Kind  schema.MemberKind
	Owner *Type

	// TypeName is the canonical return or value type.
	TypeName string

	ParamCount int
	Required   int
	Variadic   bool

	IsStatic    bool
	IsExtension bool

	// ExtendsType is the generic definition full name of an extension
	// method's first parameter.
	ExtendsType string

	Module string
	Token  uint32
	Loc    Location

	synthetic bool
}

// HasSource reports whether the member is declared in a parsed source unit.
func (m *Member) HasSource() bool {
	return m.Loc&LocSource != 0
}

// HasMetadata reports whether the member is declared in a module or the
// framework catalog.
func (m *Member) HasMetadata() bool {
	return m.Loc&LocMetadata != 0
}

// ID returns the call-graph id of the member.
func (m *Member) ID() string {
	return schema.NodeID(m.Owner.Namespace, m.Owner.ClassName, m.Name)
}

// Synthetic reports whether the member was synthesized for an open type.
func (m *Member) Synthetic() bool {
	return m.synthetic
}

func (m *Member) accepts(args int) bool {
	if args < m.Required {
		return false
	}
	return m.Variadic || args <= m.ParamCount
}

// Model is the resolved semantic model of one batch.
type Model struct {
	global     *Namespace
	namespaces map[string]*Namespace
	types      map[string]*Type
	extensions map[string][]*Member
}

// Namespace returns the namespace with the given full name, nil if absent.
// The empty name is the global namespace.
func (m *Model) Namespace(fullName string) *Namespace {
	if fullName == "" {
		return m.global
	}
	return m.namespaces[fullName]
}

// ChildNamespaces returns the immediate child namespace names of fullName.
func (m *Model) ChildNamespaces(fullName string) []string {
	ns := m.Namespace(fullName)
	if ns == nil {
		return nil
	}
	return ns.ChildNames()
}

// TypeByFullName looks up a type by metadata full name. Instantiation
// arguments ("List`1[System.Int32]") are ignored; array names map to
// System.Array.
func (m *Model) TypeByFullName(name string) *Type {
	name = strings.TrimSuffix(name, "&")
	if name == "" {
		return nil
	}
	if prefix, args, ok := trailingGroup(name); ok {
		if strings.Trim(args, ",") == "" {
			return m.types["System.Array"]
		}
		name = prefix
	}
	return m.types[name]
}

func (m *Model) ensureNamespace(full string, loc Location) *Namespace {
	if full == "" {
		m.global.Loc |= loc
		return m.global
	}
	if ns, ok := m.namespaces[full]; ok {
		ns.Loc |= loc
		return ns
	}
	parent := m.global
	if i := strings.LastIndexByte(full, '.'); i >= 0 {
		parent = m.ensureNamespace(full[:i], loc)
	} else {
		parent.Loc |= loc
	}
	ns := newNamespace(full, parent)
	ns.Loc = loc
	parent.children[ns.Name] = ns
	m.namespaces[full] = ns
	return ns
}

// ensureType registers a top-level type or returns the existing one.
func (m *Model) ensureType(namespace, name string, arity int) *Type {
	full := metadataName(name, arity)
	if namespace != "" {
		full = namespace + "." + full
	}
	if t, ok := m.types[full]; ok {
		return t
	}
	ns := m.ensureNamespace(namespace, 0)
	t := &Type{
		Namespace: namespace,
		Name:      name,
		Arity:     arity,
		ClassName: metadataName(name, arity),
		FullName:  full,
		members:   make(map[string][]*Member),
		nested:    make(map[string]*Type),
	}
	ns.types[t.MetadataName()] = t
	ns.typesFold[strings.ToLower(t.MetadataName())] = t
	m.types[full] = t
	return t
}

// ensureNested registers a nested type or returns the existing one.
func (m *Model) ensureNested(outer *Type, name string, arity int) *Type {
	key := metadataName(name, arity)
	if t, ok := outer.nested[key]; ok {
		return t
	}
	t := &Type{
		Namespace: outer.Namespace,
		Name:      name,
		Arity:     arity,
		ClassName: outer.ClassName + "+" + key,
		FullName:  outer.FullName + "+" + key,
		Outer:     outer,
		members:   make(map[string][]*Member),
		nested:    make(map[string]*Type),
	}
	outer.nested[key] = t
	m.types[t.FullName] = t
	return t
}

// lookupInNamespace finds a type by simple name and arity. Visual Basic
// lookups fall back to case-insensitive matching.
func lookupInNamespace(ns *Namespace, name string, arity int, fold bool) *Type {
	if ns == nil {
		return nil
	}
	key := metadataName(name, arity)
	if t, ok := ns.types[key]; ok {
		return t
	}
	if fold {
		return ns.typesFold[strings.ToLower(key)]
	}
	return nil
}

func lookupNested(t *Type, name string, arity int, fold bool) *Type {
	key := metadataName(name, arity)
	if n, ok := t.nested[key]; ok {
		return n
	}
	if fold {
		for k, n := range t.nested {
			if strings.EqualFold(k, key) {
				return n
			}
		}
	}
	return nil
}

func metadataName(name string, arity int) string {
	if arity == 0 {
		return name
	}
	return name + "`" + strconv.Itoa(arity)
}

// genericDefinition strips instantiation arguments from a canonical name.
// Array names are returned unchanged.
func genericDefinition(full string) string {
	if prefix, args, ok := trailingGroup(full); ok && strings.Trim(args, ",") != "" {
		return prefix
	}
	return full
}

// trailingGroup splits "List`1[System.Int32[]]" into "List`1" and
// "System.Int32[]" by matching the final bracket group.
func trailingGroup(name string) (prefix, inner string, ok bool) {
	if !strings.HasSuffix(name, "]") {
		return name, "", false
	}
	depth := 0
	for i := len(name) - 1; i >= 0; i-- {
		switch name[i] {
		case ']':
			depth++
		case '[':
			depth--
			if depth == 0 {
				return name[:i], name[i+1 : len(name)-1], true
			}
		}
	}
	return name, "", false
}
