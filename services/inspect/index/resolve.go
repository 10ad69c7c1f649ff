// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
)

// TypeRef is a type reference resolved against a Model.
type TypeRef struct {
	// FullName is the canonical metadata spelling (System.Int32,
	// System.Collections.Generic.List`1[System.String], !0, T[]).
	FullName string

	// Display is the fully-qualified name in the source language's syntax
	// with keywords kept as written (int, System.Collections.Generic.List<int>).
	Display string

	// Type is the named type the reference denotes, nil when unresolved or
	// for generic parameters. Arrays denote System.Array.
	Type *Type

	IsGenericParameter bool

	// Resolved is false when any named part failed to resolve.
	Resolved bool
}

type keyword struct {
	full      string
	valueType bool
}

var csharpKeywords = map[string]keyword{
	"bool":    {"System.Boolean", true},
	"byte":    {"System.Byte", true},
	"sbyte":   {"System.SByte", true},
	"char":    {"System.Char", true},
	"short":   {"System.Int16", true},
	"ushort":  {"System.UInt16", true},
	"int":     {"System.Int32", true},
	"uint":    {"System.UInt32", true},
	"long":    {"System.Int64", true},
	"ulong":   {"System.UInt64", true},
	"float":   {"System.Single", true},
	"double":  {"System.Double", true},
	"decimal": {"System.Decimal", true},
	"nint":    {"System.IntPtr", true},
	"nuint":   {"System.UIntPtr", true},
	"void":    {"System.Void", true},
	"string":  {"System.String", false},
	"object":  {"System.Object", false},
	"dynamic": {"System.Object", false},
}

// vbKeywords is keyed by lower-case keyword; display keeps canonical casing.
var vbKeywords = map[string]struct {
	keyword
	display string
}{
	"boolean":  {keyword{"System.Boolean", true}, "Boolean"},
	"byte":     {keyword{"System.Byte", true}, "Byte"},
	"sbyte":    {keyword{"System.SByte", true}, "SByte"},
	"char":     {keyword{"System.Char", true}, "Char"},
	"short":    {keyword{"System.Int16", true}, "Short"},
	"ushort":   {keyword{"System.UInt16", true}, "UShort"},
	"integer":  {keyword{"System.Int32", true}, "Integer"},
	"uinteger": {keyword{"System.UInt32", true}, "UInteger"},
	"long":     {keyword{"System.Int64", true}, "Long"},
	"ulong":    {keyword{"System.UInt64", true}, "ULong"},
	"single":   {keyword{"System.Single", true}, "Single"},
	"double":   {keyword{"System.Double", true}, "Double"},
	"decimal":  {keyword{"System.Decimal", true}, "Decimal"},
	"date":     {keyword{"System.DateTime", true}, "Date"},
	"string":   {keyword{"System.String", false}, "String"},
	"object":   {keyword{"System.Object", false}, "Object"},
	"void":     {keyword{"System.Void", true}, "Void"},
}

// keywordType maps a language keyword to its runtime type.
func keywordType(name, language string) (full, display string, valueType, ok bool) {
	if language == ast.LanguageVB {
		k, ok := vbKeywords[strings.ToLower(name)]
		return k.full, k.display, k.valueType, ok
	}
	k, ok := csharpKeywords[name]
	return k.full, name, k.valueType, ok
}

// ResolveType resolves type text written in s.Language within scope s.
// Text that does not parse is returned verbatim and unresolved.
func (m *Model) ResolveType(text string, s *Scope) TypeRef {
	return m.resolveTypeRef(text, s)
}

func (m *Model) resolveTypeRef(text string, s *Scope) TypeRef {
	language := ast.LanguageCSharp
	if s != nil && s.Language != "" {
		language = s.Language
	}
	e, err := ast.ParseTypeExpr(text, language)
	if err != nil {
		text = strings.TrimSpace(text)
		return TypeRef{FullName: text, Display: text}
	}
	r := &typeResolution{m: m, s: s, vb: language == ast.LanguageVB, resolved: true}
	full, display, gp := r.expr(e)
	return TypeRef{
		FullName:           full,
		Display:            display,
		Type:               m.TypeByFullName(full),
		IsGenericParameter: gp,
		Resolved:           r.resolved,
	}
}

type typeResolution struct {
	m        *Model
	s        *Scope
	vb       bool
	resolved bool
	depth    int
}

func (r *typeResolution) expr(e *ast.TypeExpr) (full, display string, gp bool) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > 32 {
		r.resolved = false
		return e.String(), e.String(), false
	}

	valueType := false
	switch {
	case e.IsTuple():
		fulls := make([]string, len(e.Tuple))
		displays := make([]string, len(e.Tuple))
		for i, el := range e.Tuple {
			fulls[i], displays[i], _ = r.expr(el)
		}
		full = "System.ValueTuple`" + strconv.Itoa(len(fulls)) + "[" + strings.Join(fulls, ",") + "]"
		display = "(" + strings.Join(displays, ", ") + ")"
		valueType = true
	default:
		full, display, gp, valueType = r.named(e)
	}

	if e.Nullable {
		if valueType && !strings.HasPrefix(full, "System.Nullable`1[") {
			full = "System.Nullable`1[" + full + "]"
		}
		display += "?"
	}
	for i := 0; i < e.Pointer; i++ {
		full += "*"
		display += "*"
	}
	for _, rank := range e.ArrayRanks {
		suffix := "[" + strings.Repeat(",", rank-1) + "]"
		full += suffix
		if r.vb {
			display += "(" + strings.Repeat(",", rank-1) + ")"
		} else {
			display += suffix
		}
	}
	return full, display, gp
}

func (r *typeResolution) named(e *ast.TypeExpr) (full, display string, gp, valueType bool) {
	segs := e.Segments
	if len(segs) == 1 && len(segs[0].Args) == 0 {
		name := segs[0].Name
		if f, d, vt, ok := keywordType(name, langOf(r.vb)); ok {
			return f, d, false, vt
		}
		if r.s != nil {
			if i := indexOf(r.s.MethodTypeParams, name, r.vb); i >= 0 {
				return "!!" + strconv.Itoa(i), name, true, false
			}
			if i := indexOf(r.s.TypeParams, name, r.vb); i >= 0 {
				return "!" + strconv.Itoa(i), name, true, false
			}
		}
	}

	var argFulls, argDisplays []string
	for _, seg := range segs {
		for _, a := range seg.Args {
			f, d, _ := r.expr(a)
			argFulls = append(argFulls, f)
			argDisplays = append(argDisplays, d)
		}
	}

	t := r.m.lookupTypeName(segs, r.s)
	if t == nil {
		r.resolved = false
		last := segs[len(segs)-1]
		full = metadataName(e.Name(), len(last.Args))
		display = e.Name()
	} else {
		full = t.FullName
		display = displayName(t)
		valueType = t.IsValueType
	}
	if len(argFulls) > 0 {
		full += "[" + strings.Join(argFulls, ",") + "]"
		if r.vb {
			display += "(Of " + strings.Join(argDisplays, ", ") + ")"
		} else {
			display += "<" + strings.Join(argDisplays, ", ") + ">"
		}
	}
	return full, display, false, valueType
}

func langOf(vb bool) string {
	if vb {
		return ast.LanguageVB
	}
	return ast.LanguageCSharp
}

// displayName renders Namespace.Outer.Inner without arity suffixes.
func displayName(t *Type) string {
	parts := []string{t.Name}
	for o := t.Outer; o != nil; o = o.Outer {
		parts = append(parts, o.Name)
	}
	if t.Namespace != "" {
		parts = append(parts, t.Namespace)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, ".")
}

// lookupTypeName resolves a dotted, possibly generic, type name.
func (m *Model) lookupTypeName(segs []ast.TypeSegment, s *Scope) *Type {
	if len(segs) == 0 {
		return nil
	}
	fold := s.fold()
	first := segs[0]

	if s != nil && len(first.Args) == 0 {
		if target, ok := s.Aliases[first.Name]; ok {
			inner := &Scope{Language: s.Language}
			if len(segs) == 1 {
				return m.resolveTypeRef(target, inner).Type
			}
			if ns := m.namespaceByName(target, fold); ns != nil {
				return m.walkFromNamespace(ns, segs[1:], fold)
			}
			if t := m.resolveTypeRef(target, inner).Type; t != nil {
				return walkNested(t, segs[1:], fold)
			}
			return nil
		}
	}

	if t := m.lookupSimple(first.Name, len(first.Args), s); t != nil {
		if found := walkNested(t, segs[1:], fold); found != nil || len(segs) == 1 {
			return found
		}
	}
	if len(segs) == 1 {
		return nil
	}

	for _, ns := range s.namespaceChain() {
		start := m.namespaceByName(ns, fold)
		if start == nil {
			continue
		}
		if t := m.walkFromNamespace(start, segs, fold); t != nil {
			return t
		}
	}
	return nil
}

// walkFromNamespace descends namespaces along segs, then types.
func (m *Model) walkFromNamespace(ns *Namespace, segs []ast.TypeSegment, fold bool) *Type {
	for i, seg := range segs {
		if t := lookupInNamespace(ns, seg.Name, len(seg.Args), fold); t != nil {
			if found := walkNested(t, segs[i+1:], fold); found != nil {
				return found
			}
		}
		if len(seg.Args) > 0 {
			return nil
		}
		next := childNamespace(ns, seg.Name, fold)
		if next == nil {
			return nil
		}
		ns = next
	}
	return nil
}

func walkNested(t *Type, segs []ast.TypeSegment, fold bool) *Type {
	for _, seg := range segs {
		t = nestedInHierarchy(t, seg.Name, len(seg.Args), fold, make(map[*Type]bool))
		if t == nil {
			return nil
		}
	}
	return t
}

func nestedInHierarchy(t *Type, name string, arity int, fold bool, seen map[*Type]bool) *Type {
	if t == nil || seen[t] {
		return nil
	}
	seen[t] = true
	if n := lookupNested(t, name, arity, fold); n != nil {
		return n
	}
	for _, b := range t.bases {
		if n := nestedInHierarchy(b, name, arity, fold, seen); n != nil {
			return n
		}
	}
	return nil
}

// lookupSimple resolves an unqualified type name: nested types of the
// enclosing types, then the namespace chain, then imports, then the global
// namespace.
func (m *Model) lookupSimple(name string, arity int, s *Scope) *Type {
	fold := s.fold()
	if s != nil {
		for t := s.Type; t != nil; t = t.Outer {
			if t.Name == name && t.Arity == arity {
				return t
			}
			if n := nestedInHierarchy(t, name, arity, fold, make(map[*Type]bool)); n != nil {
				return n
			}
		}
	}
	chain := s.namespaceChain()
	for _, ns := range chain[:len(chain)-1] {
		if t := lookupInNamespace(m.namespaceByName(ns, fold), name, arity, fold); t != nil {
			return t
		}
	}
	if s != nil {
		for _, u := range append(append([]string{}, s.Usings...), s.StaticImports...) {
			if ns := m.resolveNamespaceIn(u, s); ns != nil {
				if t := lookupInNamespace(ns, name, arity, fold); t != nil {
					return t
				}
				continue
			}
			if imported := m.TypeByFullName(stripGlobal(u)); imported != nil {
				if n := lookupNested(imported, name, arity, fold); n != nil {
					return n
				}
			}
		}
	}
	return lookupInNamespace(m.global, name, arity, fold)
}

// ResolveNamespace resolves a namespace name written in scope s: aliases,
// then the name as absolute, then relative to each enclosing namespace.
func (m *Model) ResolveNamespace(name string, s *Scope) *Namespace {
	return m.resolveNamespaceIn(name, s)
}

func (m *Model) resolveNamespaceIn(name string, s *Scope) *Namespace {
	name = stripGlobal(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	fold := s.fold()
	if s != nil {
		if target, ok := s.Aliases[name]; ok {
			return m.namespaceByName(stripGlobal(target), fold)
		}
	}
	if ns := m.namespaceByName(name, fold); ns != nil {
		return ns
	}
	chain := s.namespaceChain()
	for _, outer := range chain[:len(chain)-1] {
		if ns := m.namespaceByName(outer+"."+name, fold); ns != nil {
			return ns
		}
	}
	return nil
}

// ResolveImport resolves an import clause to a namespace or, failing that,
// to a type.
func (m *Model) ResolveImport(u ast.Using, s *Scope) (*Namespace, *Type) {
	if !u.Static {
		if ns := m.resolveNamespaceIn(u.Name, s); ns != nil {
			return ns, nil
		}
	}
	ref := m.resolveTypeRef(u.Name, s)
	if ref.Resolved && ref.Type != nil {
		return nil, ref.Type
	}
	return nil, nil
}

func (m *Model) namespaceByName(full string, fold bool) *Namespace {
	if full == "" {
		return m.global
	}
	if ns, ok := m.namespaces[full]; ok || !fold {
		return ns
	}
	ns := m.global
	for _, part := range strings.Split(full, ".") {
		if ns = childNamespace(ns, part, true); ns == nil {
			return nil
		}
	}
	return ns
}

func childNamespace(ns *Namespace, name string, fold bool) *Namespace {
	if c, ok := ns.children[name]; ok {
		return c
	}
	if fold {
		for k, c := range ns.children {
			if strings.EqualFold(k, name) {
				return c
			}
		}
	}
	return nil
}

func stripGlobal(name string) string {
	name = strings.TrimPrefix(name, "global::")
	if len(name) > 7 && strings.EqualFold(name[:7], "Global.") {
		name = name[7:]
	}
	return name
}
