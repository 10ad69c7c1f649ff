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
	"path"
	"strings"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// Scope is the name-lookup context at one point of a source file.
type Scope struct {
	Language string

	// Namespace is the full name of the enclosing namespace.
	Namespace string

	// Usings are the imported namespace (or type) names as written.
	Usings []string

	// Aliases maps alias names to their target text.
	Aliases map[string]string

	// StaticImports are the types whose static members are in scope.
	StaticImports []string

	// Type is the enclosing type, nil at namespace level.
	Type *Type

	// TypeParams are the type parameters of the enclosing types, outermost
	// first; MethodTypeParams those of the enclosing member.
	TypeParams       []string
	MethodTypeParams []string

	// Params and Locals map variable names to declared type text.
	Params map[string]string
	Locals map[string]string

	// LocalFunctions are the functions declared in the enclosing member's
	// body, keyed by name.
	LocalFunctions map[string]*Member
}

// ScopeFor returns the scope inside member (which may be nil) of type decl
// in unit u.
func (m *Model) ScopeFor(u *ast.Unit, decl *ast.TypeDecl, member *ast.MemberDecl) *Scope {
	var t *Type
	if decl != nil {
		t = m.TypeByFullName(decl.FullName())
	}
	s := newTypeScope(u, decl, t)
	if member != nil {
		s.MethodTypeParams = member.TypeParams
		if len(member.Params) > 0 {
			s.Params = make(map[string]string, len(member.Params))
			for _, p := range member.Params {
				s.Params[p.Name] = p.Type
			}
		}
		s.Locals = member.Locals
		if member.ValueAccessor && member.Type != "" {
			if s.Params == nil {
				s.Params = make(map[string]string, 1)
			}
			if _, ok := s.Params["value"]; !ok {
				s.Params["value"] = member.Type
			}
		}
		if t != nil && len(member.LocalFunctions) > 0 {
			s.LocalFunctions = m.localFunctions(u, member, s)
		}
	}
	return s
}

// localFunctions builds source-located members for the local functions of
// member, named Member.Local so their ids stay under the enclosing member.
func (m *Model) localFunctions(u *ast.Unit, member *ast.MemberDecl, s *Scope) map[string]*Member {
	out := make(map[string]*Member, len(member.LocalFunctions))
	for _, lf := range member.LocalFunctions {
		if _, ok := out[lf.Name]; ok {
			continue
		}
		typeName := "System.Void"
		if lf.Type != "" && lf.Type != "void" {
			typeName = m.ResolveType(lf.Type, s).FullName
		}
		fn := &Member{
			Name:       member.Name + "." + lf.Name,
			Kind:       schema.MemberKindMethod,
			Owner:      s.Type,
			TypeName:   typeName,
			ParamCount: len(lf.Params),
			Module:     path.Base(u.FilePath),
			Loc:        LocSource,
			synthetic:  true,
		}
		for _, p := range lf.Params {
			if !p.HasDefault {
				fn.Required++
			}
		}
		out[lf.Name] = fn
	}
	return out
}

// UnitScope returns the scope at file level for namespace ns.
func (m *Model) UnitScope(u *ast.Unit, ns string) *Scope {
	s := &Scope{Language: u.Language, Namespace: ns}
	s.addUsings(u)
	return s
}

func newTypeScope(u *ast.Unit, decl *ast.TypeDecl, t *Type) *Scope {
	s := &Scope{Language: u.Language, Type: t}
	if decl != nil {
		s.Namespace = decl.Namespace
		s.TypeParams = decl.AllTypeParams()
	}
	s.addUsings(u)
	return s
}

// addUsings adds the directives of u visible from s.Namespace: file-level
// directives and those declared in an enclosing namespace.
func (s *Scope) addUsings(u *ast.Unit) {
	for _, us := range u.Usings {
		if us.Scope != "" && us.Scope != s.Namespace && !strings.HasPrefix(s.Namespace, us.Scope+".") {
			continue
		}
		switch {
		case us.Alias != "":
			if s.Aliases == nil {
				s.Aliases = make(map[string]string)
			}
			s.Aliases[us.Alias] = us.Name
		case us.Static:
			s.StaticImports = append(s.StaticImports, us.Name)
		default:
			s.Usings = append(s.Usings, us.Name)
		}
	}
}

func (s *Scope) fold() bool {
	return s != nil && s.Language == ast.LanguageVB
}

// namespaceChain returns the enclosing namespace and each of its parents,
// innermost first, ending with the global namespace.
func (s *Scope) namespaceChain() []string {
	var out []string
	ns := ""
	if s != nil {
		ns = s.Namespace
	}
	for ns != "" {
		out = append(out, ns)
		i := strings.LastIndexByte(ns, '.')
		if i < 0 {
			break
		}
		ns = ns[:i]
	}
	return append(out, "")
}

func (s *Scope) variable(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	if t, ok := s.Locals[name]; ok {
		return t, true
	}
	if t, ok := s.Params[name]; ok {
		return t, true
	}
	if s.fold() {
		for k, t := range s.Locals {
			if strings.EqualFold(k, name) {
				return t, true
			}
		}
		for k, t := range s.Params {
			if strings.EqualFold(k, name) {
				return t, true
			}
		}
	}
	return "", false
}

func indexOf(list []string, name string, fold bool) int {
	for i, v := range list {
		if v == name || (fold && strings.EqualFold(v, name)) {
			return i
		}
	}
	return -1
}
