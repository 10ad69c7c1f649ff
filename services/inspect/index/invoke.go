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
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

const maxExprDepth = 12

// Resolution is the outcome of resolving one invocation.
type Resolution struct {
	// Member is the chosen target, nil when the invocation did not resolve.
	Member *Member

	// Candidates is the number of members the name matched.
	Candidates int

	// Extension is set when the target was found as an extension method.
	Extension bool

	// NotInvocable is set when the target is a field or property that
	// Visual Basic syntax made look like a call (indexing or a default
	// property access).
	NotInvocable bool
}

// Resolved reports whether a target was found.
func (r Resolution) Resolved() bool {
	return r.Member != nil
}

// ResolveInvocation resolves the target of inv in scope s.
//
// Description:
//
//	The receiver expression is typed from locals, parameters, members of the
//	enclosing type, type names, object creations and call chains. The name
//	is then looked up on the receiver type and its bases, then among
//	extension methods in imported namespaces, then on open framework types.
//	When several overloads match, the first one accepting the argument
//	count wins, or the first candidate when none does.
func (m *Model) ResolveInvocation(inv ast.Invocation, s *Scope) Resolution {
	r := &exprResolver{m: m, s: s, fold: s.fold()}
	cands, ext := r.candidates(inv.Receiver, inv.Name, 0)
	if len(cands) == 0 {
		return Resolution{}
	}
	args := len(inv.Arguments)
	if ext {
		args++
	}
	chosen := pick(cands, args)
	res := Resolution{Member: chosen, Candidates: len(cands), Extension: ext}
	if r.fold && (chosen.Kind == schema.MemberKindField || chosen.Kind == schema.MemberKindProperty) {
		res.NotInvocable = true
	}
	return res
}

// ExpressionType returns the canonical static type of a value expression in
// scope s, empty when it cannot be typed or names a type.
func (m *Model) ExpressionType(expr string, s *Scope) string {
	r := &exprResolver{m: m, s: s, fold: s.fold()}
	if info := r.exprType(expr, 0); info != nil && !info.static {
		return info.full
	}
	return ""
}

// pick prefers methods, then the first candidate accepting args.
func pick(cands []*Member, args int) *Member {
	var methods []*Member
	for _, c := range cands {
		if c.Kind == schema.MemberKindMethod || c.Kind == schema.MemberKindConstructor {
			methods = append(methods, c)
		}
	}
	if len(methods) == 0 {
		methods = cands
	}
	for _, c := range methods {
		if c.accepts(args) {
			return c
		}
	}
	return methods[0]
}

type exprResolver struct {
	m    *Model
	s    *Scope
	fold bool
}

// valueInfo is the static type of an expression. static is set when the
// expression denotes a type rather than a value.
type valueInfo struct {
	full   string
	t      *Type
	static bool
}

func (r *exprResolver) instanceOf(full string) *valueInfo {
	if full == "" {
		return nil
	}
	return &valueInfo{full: full, t: r.m.TypeByFullName(full)}
}

func (r *exprResolver) typeText(text string) *valueInfo {
	text = strings.TrimSpace(text)
	if text == "" || text == "var" {
		return nil
	}
	ref := r.m.resolveTypeRef(text, r.s)
	if !ref.Resolved && ref.Type == nil {
		return nil
	}
	return &valueInfo{full: ref.FullName, t: ref.Type}
}

func (r *exprResolver) candidates(recv, name string, depth int) ([]*Member, bool) {
	if recv == "" {
		return r.simpleCandidates(name, depth), false
	}
	info := r.exprType(recv, depth+1)
	if info == nil || info.t == nil {
		return nil, false
	}
	if cands := r.membersInHierarchy(info.t, name, info.static); len(cands) > 0 {
		return cands, false
	}
	if !info.static {
		if ext := r.extensionCandidates(info, name); len(ext) > 0 {
			return ext, true
		}
	}
	if open := r.openType(info.t); open != nil {
		return []*Member{synthesize(open, name, info.static)}, false
	}
	return nil, false
}

func (r *exprResolver) simpleCandidates(name string, depth int) []*Member {
	s := r.s
	if s == nil {
		return nil
	}
	if fn, ok := s.LocalFunctions[name]; ok {
		return []*Member{fn}
	}
	for t := s.Type; t != nil; t = t.Outer {
		if cands := r.membersInHierarchy(t, name, false); len(cands) > 0 {
			return cands
		}
	}
	if text, ok := s.variable(name); ok {
		if info := r.typeText(text); info != nil && info.t != nil {
			if cands := r.membersInHierarchy(info.t, "Invoke", false); len(cands) > 0 {
				return cands
			}
			if open := r.openType(info.t); open != nil {
				return []*Member{synthesize(open, "Invoke", false)}
			}
		}
		return nil
	}
	for _, imp := range s.StaticImports {
		if t := r.m.resolveTypeRef(imp, s).Type; t != nil {
			if cands := r.membersInHierarchy(t, name, true); len(cands) > 0 {
				return cands
			}
		}
	}
	if r.fold {
		for _, ns := range r.visibleNamespaces() {
			for _, t := range sortedTypes(ns) {
				if !t.IsModule {
					continue
				}
				if cands := r.membersInHierarchy(t, name, true); len(cands) > 0 {
					return cands
				}
			}
		}
	}
	return nil
}

// exprType types a receiver expression.
func (r *exprResolver) exprType(expr string, depth int) *valueInfo {
	expr = strings.TrimSpace(expr)
	if expr == "" || depth > maxExprDepth {
		return nil
	}
	for len(expr) > 1 && expr[0] == '(' && expr[len(expr)-1] == ')' && matchingOpen(expr, len(expr)-1) == 0 {
		expr = strings.TrimSpace(expr[1 : len(expr)-1])
	}

	lower := strings.ToLower(expr)
	switch {
	case lower == "true" || lower == "false":
		if r.fold || expr == lower {
			return r.instanceOf("System.Boolean")
		}
	case !r.fold && expr[0] == '\'':
		return r.instanceOf("System.Char")
	case isNumericLiteral(expr):
		return r.instanceOf(numericLiteralType(lower, r.fold))
	case strings.HasPrefix(expr, `"`) || strings.HasPrefix(expr, `$"`) || strings.HasPrefix(expr, `@"`):
		if r.fold && strings.HasSuffix(lower, `"c`) {
			return r.instanceOf("System.Char")
		}
		return r.instanceOf("System.String")
	case expr == "this" || (r.fold && (lower == "me" || lower == "myclass")):
		if r.s != nil && r.s.Type != nil {
			return &valueInfo{full: r.s.Type.FullName, t: r.s.Type}
		}
		return nil
	case expr == "base" || (r.fold && lower == "mybase"):
		if r.s != nil && r.s.Type != nil {
			for _, b := range r.s.Type.bases {
				if !b.IsInterface {
					return &valueInfo{full: b.FullName, t: b}
				}
			}
			return r.instanceOf("System.Object")
		}
		return nil
	case strings.HasPrefix(expr, "new ") || (r.fold && strings.HasPrefix(lower, "new ")):
		text := expr[4:]
		if i := strings.IndexAny(text, "({"); i >= 0 {
			text = text[:i]
		}
		return r.typeText(text)
	}

	if last := expr[len(expr)-1]; last == ')' || last == ']' {
		open := matchingOpen(expr, len(expr)-1)
		if open <= 0 {
			return nil
		}
		return r.applied(expr[:open], len(splitArgs(expr[open+1:len(expr)-1])), last == ']', depth)
	}

	recv, name := ast.SplitInvocationTarget(expr)
	if recv == "" {
		return r.simpleNameType(name)
	}
	if info := r.exprType(recv, depth+1); info != nil && info.t != nil {
		if info.static {
			if n := nestedInHierarchy(info.t, name, 0, r.fold, make(map[*Type]bool)); n != nil {
				return &valueInfo{full: n.FullName, t: n, static: true}
			}
		}
		for _, mem := range r.membersInHierarchy(info.t, name, info.static) {
			if mem.Kind != schema.MemberKindMethod && mem.Kind != schema.MemberKindConstructor {
				return r.instanceOf(mem.TypeName)
			}
		}
		return nil
	}
	return r.typeName(expr)
}

// applied types callee(args) or callee[args]: a call, an indexer or an
// array element access.
func (r *exprResolver) applied(callee string, args int, bracket bool, depth int) *valueInfo {
	if !bracket {
		recv, name := ast.SplitInvocationTarget(callee)
		if cands, ext := r.candidates(recv, name, depth+1); len(cands) > 0 {
			if ext {
				args++
			}
			mem := pick(cands, args)
			if mem.Kind == schema.MemberKindMethod || mem.Kind == schema.MemberKindConstructor {
				return r.instanceOf(mem.TypeName)
			}
		}
		if !r.fold {
			return nil
		}
	}
	base := r.exprType(callee, depth+1)
	if base == nil {
		return nil
	}
	if strings.HasSuffix(base.full, "]") {
		if i := strings.LastIndexByte(base.full, '['); i > 0 && strings.Trim(base.full[i:], "[,]") == "" {
			return r.instanceOf(base.full[:i])
		}
	}
	if base.t != nil {
		for _, mem := range r.membersInHierarchy(base.t, "Item", false) {
			if mem.Kind == schema.MemberKindProperty {
				return r.instanceOf(mem.TypeName)
			}
		}
	}
	return nil
}

// simpleNameType types an unqualified name: a variable, a member of the
// enclosing types, or a type.
func (r *exprResolver) simpleNameType(name string) *valueInfo {
	if r.s != nil {
		if text, ok := r.s.variable(name); ok {
			return r.typeText(text)
		}
		for t := r.s.Type; t != nil; t = t.Outer {
			for _, mem := range r.membersInHierarchy(t, name, false) {
				if mem.Kind != schema.MemberKindMethod && mem.Kind != schema.MemberKindConstructor {
					return r.instanceOf(mem.TypeName)
				}
			}
		}
	}
	return r.typeName(name)
}

// typeName types an expression that names a type.
func (r *exprResolver) typeName(text string) *valueInfo {
	e, err := ast.ParseTypeExpr(text, langOf(r.fold))
	if err != nil || e.IsTuple() || e.Nullable || e.Pointer > 0 || len(e.ArrayRanks) > 0 {
		return nil
	}
	if len(e.Segments) == 1 && len(e.Segments[0].Args) == 0 {
		if full, _, _, ok := keywordType(e.Segments[0].Name, langOf(r.fold)); ok {
			return &valueInfo{full: full, t: r.m.TypeByFullName(full), static: true}
		}
	}
	t := r.m.lookupTypeName(e.Segments, r.s)
	if t == nil {
		return nil
	}
	return &valueInfo{full: t.FullName, t: t, static: true}
}

// membersInHierarchy returns the members named name on the most derived
// type of t's hierarchy that declares any, falling back to System.Object.
// Static matches are ordered first when static is set.
func (r *exprResolver) membersInHierarchy(t *Type, name string, static bool) []*Member {
	seen := make(map[*Type]bool)
	queue := []*Type{t}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil || seen[cur] {
			continue
		}
		seen[cur] = true
		if found := r.declared(cur, name); len(found) > 0 {
			return orderByStatic(found, static)
		}
		queue = append(queue, cur.bases...)
	}
	if obj := r.m.types["System.Object"]; obj != nil && !seen[obj] {
		return orderByStatic(r.declared(obj, name), static)
	}
	return nil
}

func (r *exprResolver) declared(t *Type, name string) []*Member {
	if found := t.members[name]; len(found) > 0 || !r.fold {
		return found
	}
	for k, found := range t.members {
		if strings.EqualFold(k, name) {
			return found
		}
	}
	return nil
}

func orderByStatic(ms []*Member, static bool) []*Member {
	if !static || len(ms) < 2 {
		return ms
	}
	out := make([]*Member, 0, len(ms))
	for _, m := range ms {
		if m.IsStatic {
			out = append(out, m)
		}
	}
	for _, m := range ms {
		if !m.IsStatic {
			out = append(out, m)
		}
	}
	return out
}

// extensionCandidates returns extension methods named name declared in a
// visible namespace whose extended type is in the receiver's hierarchy.
// Methods extending a generic parameter follow exact matches.
func (r *exprResolver) extensionCandidates(info *valueInfo, name string) []*Member {
	all := r.m.extensions[name]
	if len(all) == 0 && r.fold {
		for k, ms := range r.m.extensions {
			if strings.EqualFold(k, name) {
				all = ms
				break
			}
		}
	}
	if len(all) == 0 {
		return nil
	}

	visible := make(map[string]bool)
	for _, ns := range r.visibleNamespaces() {
		visible[ns.FullName] = true
	}
	hierarchy := make(map[string]bool)
	hierarchy[genericDefinition(info.full)] = true
	seen := make(map[*Type]bool)
	var walk func(t *Type)
	walk = func(t *Type) {
		if t == nil || seen[t] {
			return
		}
		seen[t] = true
		hierarchy[t.FullName] = true
		for _, b := range t.bases {
			walk(b)
		}
	}
	walk(info.t)

	var exact, open []*Member
	for _, mem := range all {
		if !visible[mem.Owner.Namespace] {
			continue
		}
		switch {
		case hierarchy[mem.ExtendsType]:
			exact = append(exact, mem)
		case strings.HasPrefix(mem.ExtendsType, "!!"):
			open = append(open, mem)
		}
	}
	return append(exact, open...)
}

// visibleNamespaces returns the enclosing namespaces and the imported ones.
func (r *exprResolver) visibleNamespaces() []*Namespace {
	var out []*Namespace
	seen := make(map[*Namespace]bool)
	add := func(ns *Namespace) {
		if ns != nil && !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	for _, name := range r.s.namespaceChain() {
		add(r.m.namespaceByName(name, r.fold))
	}
	if r.s != nil {
		for _, u := range r.s.Usings {
			add(r.m.resolveNamespaceIn(u, r.s))
		}
		for _, target := range r.s.Aliases {
			add(r.m.namespaceByName(stripGlobal(target), r.fold))
		}
	}
	return out
}

// openType returns the first open type in t's hierarchy.
func (r *exprResolver) openType(t *Type) *Type {
	seen := make(map[*Type]bool)
	queue := []*Type{t}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == nil || seen[cur] {
			continue
		}
		if cur.open {
			return cur
		}
		seen[cur] = true
		queue = append(queue, cur.bases...)
	}
	return nil
}

// synthesize builds a member for a name looked up on an open type. It is
// not added to the type.
func synthesize(t *Type, name string, static bool) *Member {
	return &Member{
		Name:      name,
		Kind:      schema.MemberKindMethod,
		Owner:     t,
		Variadic:  true,
		IsStatic:  static,
		Module:    t.Module,
		Loc:       LocMetadata,
		synthetic: true,
	}
}

func sortedTypes(ns *Namespace) []*Type {
	keys := make([]string, 0, len(ns.types))
	for k := range ns.types {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Type, len(keys))
	for i, k := range keys {
		out[i] = ns.types[k]
	}
	return out
}

func isNumericLiteral(expr string) bool {
	s := strings.TrimPrefix(expr, "-")
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// numericLiteralType maps a lower-cased numeric literal to its type by
// suffix, falling back to Int32 or Double.
func numericLiteralType(lit string, vb bool) string {
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "&h") {
		return "System.Int32"
	}
	switch {
	case strings.HasSuffix(lit, "ul"), strings.HasSuffix(lit, "lu"):
		return "System.UInt64"
	case strings.HasSuffix(lit, "m"):
		return "System.Decimal"
	case vb && strings.HasSuffix(lit, "d"):
		return "System.Decimal"
	case strings.HasSuffix(lit, "l"):
		return "System.Int64"
	case strings.HasSuffix(lit, "u"), strings.HasSuffix(lit, "ui"):
		return "System.UInt32"
	case strings.HasSuffix(lit, "f"):
		return "System.Single"
	case strings.HasSuffix(lit, "d") || strings.HasSuffix(lit, "r"):
		return "System.Double"
	case strings.ContainsAny(lit, ".e"):
		return "System.Double"
	}
	return "System.Int32"
}

// matchingOpen returns the index of the bracket opening the one at close,
// or -1. String literals are skipped.
func matchingOpen(s string, close int) int {
	depth := 0
	inString := false
	for i := close; i >= 0; i-- {
		c := s[i]
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case ')', ']', '}':
			depth++
		case '(', '[', '{':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitArgs splits an argument list at top-level commas.
func splitArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	inString := false
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '"':
			inString = !inString
		case inString:
		case c == '(' || c == '[' || c == '{' || c == '<':
			depth++
		case c == ')' || c == ']' || c == '}' || c == '>':
			depth--
		case c == ',' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
