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
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// CSharpParserOption configures a CSharpParser.
type CSharpParserOption func(*CSharpParser)

// WithCSharpMaxFileSize sets the maximum file size the parser will accept.
//
// Parameters:
//   - bytes: Maximum file size in bytes. Must be positive.
func WithCSharpMaxFileSize(bytes int64) CSharpParserOption {
	return func(p *CSharpParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// CSharpParser implements the Parser interface for C# source code.
//
// Description:
//
//	CSharpParser uses tree-sitter to parse C# source files and extract
//	namespaces, using directives, type and member declarations, local
//	variable types and invocation expressions. Each Parse call creates its
//	own tree-sitter parser instance.
//
//	Node lookups tolerate differences between grammar releases: member
//	types are read from either the "returns" or "type" field, modifiers from
//	modifier nodes or bare keyword tokens, and file-scoped namespaces apply
//	whether their members are children or following siblings.
//
// Thread Safety:
//
//	CSharpParser is safe for concurrent use.
type CSharpParser struct {
	maxFileSize int64
}

// NewCSharpParser creates a new C# parser with the given options.
//
// Example:
//
//	parser := NewCSharpParser()
//	unit, err := parser.Parse(ctx, content, "src/Orders/OrderService.cs")
func NewCSharpParser(opts ...CSharpParserOption) *CSharpParser {
	p := &CSharpParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language returns "csharp".
func (p *CSharpParser) Language() string {
	return LanguageCSharp
}

// Extensions returns the C# source extension.
func (p *CSharpParser) Extensions() []string {
	return []string{".cs"}
}

// Parse extracts declarations from C# source.
//
// Description:
//
//	Syntax errors do not fail the parse; they are noted in Unit.Errors and
//	extraction continues over the recovered tree.
//
// Outputs:
//
//	*Unit - The extracted declarations. Never nil when error is nil.
//	error - ErrFileTooLarge, ErrInvalidContent, or a cancellation error.
func (p *CSharpParser) Parse(ctx context.Context, content []byte, filePath string) (*Unit, error) {
	ctx, span := startParseSpan(ctx, LanguageCSharp, filePath, len(content))
	defer span.End()
	start := time.Now()

	unit, err := p.parse(ctx, content, filePath)
	recordParseMetrics(LanguageCSharp, start, unit, err)
	setParseSpanResult(span, unit, err)
	return unit, err
}

func (p *CSharpParser) parse(ctx context.Context, content []byte, filePath string) (*Unit, error) {
	content, err := checkContent(ctx, content, filePath, p.maxFileSize)
	if err != nil {
		return nil, err
	}

	parser := sitter.NewParser()
	parser.SetLanguage(csharp.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	unit := newUnit(filePath, LanguageCSharp, content)
	root := tree.RootNode()
	if root == nil {
		unit.Errors = append(unit.Errors, "tree-sitter returned nil root node")
		return unit, nil
	}
	if root.HasError() {
		unit.Errors = append(unit.Errors, "source contains syntax errors")
	}

	w := &csWalker{ctx: ctx, content: content, unit: unit}
	w.walkDeclarations(root, &csScope{}, 0)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled during extraction: %w", err)
	}
	return unit, nil
}

// csScope is the declaration context while walking: the enclosing
// namespace and type.
type csScope struct {
	namespace string
	outer     *TypeDecl
}

type csWalker struct {
	ctx     context.Context
	content []byte
	unit    *Unit
	visited int
}

var csTypeKinds = map[string]TypeKind{
	"class_declaration":         TypeKindClass,
	"struct_declaration":        TypeKindStruct,
	"interface_declaration":     TypeKindInterface,
	"enum_declaration":          TypeKindEnum,
	"record_declaration":        TypeKindRecord,
	"record_struct_declaration": TypeKindStruct,
	"delegate_declaration":      TypeKindDelegate,
}

var csModifierKeywords = map[string]bool{
	"public": true, "private": true, "protected": true, "internal": true,
	"static": true, "abstract": true, "sealed": true, "virtual": true,
	"override": true, "readonly": true, "const": true, "extern": true,
	"new": true, "partial": true, "async": true, "unsafe": true,
	"volatile": true, "required": true, "file": true, "fixed": true,
}

func (w *csWalker) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return string(w.content[n.StartByte():n.EndByte()])
}

func position(n *sitter.Node) (line, column int) {
	pt := n.StartPoint()
	return int(pt.Row) + 1, int(pt.Column) + 1
}

func (w *csWalker) canceled() bool {
	w.visited++
	if w.visited%100 == 0 {
		return w.ctx.Err() != nil
	}
	return false
}

func (w *csWalker) walkDeclarations(node *sitter.Node, scope *csScope, depth int) {
	if node == nil || depth > MaxWalkDepth {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child == nil || w.canceled() {
			continue
		}
		switch t := child.Type(); t {
		case "using_directive":
			if u, ok := parseCSharpUsing(w.text(child)); ok {
				u.Scope = scope.namespace
				u.Line, u.Column = position(child)
				w.unit.Usings = append(w.unit.Usings, u)
			}
		case "namespace_declaration":
			name := w.namespaceName(child)
			inner := &csScope{namespace: joinNamespace(scope.namespace, name)}
			w.addNamespace(inner.namespace, child)
			body := child.ChildByFieldName("body")
			if body == nil {
				body = child
			}
			w.walkDeclarations(body, inner, depth+1)
		case "file_scoped_namespace_declaration":
			name := w.namespaceName(child)
			scope.namespace = joinNamespace(scope.namespace, name)
			w.addNamespace(scope.namespace, child)
			w.walkDeclarations(child, &csScope{namespace: scope.namespace}, depth+1)
		case "declaration_list", "ERROR", "global_attribute_list":
			w.walkDeclarations(child, scope, depth+1)
		default:
			if kind, ok := csTypeKinds[t]; ok {
				w.addType(child, kind, scope, depth)
			}
		}
	}
}

func (w *csWalker) namespaceName(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return compactSpace(w.text(name))
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "identifier" || c.Type() == "qualified_name" {
			return compactSpace(w.text(c))
		}
	}
	return ""
}

func (w *csWalker) addNamespace(name string, n *sitter.Node) {
	line, col := position(n)
	w.unit.Namespaces = append(w.unit.Namespaces, NamespaceDecl{Name: name, Line: line, Column: col})
}

func (w *csWalker) addType(n *sitter.Node, kind TypeKind, scope *csScope, depth int) {
	decl := &TypeDecl{
		Name:      w.text(n.ChildByFieldName("name")),
		Namespace: scope.namespace,
		Outer:     scope.outer,
		Kind:      kind,
	}
	if decl.Name == "" {
		return
	}
	decl.Line, decl.Column = position(n)
	decl.Modifiers = w.modifiers(n)
	decl.Attributes = w.attributes(n)
	decl.TypeParams = w.typeParams(n)
	decl.BaseTypes = w.baseTypes(n)

	def := AccessInternal
	if scope.outer != nil {
		def = AccessPrivate
	}
	decl.Access = resolveAccess(decl.Modifiers, def)
	w.unit.Types = append(w.unit.Types, decl)

	if kind == TypeKindRecord || kind == TypeKindStruct {
		w.addPrimaryConstructor(n, decl)
	}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	inner := &csScope{namespace: scope.namespace, outer: decl}
	for i := 0; i < int(body.ChildCount()); i++ {
		child := body.Child(i)
		if child == nil || w.canceled() {
			continue
		}
		if k, ok := csTypeKinds[child.Type()]; ok {
			w.addType(child, k, inner, depth+1)
			continue
		}
		w.addMembers(child, decl)
	}
}

// addPrimaryConstructor records the constructor implied by a record's
// parameter list.
func (w *csWalker) addPrimaryConstructor(n *sitter.Node, decl *TypeDecl) {
	params := n.ChildByFieldName("parameters")
	if params == nil {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "parameter_list" {
				params = c
				break
			}
		}
	}
	if params == nil {
		return
	}
	m := &MemberDecl{
		Kind:   schema.MemberKindConstructor,
		Name:   ".ctor",
		Access: AccessPublic,
		Params: w.params(params),
	}
	m.Line, m.Column = position(params)
	decl.Members = append(decl.Members, m)
}

func (w *csWalker) addMembers(n *sitter.Node, owner *TypeDecl) {
	var kind schema.MemberKind
	switch n.Type() {
	case "method_declaration":
		kind = schema.MemberKindMethod
	case "constructor_declaration":
		kind = schema.MemberKindConstructor
	case "property_declaration", "indexer_declaration":
		kind = schema.MemberKindProperty
	case "event_declaration":
		kind = schema.MemberKindEvent
	case "field_declaration":
		w.addFieldLike(n, owner, schema.MemberKindField)
		return
	case "event_field_declaration":
		w.addFieldLike(n, owner, schema.MemberKindEvent)
		return
	case "enum_member_declaration_list":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.addMembers(n.NamedChild(i), owner)
		}
		return
	case "enum_member_declaration":
		w.addEnumMember(n, owner)
		return
	default:
		return
	}

	m := &MemberDecl{
		Kind:       kind,
		Name:       w.text(n.ChildByFieldName("name")),
		Modifiers:  w.modifiers(n),
		Attributes: w.attributes(n),
		TypeParams: w.typeParams(n),
	}
	m.Line, m.Column = position(n)
	m.Type = w.memberType(n)

	switch n.Type() {
	case "constructor_declaration":
		m.Name = ".ctor"
		if hasModifier(m.Modifiers, "static") {
			m.Name = ".cctor"
		}
		m.Type = ""
	case "indexer_declaration":
		m.Name = "Item"
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		m.Params = w.params(params)
	}
	m.IsExtension = kind == schema.MemberKindMethod && len(m.Params) > 0 && m.Params[0].Modifier == "this"

	if ei := w.explicitInterface(n); ei != "" {
		m.ExplicitInterface = ei
	}
	w.finishMember(n, m, owner)
}

func (w *csWalker) addFieldLike(n *sitter.Node, owner *TypeDecl, kind schema.MemberKind) {
	decl := findChild(n, "variable_declaration")
	if decl == nil {
		return
	}
	typ := w.declarationType(decl)
	mods := w.modifiers(n)
	attrs := w.attributes(n)
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		v := decl.NamedChild(i)
		if v.Type() != "variable_declarator" {
			continue
		}
		m := &MemberDecl{
			Kind:       kind,
			Name:       w.declaratorName(v),
			Modifiers:  mods,
			Attributes: attrs,
			Type:       typ,
		}
		m.Line, m.Column = position(n)
		w.finishMember(v, m, owner)
	}
}

func (w *csWalker) addEnumMember(n *sitter.Node, owner *TypeDecl) {
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		name = w.text(findChild(n, "identifier"))
	}
	if name == "" {
		return
	}
	m := &MemberDecl{
		Kind:       schema.MemberKindField,
		Name:       name,
		Access:     AccessPublic,
		Type:       owner.Name,
		Attributes: w.attributes(n),
		IsStatic:   true,
	}
	m.Line, m.Column = position(n)
	owner.Members = append(owner.Members, m)
}

// finishMember resolves accessibility and staticness, collects locals and
// invocations from body, and attaches m to owner.
func (w *csWalker) finishMember(body *sitter.Node, m *MemberDecl, owner *TypeDecl) {
	def := AccessPrivate
	if owner.Kind == TypeKindInterface {
		def = AccessPublic
	}
	if m.ExplicitInterface != "" {
		m.Access = AccessPrivate
	} else {
		m.Access = resolveAccess(m.Modifiers, def)
	}
	m.IsStatic = owner.IsStatic() || hasModifier(m.Modifiers, "static") || hasModifier(m.Modifiers, "const")
	if m.Name == "" {
		return
	}
	w.collectBody(body, m)
	owner.Members = append(owner.Members, m)
}

func (w *csWalker) memberType(n *sitter.Node) string {
	for _, field := range []string{"returns", "type"} {
		if t := n.ChildByFieldName(field); t != nil {
			return compactSpace(w.text(t))
		}
	}
	return ""
}

func (w *csWalker) declarationType(decl *sitter.Node) string {
	if t := decl.ChildByFieldName("type"); t != nil {
		return compactSpace(w.text(t))
	}
	if decl.NamedChildCount() > 0 {
		return compactSpace(w.text(decl.NamedChild(0)))
	}
	return ""
}

func (w *csWalker) declaratorName(v *sitter.Node) string {
	if name := v.ChildByFieldName("name"); name != nil {
		return w.text(name)
	}
	return w.text(findChild(v, "identifier"))
}

func (w *csWalker) explicitInterface(n *sitter.Node) string {
	ei := findChild(n, "explicit_interface_specifier")
	if ei == nil {
		return ""
	}
	return strings.TrimSuffix(compactSpace(w.text(ei)), ".")
}

// modifiers returns the modifier keywords of a declaration in source order.
func (w *csWalker) modifiers(n *sitter.Node) []string {
	var mods []string
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch {
		case c.Type() == "modifier":
			mods = append(mods, strings.TrimSpace(w.text(c)))
		case !c.IsNamed() && csModifierKeywords[c.Type()]:
			mods = append(mods, c.Type())
		case c.Type() == "attribute_list":
		case c.IsNamed():
			// Modifiers precede the first named non-attribute child.
			return mods
		}
	}
	return mods
}

func (w *csWalker) attributes(n *sitter.Node) []string {
	var attrs []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		list := n.NamedChild(i)
		if list.Type() != "attribute_list" {
			continue
		}
		for j := 0; j < int(list.NamedChildCount()); j++ {
			a := list.NamedChild(j)
			if a.Type() != "attribute" {
				continue
			}
			name := a.ChildByFieldName("name")
			if name == nil && a.NamedChildCount() > 0 {
				name = a.NamedChild(0)
			}
			if s := compactSpace(w.text(name)); s != "" {
				attrs = append(attrs, s)
			}
		}
	}
	return attrs
}

func (w *csWalker) typeParams(n *sitter.Node) []string {
	list := n.ChildByFieldName("type_parameters")
	if list == nil {
		list = findChild(n, "type_parameter_list")
	}
	if list == nil {
		return nil
	}
	return parseTypeParamList(w.text(list))
}

// parseTypeParamList reads names from "<in T, [A] out U>" or "(Of T, U As X)".
func parseTypeParamList(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "<")
	text = strings.TrimSuffix(text, ">")
	text = strings.TrimPrefix(text, "(")
	text = strings.TrimSuffix(text, ")")
	var names []string
	for i, part := range splitTopLevel(text, ',') {
		if i == 0 {
			if f := strings.Fields(part); len(f) > 0 && strings.EqualFold(f[0], "Of") {
				part = strings.Join(f[1:], " ")
			}
		}
		for strings.HasPrefix(part, "[") {
			end := strings.IndexByte(part, ']')
			if end < 0 {
				break
			}
			part = strings.TrimSpace(part[end+1:])
		}
		fields := strings.Fields(part)
		for len(fields) > 1 && (strings.EqualFold(fields[0], "in") || strings.EqualFold(fields[0], "out")) {
			fields = fields[1:]
		}
		if len(fields) > 0 {
			names = append(names, fields[0])
		}
	}
	return names
}

func (w *csWalker) baseTypes(n *sitter.Node) []string {
	list := n.ChildByFieldName("bases")
	if list == nil {
		list = findChild(n, "base_list")
	}
	if list == nil {
		return nil
	}
	text := strings.TrimPrefix(strings.TrimSpace(w.text(list)), ":")
	var bases []string
	for _, b := range splitTopLevel(text, ',') {
		if i := strings.IndexByte(b, '('); i > 0 {
			b = b[:i]
		}
		bases = append(bases, compactSpace(b))
	}
	return bases
}

func (w *csWalker) params(list *sitter.Node) []Param {
	var params []Param
	for i := 0; i < int(list.NamedChildCount()); i++ {
		pn := list.NamedChild(i)
		if pn.Type() != "parameter" && pn.Type() != "parameter_array" {
			continue
		}
		nameNode := pn.ChildByFieldName("name")
		p := Param{Name: w.text(nameNode)}
		if pn.Type() == "parameter_array" {
			p.Modifier = "params"
		}
		var lastType *sitter.Node
		for j := 0; j < int(pn.ChildCount()); j++ {
			c := pn.Child(j)
			switch {
			case c.Type() == "parameter_modifier" || c.Type() == "modifier":
				p.Modifier = strings.TrimSpace(w.text(c))
			case !c.IsNamed() && isParamModifier(c.Type()):
				p.Modifier = c.Type()
			case c.Type() == "equals_value_clause", !c.IsNamed() && c.Type() == "=":
				p.HasDefault = true
			case c.Type() == "attribute_list":
			case c.IsNamed() && (nameNode == nil || c.StartByte() < nameNode.StartByte()):
				lastType = c
			}
		}
		if t := pn.ChildByFieldName("type"); t != nil {
			p.Type = compactSpace(w.text(t))
		} else if lastType != nil {
			p.Type = compactSpace(w.text(lastType))
		}
		params = append(params, p)
	}
	return params
}

func isParamModifier(s string) bool {
	switch s {
	case "this", "ref", "out", "in", "params", "scoped":
		return true
	}
	return false
}

// collectBody walks a member's syntax iteratively, recording local variable
// types and invocation expressions. Nested type declarations are skipped.
func (w *csWalker) collectBody(root *sitter.Node, m *MemberDecl) {
	type frame struct {
		node  *sitter.Node
		depth int
	}
	stack := []frame{{node: root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > MaxWalkDepth || w.canceled() {
			continue
		}
		n := f.node
		if _, nested := csTypeKinds[n.Type()]; nested && n != root {
			continue
		}
		switch n.Type() {
		case "invocation_expression":
			if len(m.Invocations) < MaxInvocationsPerMember {
				if inv, ok := w.invocation(n); ok {
					m.Invocations = append(m.Invocations, inv)
				}
			}
		case "local_declaration_statement", "using_statement", "for_statement":
			if decl := findChild(n, "variable_declaration"); decl != nil {
				w.addLocals(decl, m)
			}
		case "foreach_statement", "for_each_statement":
			w.addForeachLocal(n, m)
		case "local_function_statement":
			w.addLocalFunction(n, m)
		case "accessor_declaration":
			if isValueAccessor(w.accessorKeyword(n)) {
				m.ValueAccessor = true
			}
		}
		// Push in reverse so children are visited in source order.
		for i := int(n.NamedChildCount()) - 1; i >= 0; i-- {
			if c := n.NamedChild(i); c != nil {
				stack = append(stack, frame{node: c, depth: f.depth + 1})
			}
		}
	}
}

// addLocalFunction records a local function and types its parameters as
// locals of the enclosing member.
func (w *csWalker) addLocalFunction(n *sitter.Node, m *MemberDecl) {
	name := w.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	lf := LocalFunction{Name: name, Type: compactSpace(w.text(n.ChildByFieldName("type")))}
	if params := n.ChildByFieldName("parameters"); params != nil {
		lf.Params = w.params(params)
	}
	lf.Line, lf.Column = position(n)
	m.LocalFunctions = append(m.LocalFunctions, lf)
	for _, p := range lf.Params {
		if _, ok := m.Locals[p.Name]; ok || p.Type == "" {
			continue
		}
		if m.Locals == nil {
			m.Locals = make(map[string]string)
		}
		m.Locals[p.Name] = p.Type
	}
}

// accessorKeyword returns get, set, init, add or remove for an accessor.
func (w *csWalker) accessorKeyword(n *sitter.Node) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return w.text(name)
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		switch t := n.Child(i).Type(); t {
		case "get", "set", "init", "add", "remove":
			return t
		}
	}
	return ""
}

func isValueAccessor(keyword string) bool {
	switch keyword {
	case "set", "init", "add", "remove":
		return true
	}
	return false
}

func (w *csWalker) invocation(n *sitter.Node) (Invocation, bool) {
	fn := n.ChildByFieldName("function")
	if fn == nil && n.NamedChildCount() > 0 {
		fn = n.NamedChild(0)
	}
	if fn == nil {
		return Invocation{}, false
	}
	inv := Invocation{Text: compactSpace(w.text(fn))}
	inv.Receiver, inv.Name = SplitInvocationTarget(inv.Text)
	if inv.Name == "" || inv.Name == "nameof" {
		return Invocation{}, false
	}
	args := n.ChildByFieldName("arguments")
	if args == nil {
		args = findChild(n, "argument_list")
	}
	if args != nil {
		for i := 0; i < int(args.NamedChildCount()); i++ {
			if a := args.NamedChild(i); a.Type() == "argument" {
				inv.Arguments = append(inv.Arguments, strings.TrimSpace(w.text(a)))
			}
		}
	}
	inv.Line, inv.Column = position(n)
	return inv, true
}

func (w *csWalker) addLocals(decl *sitter.Node, m *MemberDecl) {
	typ := w.declarationType(decl)
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		v := decl.NamedChild(i)
		if v.Type() != "variable_declarator" {
			continue
		}
		name := w.declaratorName(v)
		t := typ
		if t == "var" {
			t = w.creationType(v)
		}
		if name == "" || t == "" {
			continue
		}
		if m.Locals == nil {
			m.Locals = make(map[string]string)
		}
		m.Locals[name] = t
	}
}

// creationType returns T for a declarator initialized with new T(...) or
// a cast (T)x, empty otherwise.
func (w *csWalker) creationType(v *sitter.Node) string {
	var found string
	var visit func(n *sitter.Node, depth int)
	visit = func(n *sitter.Node, depth int) {
		if n == nil || found != "" || depth > 3 {
			return
		}
		switch n.Type() {
		case "object_creation_expression", "cast_expression":
			found = compactSpace(w.text(n.ChildByFieldName("type")))
			return
		case "array_creation_expression":
			found = compactSpace(w.text(n.ChildByFieldName("type")))
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			visit(n.NamedChild(i), depth+1)
		}
	}
	for i := 0; i < int(v.NamedChildCount()); i++ {
		visit(v.NamedChild(i), 0)
	}
	return found
}

func (w *csWalker) addForeachLocal(n *sitter.Node, m *MemberDecl) {
	t := compactSpace(w.text(n.ChildByFieldName("type")))
	name := w.text(n.ChildByFieldName("left"))
	if t == "" || t == "var" || name == "" {
		return
	}
	if m.Locals == nil {
		m.Locals = make(map[string]string)
	}
	m.Locals[name] = t
}

func findChild(n *sitter.Node, typ string) *sitter.Node {
	if n == nil {
		return nil
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == typ {
			return c
		}
	}
	return nil
}

// parseCSharpUsing reads a using directive from its text.
func parseCSharpUsing(text string) (Using, bool) {
	s := strings.TrimSpace(text)
	s = strings.TrimSuffix(s, ";")
	s = strings.TrimSpace(strings.TrimPrefix(s, "global "))
	if !strings.HasPrefix(s, "using") {
		return Using{}, false
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "using"))

	var u Using
	if strings.HasPrefix(s, "static ") {
		u.Static = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "static "))
	}
	if eq := strings.IndexByte(s, '='); eq > 0 {
		u.Alias = strings.TrimSpace(s[:eq])
		s = s[eq+1:]
	}
	s = compactSpace(s)
	s = strings.TrimPrefix(s, "global::")
	if s == "" {
		return Using{}, false
	}
	u.Name = s
	return u, true
}

var _ Parser = (*CSharpParser)(nil)
