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
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// VBParserOption configures a VBParser.
type VBParserOption func(*VBParser)

// WithVBMaxFileSize sets the maximum file size the parser will accept.
func WithVBMaxFileSize(bytes int64) VBParserOption {
	return func(p *VBParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// VBParser implements the Parser interface for Visual Basic source code.
//
// Description:
//
//	VBParser is a statement scanner rather than a full grammar. It joins
//	continued lines, strips comments, and tracks declaration blocks
//	(Namespace, Class, Structure, Interface, Module, Enum, Sub, Function,
//	Property, Event, Operator) with a block stack. Statements inside member
//	bodies are scanned for Dim declarations and call expressions.
//
//	Visual Basic does not distinguish calls from array indexing
//	syntactically. Candidates whose name is a local or parameter of the
//	enclosing member are dropped; the rest are left to symbol resolution.
//
// Thread Safety:
//
//	VBParser is safe for concurrent use.
type VBParser struct {
	maxFileSize int64
}

// NewVBParser creates a new Visual Basic parser with the given options.
func NewVBParser(opts ...VBParserOption) *VBParser {
	p := &VBParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Language returns "vb".
func (p *VBParser) Language() string {
	return LanguageVB
}

// Extensions returns the Visual Basic source extension.
func (p *VBParser) Extensions() []string {
	return []string{".vb"}
}

// Parse extracts declarations from Visual Basic source.
func (p *VBParser) Parse(ctx context.Context, content []byte, filePath string) (*Unit, error) {
	ctx, span := startParseSpan(ctx, LanguageVB, filePath, len(content))
	defer span.End()
	start := time.Now()

	unit, err := p.parse(ctx, content, filePath)
	recordParseMetrics(LanguageVB, start, unit, err)
	setParseSpanResult(span, unit, err)
	return unit, err
}

func (p *VBParser) parse(ctx context.Context, content []byte, filePath string) (*Unit, error) {
	content, err := checkContent(ctx, content, filePath, p.maxFileSize)
	if err != nil {
		return nil, err
	}
	unit := newUnit(filePath, LanguageVB, content)
	s := &vbScanner{ctx: ctx, unit: unit, lines: splitVBLines(string(content))}
	if err := s.run(); err != nil {
		return nil, err
	}
	return unit, nil
}

// vbPiece maps an offset in a joined logical line back to a physical line.
type vbPiece struct {
	offset int
	line   int
	column int
}

// vbLine is one logical line: physical lines joined across continuations,
// with comments removed. masked has string literal contents blanked so
// scanning never looks inside strings; raw and masked have equal length.
type vbLine struct {
	raw    string
	masked string
	pieces []vbPiece
}

func (l *vbLine) pos(offset int) (line, column int) {
	piece := l.pieces[0]
	for _, p := range l.pieces[1:] {
		if p.offset > offset {
			break
		}
		piece = p
	}
	return piece.line, piece.column + (offset - piece.offset)
}

const maxVBImplicitJoins = 50

// splitVBLines produces logical lines from source text.
func splitVBLines(src string) []vbLine {
	physical := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	var out []vbLine
	var cur *vbLine
	joins := 0
	for i, text := range physical {
		raw, masked := stripVBComment(text)
		trimmed := strings.TrimSpace(masked)
		lead := len(masked) - len(strings.TrimLeft(masked, " \t"))

		if cur == nil {
			if trimmed == "" {
				continue
			}
			cur = &vbLine{}
			joins = 0
		} else if trimmed == "" {
			// A blank line ends any implicit continuation.
			out = append(out, *cur)
			cur = nil
			continue
		} else {
			cur.raw += " "
			cur.masked += " "
			joins++
		}
		cur.pieces = append(cur.pieces, vbPiece{offset: len(cur.masked), line: i + 1, column: lead + 1})
		cur.raw += strings.TrimRight(raw[lead:], " \t")
		cur.masked += strings.TrimRight(masked[lead:], " \t")

		if vbContinues(cur.masked) && joins < maxVBImplicitJoins {
			if strings.HasSuffix(cur.masked, " _") || cur.masked == "_" {
				cur.raw = strings.TrimSuffix(cur.raw, "_")
				cur.masked = strings.TrimSuffix(cur.masked, "_")
			}
			continue
		}
		out = append(out, *cur)
		cur = nil
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// stripVBComment removes a trailing comment and returns the raw text and a
// copy with string literal contents replaced by spaces.
func stripVBComment(line string) (raw, masked string) {
	mb := []byte(line)
	inString := false
	for i := 0; i < len(mb); i++ {
		c := mb[i]
		switch {
		case c == '"':
			if inString && i+1 < len(mb) && mb[i+1] == '"' {
				mb[i], mb[i+1] = ' ', ' '
				i++
				continue
			}
			inString = !inString
		case inString:
			mb[i] = ' '
		case c == '\'':
			return line[:i], string(mb[:i])
		}
	}
	trimmed := strings.TrimSpace(string(mb))
	if len(trimmed) >= 3 && strings.EqualFold(trimmed[:3], "REM") && (len(trimmed) == 3 || trimmed[3] == ' ') {
		return "", ""
	}
	return line, string(mb)
}

var vbTrailingContinuation = regexp.MustCompile(`(?i)(\s_|[,(&+=\{]|\b(AndAlso|OrElse|And|Or))$`)

func vbContinues(masked string) bool {
	if vbTrailingContinuation.MatchString(masked) || masked == "_" {
		return true
	}
	return parenDepth(masked) > 0
}

func parenDepth(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
	}
	return depth
}

type vbFrameKind int

const (
	vbFrameNamespace vbFrameKind = iota
	vbFrameType
	vbFrameMember
)

type vbFrame struct {
	kind      vbFrameKind
	keyword   string
	namespace string
	typ       *TypeDecl
	member    *MemberDecl
}

type vbScanner struct {
	ctx     context.Context
	unit    *Unit
	lines   []vbLine
	stack   []vbFrame
	attrs   []string
	lambdas int
}

var vbModifierWords = map[string]bool{
	"public": true, "private": true, "protected": true, "friend": true,
	"shared": true, "overrides": true, "overridable": true, "notoverridable": true,
	"mustoverride": true, "overloads": true, "shadows": true, "readonly": true,
	"writeonly": true, "partial": true, "mustinherit": true, "notinheritable": true,
	"default": true, "withevents": true, "async": true, "iterator": true,
	"const": true, "dim": true, "widening": true, "narrowing": true, "custom": true,
}

var vbBlockKeywords = map[string]TypeKind{
	"class":     TypeKindClass,
	"structure": TypeKindStruct,
	"interface": TypeKindInterface,
	"module":    TypeKindModule,
	"enum":      TypeKindEnum,
}

var vbLambdaHeader = regexp.MustCompile(`(?i)\b(Sub|Function)\s*\([^()]*\)(\s+As\s+[\w.]+)?\s*$`)

func (s *vbScanner) namespace() string {
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].kind == vbFrameNamespace || s.stack[i].kind == vbFrameType {
			return s.stack[i].namespace
		}
	}
	return ""
}

func (s *vbScanner) top() *vbFrame {
	if len(s.stack) == 0 {
		return nil
	}
	return &s.stack[len(s.stack)-1]
}

func (s *vbScanner) run() error {
	for i := range s.lines {
		if i%100 == 0 {
			if err := s.ctx.Err(); err != nil {
				return err
			}
		}
		s.statement(i)
	}
	return nil
}

func (s *vbScanner) statement(idx int) {
	l := &s.lines[idx]
	masked := l.masked
	offset := 0

	// Leading attribute blocks apply to the next declaration.
	for strings.HasPrefix(strings.TrimSpace(masked[offset:]), "<") {
		start := offset + strings.IndexByte(masked[offset:], '<')
		end := matchingAngle(masked, start)
		if end < 0 {
			break
		}
		s.attrs = append(s.attrs, parseVBAttributes(l.raw[start+1:end])...)
		offset = end + 1
	}
	rest := strings.TrimSpace(masked[offset:])
	if rest == "" {
		return
	}
	offset += strings.Index(masked[offset:], rest)
	words := strings.Fields(rest)
	first := strings.ToLower(words[0])

	if frame := s.top(); frame != nil && frame.kind == vbFrameMember {
		if first == "end" && len(words) > 1 {
			kw := strings.ToLower(words[1])
			if s.lambdas > 0 && (kw == "sub" || kw == "function") {
				s.lambdas--
				return
			}
			if kw == frame.keyword {
				s.stack = s.stack[:len(s.stack)-1]
				s.lambdas = 0
			}
			return
		}
		s.body(l, offset, frame.member)
		if vbLambdaHeader.MatchString(rest) {
			s.lambdas++
		}
		return
	}

	switch first {
	case "imports":
		s.imports(l, offset+len(words[0]))
		return
	case "option":
		return
	case "namespace":
		name := strings.TrimSpace(rest[len(words[0]):])
		if len(name) > 7 && strings.EqualFold(name[:7], "Global.") {
			name = name[7:]
		}
		ns := joinNamespace(s.namespace(), name)
		line, col := l.pos(offset)
		s.unit.Namespaces = append(s.unit.Namespaces, NamespaceDecl{Name: ns, Line: line, Column: col})
		s.stack = append(s.stack, vbFrame{kind: vbFrameNamespace, keyword: "namespace", namespace: ns})
		return
	case "end":
		if len(words) > 1 && len(s.stack) > 0 {
			kw := strings.ToLower(words[1])
			if s.top().keyword == kw {
				s.stack = s.stack[:len(s.stack)-1]
			}
		}
		s.attrs = nil
		return
	case "inherits", "implements":
		if frame := s.top(); frame != nil && frame.kind == vbFrameType {
			for _, b := range splitTopLevel(rest[len(words[0]):], ',') {
				frame.typ.BaseTypes = append(frame.typ.BaseTypes, b)
			}
		}
		return
	}

	s.declaration(idx, l, offset, rest)
	s.attrs = nil
}

func matchingAngle(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// parseVBAttributes reads names from an attribute block body such as
// "Extension(), Obsolete("x")" or "Assembly: ComVisible(False)".
func parseVBAttributes(body string) []string {
	var names []string
	for _, a := range splitTopLevel(body, ',') {
		if i := strings.IndexByte(a, ':'); i >= 0 && !strings.Contains(a[:i], "(") {
			a = a[i+1:]
		}
		if i := strings.IndexByte(a, '('); i >= 0 {
			a = a[:i]
		}
		if a = strings.TrimSpace(a); a != "" {
			names = append(names, a)
		}
	}
	return names
}

func (s *vbScanner) imports(l *vbLine, offset int) {
	clauses := l.raw[offset:]
	pos := offset
	for _, part := range strings.Split(clauses, ",") {
		text := strings.TrimSpace(part)
		at := pos + strings.Index(part, text)
		pos += len(part) + 1
		if text == "" || strings.HasPrefix(text, "<") {
			continue
		}
		u := Using{Scope: ""}
		if eq := strings.IndexByte(text, '='); eq > 0 {
			u.Alias = strings.TrimSpace(text[:eq])
			text = strings.TrimSpace(text[eq+1:])
		}
		if len(text) > 7 && strings.EqualFold(text[:7], "Global.") {
			text = text[7:]
		}
		u.Name = compactSpace(text)
		u.Line, u.Column = l.pos(at)
		s.unit.Usings = append(s.unit.Usings, u)
	}
}

// declaration handles a statement outside member bodies.
func (s *vbScanner) declaration(idx int, l *vbLine, offset int, rest string) {
	frame := s.top()
	var owner *TypeDecl
	if frame != nil && frame.kind == vbFrameType {
		owner = frame.typ
	}

	if owner != nil && owner.Kind == TypeKindEnum {
		s.enumMember(l, offset, rest, owner)
		return
	}

	words := strings.Fields(rest)
	var mods []string
	consumed := 0
	for _, w := range words {
		if !vbModifierWords[strings.ToLower(w)] {
			break
		}
		mods = append(mods, w)
		consumed++
	}
	if consumed == len(words) {
		return
	}
	keyword := strings.ToLower(words[consumed])
	tail := afterWords(rest, consumed+1)
	line, col := l.pos(offset)

	if kind, ok := vbBlockKeywords[keyword]; ok {
		s.typeDecl(kind, keyword, mods, tail, owner, line, col)
		return
	}
	if owner == nil {
		return
	}

	switch keyword {
	case "sub", "function", "operator":
		m := s.method(keyword, mods, tail, owner, line, col)
		if m == nil {
			return
		}
		if s.hasBody(owner, mods) {
			s.stack = append(s.stack, vbFrame{kind: vbFrameMember, keyword: keyword, member: m})
		}
	case "property":
		m := s.property(mods, tail, owner, line, col)
		if m != nil && s.hasBody(owner, mods) && s.propertyBlockFollows(idx) {
			s.stack = append(s.stack, vbFrame{kind: vbFrameMember, keyword: "property", member: m})
		}
	case "event":
		m := s.event(mods, tail, owner, line, col)
		if m != nil && hasModifier(mods, "custom") {
			s.stack = append(s.stack, vbFrame{kind: vbFrameMember, keyword: "event", member: m})
		}
	case "delegate":
		sig := parseVBSignature(afterWords(tail, 1))
		if sig.name == "" {
			return
		}
		s.addType(&TypeDecl{
			Name:       sig.name,
			Kind:       TypeKindDelegate,
			Modifiers:  mods,
			TypeParams: sig.typeParams,
			Line:       line,
			Column:     col,
		}, owner)
	case "declare":
		// P/Invoke declarations have no body.
		sig := parseVBSignature(afterDeclare(tail))
		if sig.name != "" {
			s.addMember(owner, &MemberDecl{
				Kind: schema.MemberKindMethod, Name: sig.name, Modifiers: mods,
				Type: sig.asType, Params: sig.params, IsStatic: true,
				Attributes: s.attrs, Line: line, Column: col,
			}, AccessPublic)
		}
	default:
		if consumed > 0 {
			s.fields(l, offset, mods, afterWords(rest, consumed), owner)
		}
	}
}

func (s *vbScanner) hasBody(owner *TypeDecl, mods []string) bool {
	return owner.Kind != TypeKindInterface && !hasModifier(mods, "mustoverride")
}

func (s *vbScanner) propertyBlockFollows(idx int) bool {
	if idx+1 >= len(s.lines) {
		return false
	}
	next := s.lines[idx+1].masked
	if i := strings.IndexByte(next, '>'); strings.HasPrefix(strings.TrimSpace(next), "<") && i > 0 {
		next = next[i+1:]
	}
	for _, w := range strings.Fields(next) {
		lw := strings.ToLower(w)
		if vbModifierWords[lw] {
			continue
		}
		return lw == "get" || lw == "set" || strings.HasPrefix(lw, "get(") || strings.HasPrefix(lw, "set(")
	}
	return false
}

func (s *vbScanner) typeDecl(kind TypeKind, keyword string, mods []string, tail string, owner *TypeDecl, line, col int) {
	sig := parseVBSignature(tail)
	if sig.name == "" {
		return
	}
	decl := &TypeDecl{
		Name:       sig.name,
		Kind:       kind,
		Modifiers:  mods,
		TypeParams: sig.typeParams,
		Attributes: s.attrs,
		Line:       line,
		Column:     col,
	}
	if kind == TypeKindEnum && sig.asType != "" {
		decl.BaseTypes = []string{sig.asType}
	}
	s.addType(decl, owner)
	s.stack = append(s.stack, vbFrame{kind: vbFrameType, keyword: keyword, namespace: decl.Namespace, typ: decl})
}

func (s *vbScanner) addType(decl *TypeDecl, owner *TypeDecl) {
	decl.Namespace = s.namespace()
	decl.Outer = owner
	def := AccessInternal
	if owner != nil {
		def = AccessPublic
	}
	decl.Access = resolveAccess(decl.Modifiers, def)
	s.unit.Types = append(s.unit.Types, decl)
}

func (s *vbScanner) method(keyword string, mods []string, tail string, owner *TypeDecl, line, col int) *MemberDecl {
	sig := parseVBSignature(tail)
	if sig.name == "" {
		return nil
	}
	m := &MemberDecl{
		Kind:       schema.MemberKindMethod,
		Name:       sig.name,
		Modifiers:  mods,
		Type:       sig.asType,
		TypeParams: sig.typeParams,
		Params:     sig.params,
		Attributes: s.attrs,
		Line:       line,
		Column:     col,
	}
	switch {
	case keyword == "sub" && strings.EqualFold(sig.name, "New"):
		m.Kind = schema.MemberKindConstructor
		m.Name = ".ctor"
		if hasModifier(mods, "shared") {
			m.Name = ".cctor"
		}
	case keyword == "sub":
		m.Type = "Void"
	case keyword == "operator":
		m.Name = vbOperatorName(sig.name, len(sig.params), mods)
	}
	if owner.Kind == TypeKindModule && len(m.Params) > 0 {
		for _, a := range m.Attributes {
			if a == "Extension" || strings.HasSuffix(a, ".Extension") || strings.HasSuffix(a, "ExtensionAttribute") {
				m.IsExtension = true
			}
		}
	}
	s.addMember(owner, m, AccessPublic)
	return m
}

func (s *vbScanner) property(mods []string, tail string, owner *TypeDecl, line, col int) *MemberDecl {
	sig := parseVBSignature(tail)
	if sig.name == "" {
		return nil
	}
	typ := sig.asType
	if strings.HasPrefix(strings.ToLower(typ), "new ") {
		typ = strings.TrimSpace(typ[4:])
		if i := strings.IndexByte(typ, '('); i > 0 && !strings.HasPrefix(strings.ToLower(strings.TrimSpace(typ[i+1:])), "of") {
			typ = typ[:i]
		}
	}
	m := &MemberDecl{
		Kind:       schema.MemberKindProperty,
		Name:       sig.name,
		Modifiers:  mods,
		Type:       typ,
		Params:     sig.params,
		Attributes: s.attrs,
		Line:       line,
		Column:     col,
	}
	s.addMember(owner, m, AccessPublic)
	return m
}

func (s *vbScanner) event(mods []string, tail string, owner *TypeDecl, line, col int) *MemberDecl {
	sig := parseVBSignature(tail)
	if sig.name == "" {
		return nil
	}
	typ := sig.asType
	if typ == "" {
		// Events declared with a parameter list get an implicit delegate.
		typ = sig.name + "EventHandler"
	}
	m := &MemberDecl{
		Kind:       schema.MemberKindEvent,
		Name:       sig.name,
		Modifiers:  mods,
		Type:       typ,
		Attributes: s.attrs,
		Line:       line,
		Column:     col,
	}
	s.addMember(owner, m, AccessPublic)
	return m
}

// fields handles "x As T", "x, y As T", "x As New T(...)" and "x = expr".
func (s *vbScanner) fields(l *vbLine, offset int, mods []string, decl string, owner *TypeDecl) {
	def := AccessPrivate
	if owner.Kind == TypeKindStruct {
		def = AccessPublic
	}
	kept := mods[:0:0]
	for _, m := range mods {
		if !strings.EqualFold(m, "Dim") {
			kept = append(kept, m)
		}
	}
	mods = kept
	line, col := l.pos(offset)
	var names []string
	for _, part := range splitTopLevel(decl, ',') {
		name, typ := splitVBDeclarator(part)
		if name == "" {
			continue
		}
		names = append(names, name)
		if typ == "" {
			continue
		}
		for _, n := range names {
			s.addMember(owner, &MemberDecl{
				Kind:       schema.MemberKindField,
				Name:       n,
				Modifiers:  mods,
				Type:       typ,
				Attributes: s.attrs,
				Line:       line,
				Column:     col,
			}, def)
		}
		names = names[:0]
	}
	for _, n := range names {
		s.addMember(owner, &MemberDecl{
			Kind: schema.MemberKindField, Name: n, Modifiers: mods, Type: "Object",
			Attributes: s.attrs, Line: line, Column: col,
		}, def)
	}
}

func (s *vbScanner) enumMember(l *vbLine, offset int, rest string, owner *TypeDecl) {
	name := rest
	if i := strings.IndexAny(name, " ="); i > 0 {
		name = name[:i]
	}
	name = strings.Trim(name, "[]")
	if name == "" {
		return
	}
	line, col := l.pos(offset)
	owner.Members = append(owner.Members, &MemberDecl{
		Kind:       schema.MemberKindField,
		Name:       name,
		Access:     AccessPublic,
		Type:       owner.Name,
		IsStatic:   true,
		Attributes: s.attrs,
		Line:       line,
		Column:     col,
	})
}

func (s *vbScanner) addMember(owner *TypeDecl, m *MemberDecl, def Accessibility) {
	if owner.Kind == TypeKindInterface {
		def = AccessPublic
	}
	m.Access = resolveAccess(m.Modifiers, def)
	m.IsStatic = m.IsStatic || owner.IsStatic() || hasModifier(m.Modifiers, "shared") || hasModifier(m.Modifiers, "const")
	owner.Members = append(owner.Members, m)
}

// body scans one statement inside a member body.
func (s *vbScanner) body(l *vbLine, offset int, m *MemberDecl) {
	rest := strings.TrimSpace(l.masked[offset:])
	words := strings.Fields(rest)
	if m.Kind == schema.MemberKindProperty || m.Kind == schema.MemberKindEvent {
		if s.accessor(words, m) {
			return
		}
	}
	switch strings.ToLower(words[0]) {
	case "dim", "static", "const":
		var pending []string
		for _, part := range splitTopLevel(afterWords(rest, 1), ',') {
			name, typ := splitVBDeclarator(part)
			if name == "" {
				continue
			}
			pending = append(pending, name)
			if typ == "" {
				continue
			}
			for _, n := range pending {
				s.addLocal(m, n, typ)
			}
			pending = pending[:0]
		}
	case "using":
		if name, typ := splitVBDeclarator(afterWords(rest, 1)); name != "" && typ != "" {
			s.addLocal(m, name, typ)
		}
	case "for":
		if len(words) > 2 && strings.EqualFold(words[1], "each") {
			clause := afterWords(rest, 2)
			if i := indexWordFold(clause, "In"); i > 0 {
				clause = clause[:i]
			}
			if name, typ := splitVBDeclarator(clause); name != "" && typ != "" {
				s.addLocal(m, name, typ)
			}
		}
	}
	for _, inv := range scanVBInvocations(l, offset) {
		if len(m.Invocations) >= MaxInvocationsPerMember {
			return
		}
		if inv.Receiver == "" && s.isLocalOrParam(m, inv.Name) {
			continue
		}
		m.Invocations = append(m.Invocations, inv)
	}
}

// accessor handles a Get, Set, AddHandler, RemoveHandler or RaiseEvent
// header inside a property or event block. A declared value parameter
// becomes a local; a Set without one gets the implicit Value.
func (s *vbScanner) accessor(words []string, m *MemberDecl) bool {
	i := 0
	for i < len(words)-1 && vbModifierWords[strings.ToLower(words[i])] {
		i++
	}
	header := strings.Join(words[i:], " ")
	kw := strings.ToLower(header)
	if p := strings.IndexAny(kw, "( "); p > 0 {
		kw = kw[:p]
	}
	switch kw {
	case "get", "set", "addhandler", "removehandler", "raiseevent":
	default:
		return false
	}
	tail := strings.TrimSpace(header[len(kw):])
	if tail != "" && tail[0] != '(' {
		return false
	}
	if end := strings.LastIndexByte(tail, ')'); end > 0 {
		if params := parseVBParams(tail[1:end]); len(params) > 0 {
			for _, p := range params {
				s.addLocal(m, p.Name, p.Type)
			}
			return true
		}
	}
	if kw == "set" {
		m.ValueAccessor = true
	}
	return true
}

func (s *vbScanner) addLocal(m *MemberDecl, name, typ string) {
	if m.Locals == nil {
		m.Locals = make(map[string]string)
	}
	m.Locals[name] = typ
}

func (s *vbScanner) isLocalOrParam(m *MemberDecl, name string) bool {
	for local := range m.Locals {
		if strings.EqualFold(local, name) {
			return true
		}
	}
	for _, p := range m.Params {
		if strings.EqualFold(p.Name, name) {
			return true
		}
	}
	return false
}

// vbSignature is a parsed declaration tail: Name(Of T)(params) As Type.
type vbSignature struct {
	name       string
	typeParams []string
	params     []Param
	asType     string
}

var vbClauseKeywords = regexp.MustCompile(`(?i)\s+(Implements|Handles)\s+.*$`)

func parseVBSignature(tail string) vbSignature {
	tail = vbClauseKeywords.ReplaceAllString(strings.TrimSpace(tail), "")
	var sig vbSignature
	i := 0
	if strings.HasPrefix(tail, "[") {
		end := strings.IndexByte(tail, ']')
		if end < 0 {
			return sig
		}
		sig.name = tail[1:end]
		i = end + 1
	} else {
		for i < len(tail) && isIdentRune(rune(tail[i])) {
			i++
		}
		sig.name = tail[:i]
	}
	rest := strings.TrimSpace(tail[i:])
	for strings.HasPrefix(rest, "(") {
		end := matchingParen(rest, 0)
		if end < 0 {
			break
		}
		inner := strings.TrimSpace(rest[1:end])
		if f := strings.Fields(inner); len(f) > 0 && strings.EqualFold(f[0], "Of") && sig.typeParams == nil {
			sig.typeParams = parseTypeParamList(rest[:end+1])
		} else {
			sig.params = parseVBParams(inner)
		}
		rest = strings.TrimSpace(rest[end+1:])
	}
	if len(rest) > 3 && strings.EqualFold(rest[:3], "As ") {
		sig.asType = strings.TrimSpace(rest[3:])
		if eq := topLevelIndex(sig.asType, '='); eq > 0 {
			sig.asType = strings.TrimSpace(sig.asType[:eq])
		}
	}
	return sig
}

func parseVBParams(inner string) []Param {
	var params []Param
	for _, part := range splitTopLevel(inner, ',') {
		var p Param
		for strings.HasPrefix(part, "<") {
			end := matchingAngle(part, 0)
			if end < 0 {
				break
			}
			part = strings.TrimSpace(part[end+1:])
		}
		if eq := topLevelIndex(part, '='); eq > 0 {
			p.HasDefault = true
			part = strings.TrimSpace(part[:eq])
		}
		words := strings.Fields(part)
		for len(words) > 0 {
			switch strings.ToLower(words[0]) {
			case "optional":
				p.HasDefault = true
			case "byval":
			case "byref":
				p.Modifier = "ref"
			case "paramarray":
				p.Modifier = "params"
			default:
				goto done
			}
			words = words[1:]
		}
	done:
		name, typ := splitVBDeclarator(strings.Join(words, " "))
		if name == "" {
			continue
		}
		if typ == "" {
			typ = "Object"
		}
		p.Name, p.Type = name, typ
		params = append(params, p)
	}
	return params
}

// splitVBDeclarator splits "name[()] As [New] T[(args)] [= value]" into the
// name and type. A declarator without As takes its type from a New
// expression initializer when present.
func splitVBDeclarator(decl string) (name, typ string) {
	decl = strings.TrimSpace(decl)
	init := ""
	if eq := topLevelIndex(decl, '='); eq > 0 {
		init = strings.TrimSpace(decl[eq+1:])
		decl = strings.TrimSpace(decl[:eq])
	}
	asAt := indexWordFold(decl, "As")
	head := decl
	if asAt >= 0 {
		head = strings.TrimSpace(decl[:asAt])
		typ = strings.TrimSpace(decl[asAt+2:])
	}
	arraySuffix := ""
	if i := strings.IndexByte(head, '('); i > 0 {
		arraySuffix = "(" + strings.Repeat(",", strings.Count(head[i:], ",")) + ")"
		head = head[:i]
	}
	name = strings.Trim(strings.TrimSpace(head), "[]")
	if name == "" || !isIdentRune(rune(name[0])) {
		return "", ""
	}
	if typ == "" && len(init) > 4 && strings.EqualFold(init[:4], "New ") {
		typ = init
	}
	if len(typ) > 4 && strings.EqualFold(typ[:4], "New ") {
		typ = stripConstructorArgs(strings.TrimSpace(typ[4:]))
	}
	if typ != "" {
		typ += arraySuffix
	}
	return name, typ
}

// stripConstructorArgs turns "List(Of Integer)(10)" into "List(Of Integer)"
// and "StringBuilder()" into "StringBuilder".
func stripConstructorArgs(s string) string {
	i := 0
	for i < len(s) && (isIdentRune(rune(s[i])) || s[i] == '.') {
		i++
	}
	out := s[:i]
	rest := s[i:]
	if strings.HasPrefix(rest, "(") {
		end := matchingParen(rest, 0)
		if end > 0 {
			inner := strings.TrimSpace(rest[1:end])
			if f := strings.Fields(inner); len(f) > 0 && strings.EqualFold(f[0], "Of") {
				out += rest[:end+1]
			}
		}
	}
	return out
}

func matchingParen(s string, start int) int {
	depth := 0
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func topLevelIndex(s string, c byte) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '{':
			depth++
		case ')', '}':
			depth--
		case c:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// indexWordFold finds word as a whole word, case-insensitively.
func indexWordFold(s, word string) int {
	ls, lw := strings.ToLower(s), strings.ToLower(word)
	from := 0
	for {
		i := strings.Index(ls[from:], lw)
		if i < 0 {
			return -1
		}
		i += from
		before := i == 0 || !isIdentRune(rune(s[i-1]))
		after := i+len(word) >= len(s) || !isIdentRune(rune(s[i+len(word)]))
		if before && after {
			return i
		}
		from = i + 1
	}
}

// afterWords returns s with its first n whitespace-separated words removed.
func afterWords(s string, n int) string {
	s = strings.TrimSpace(s)
	for ; n > 0; n-- {
		i := strings.IndexAny(s, " \t")
		if i < 0 {
			return ""
		}
		s = strings.TrimSpace(s[i:])
	}
	return s
}

// afterDeclare skips "[Ansi|Unicode|Auto] Sub|Function" in a Declare statement.
func afterDeclare(tail string) string {
	for _, w := range strings.Fields(tail) {
		lw := strings.ToLower(w)
		tail = afterWords(tail, 1)
		if lw == "sub" || lw == "function" {
			break
		}
	}
	if i := indexWordFold(tail, "Lib"); i > 0 {
		rest := tail[i:]
		if j := strings.IndexByte(rest, '('); j > 0 {
			tail = strings.TrimSpace(tail[:i]) + rest[j:]
		}
	}
	return tail
}

var vbOperatorNames = map[string]string{
	"+": "op_Addition", "-": "op_Subtraction", "*": "op_Multiply", "/": "op_Division",
	"\\": "op_IntegerDivision", "mod": "op_Modulus", "&": "op_Concatenate", "^": "op_Exponent",
	"=": "op_Equality", "<>": "op_Inequality", "<": "op_LessThan", ">": "op_GreaterThan",
	"<=": "op_LessThanOrEqual", ">=": "op_GreaterThanOrEqual", "and": "op_BitwiseAnd",
	"or": "op_BitwiseOr", "xor": "op_ExclusiveOr", "not": "op_OnesComplement",
	"istrue": "op_True", "isfalse": "op_False", "like": "op_Like",
	"<<": "op_LeftShift", ">>": "op_RightShift",
}

func vbOperatorName(symbol string, arity int, mods []string) string {
	switch {
	case strings.EqualFold(symbol, "CType") && hasModifier(mods, "widening"):
		return "op_Implicit"
	case strings.EqualFold(symbol, "CType"):
		return "op_Explicit"
	case arity == 1 && symbol == "-":
		return "op_UnaryNegation"
	case arity == 1 && symbol == "+":
		return "op_UnaryPlus"
	}
	if name, ok := vbOperatorNames[strings.ToLower(symbol)]; ok {
		return name
	}
	return "op_" + symbol
}

var vbNonCallWords = map[string]bool{
	"if": true, "ctype": true, "directcast": true, "trycast": true, "gettype": true,
	"nameof": true, "addressof": true, "new": true, "sub": true, "function": true,
	"cbool": true, "cbyte": true, "cchar": true, "cdate": true, "cdbl": true,
	"cdec": true, "cint": true, "clng": true, "cobj": true, "csbyte": true,
	"cshort": true, "csng": true, "cstr": true, "cuint": true, "culng": true,
	"cushort": true, "return": true, "not": true, "and": true, "or": true,
	"andalso": true, "orelse": true, "in": true, "is": true, "isnot": true,
	"throw": true, "of": true, "as": true, "dim": true, "while": true,
	"until": true, "select": true, "case": true, "elseif": true, "then": true,
	"each": true, "to": true, "step": true, "call": true, "await": true,
	"with": true, "synclock": true, "using": true, "typeof": true, "from": true,
	"where": true, "mod": true, "xor": true, "like": true, "else": true,
	"for": true, "do": true, "loop": true, "next": true, "exit": true,
	"continue": true, "end": true, "redim": true, "preserve": true, "erase": true,
	"raiseevent": true, "addhandler": true, "removehandler": true, "let": true,
	"byval": true, "byref": true, "try": true, "catch": true, "finally": true,
	"stop": true, "resume": true, "get": true, "set": true, "default": true,
	"me": true, "mybase": true, "myclass": true, "nothing": true, "true": true, "false": true,
}

var vbStatementCall = regexp.MustCompile(`^(?i:call\s+)?([A-Za-z_][\w]*(?:\.[A-Za-z_][\w]*)+|[A-Za-z_][\w]*)$`)

// scanVBInvocations finds call candidates in a body statement.
func scanVBInvocations(l *vbLine, offset int) []Invocation {
	masked := l.masked
	var out []Invocation

	stmt := strings.TrimSpace(masked[offset:])
	if m := vbStatementCall.FindStringSubmatch(stmt); m != nil {
		text := m[1]
		first := strings.ToLower(strings.SplitN(text, ".", 2)[0])
		selfAccess := first == "me" || first == "mybase" || first == "myclass"
		if !vbNonCallWords[first] || selfAccess && strings.Contains(text, ".") {
			at := offset + strings.Index(masked[offset:], text)
			receiver, name := SplitInvocationTarget(text)
			line, col := l.pos(at)
			return append(out, Invocation{Text: text, Receiver: receiver, Name: name, Line: line, Column: col})
		}
	}

	for i := offset; i < len(masked); i++ {
		c := rune(masked[i])
		if !(c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			continue
		}
		if i > 0 && isIdentRune(rune(masked[i-1])) {
			continue
		}
		end := i
		for end < len(masked) && isIdentRune(rune(masked[end])) {
			end++
		}
		name := masked[i:end]
		j := skipSpaces(masked, end)
		if vbNonCallWords[strings.ToLower(name)] || j >= len(masked) || masked[j] != '(' {
			i = end - 1
			continue
		}
		if prev := previousWord(masked, i); strings.EqualFold(prev, "New") || strings.EqualFold(prev, "As") || strings.EqualFold(prev, "Of") || strings.EqualFold(prev, "AddressOf") {
			i = end - 1
			continue
		}
		argOpen := j
		if isOfGroup(masked, j) {
			close := matchingParen(masked, j)
			if close < 0 {
				break
			}
			argOpen = skipSpaces(masked, close+1)
			if argOpen >= len(masked) || masked[argOpen] != '(' {
				i = close
				continue
			}
		}
		argClose := matchingParen(masked, argOpen)
		if argClose < 0 {
			break
		}
		start := receiverStart(masked, i)
		if masked[start] == '.' {
			// Member access on a With block target.
			i = end - 1
			continue
		}
		text := compactSpace(l.raw[start:end])
		if start < i && start >= 4 && strings.EqualFold(strings.TrimSpace(masked[start-4:start]), "New") {
			text = "New " + text
		}
		receiver, _ := SplitInvocationTarget(text)
		inv := Invocation{Text: text, Receiver: receiver, Name: name}
		inv.Arguments = splitArguments(l.raw[argOpen+1:argClose], masked[argOpen+1:argClose])
		inv.Line, inv.Column = l.pos(start)
		out = append(out, inv)
		i = end - 1
	}
	return out
}

func skipSpaces(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isOfGroup(s string, open int) bool {
	inner := strings.TrimSpace(s[open+1:])
	return len(inner) > 3 && strings.EqualFold(inner[:2], "Of") && (inner[2] == ' ' || inner[2] == '\t')
}

func previousWord(s string, i int) string {
	j := i - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t') {
		j--
	}
	end := j + 1
	for j >= 0 && isIdentRune(rune(s[j])) {
		j--
	}
	return s[j+1 : end]
}

// receiverStart walks back from a member name over a dotted chain that may
// include call argument lists.
func receiverStart(s string, nameStart int) int {
	i := nameStart
	for i > 0 && s[i-1] == '.' {
		j := i - 2
		for j >= 0 && (s[j] == ' ' || s[j] == '\t') {
			j--
		}
		if j < 0 || !(s[j] == ')' || isIdentRune(rune(s[j]))) {
			return i - 1
		}
		if s[j] == ')' {
			depth := 0
			for ; j >= 0; j-- {
				if s[j] == ')' {
					depth++
				} else if s[j] == '(' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			j--
		}
		for j >= 0 && isIdentRune(rune(s[j])) {
			j--
		}
		i = j + 1
	}
	return i
}

var _ Parser = (*VBParser)(nil)
