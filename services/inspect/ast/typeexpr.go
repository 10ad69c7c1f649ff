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
	"fmt"
	"strings"
	"unicode"
)

// TypeExpr is a parsed type reference as written in source.
//
// Description:
//
//	A dotted name is kept as a sequence of segments so each segment can carry
//	its own type arguments (Outer<int>.Inner<string>). Suffixes are applied
//	left to right: a nullable marker, pointer depth, then array ranks in the
//	order written.
//
//	Tuple types carry their element types in Tuple and have no segments.
type TypeExpr struct {
	Segments   []TypeSegment
	Tuple      []*TypeExpr
	Nullable   bool
	Pointer    int
	ArrayRanks []int
}

// TypeSegment is one dotted component of a type name.
type TypeSegment struct {
	Name string
	Args []*TypeExpr
}

// IsTuple reports whether the expression is a tuple type.
func (t *TypeExpr) IsTuple() bool {
	return len(t.Tuple) > 0
}

// Name returns the dotted name without type arguments.
func (t *TypeExpr) Name() string {
	parts := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		parts[i] = s.Name
	}
	return strings.Join(parts, ".")
}

// Arity returns the number of type arguments on the last segment.
func (t *TypeExpr) Arity() int {
	if len(t.Segments) == 0 {
		return 0
	}
	return len(t.Segments[len(t.Segments)-1].Args)
}

// String renders the expression in C# syntax.
func (t *TypeExpr) String() string {
	var sb strings.Builder
	if t.IsTuple() {
		sb.WriteByte('(')
		for i, e := range t.Tuple {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteByte(')')
	}
	for i, s := range t.Segments {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(s.Name)
		if len(s.Args) > 0 {
			sb.WriteByte('<')
			for j, a := range s.Args {
				if j > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(a.String())
			}
			sb.WriteByte('>')
		}
	}
	if t.Nullable {
		sb.WriteByte('?')
	}
	sb.WriteString(strings.Repeat("*", t.Pointer))
	for _, r := range t.ArrayRanks {
		sb.WriteByte('[')
		sb.WriteString(strings.Repeat(",", r-1))
		sb.WriteByte(']')
	}
	return sb.String()
}

// ParseTypeExpr parses a type reference written in the given language.
//
// Description:
//
//	Accepts C# syntax (List<int>, int[,], int?, (int a, string b),
//	global::System.String) and Visual Basic syntax (List(Of Integer),
//	Integer(), Global.System.String). Whitespace is ignored. Keywords are
//	matched case-insensitively for Visual Basic only.
//
// Outputs:
//
//	*TypeExpr - The parsed expression.
//	error - Non-nil if text is empty or malformed.
func ParseTypeExpr(text, language string) (*TypeExpr, error) {
	p := &typeExprParser{src: strings.TrimSpace(text), vb: language == LanguageVB}
	if p.src == "" {
		return nil, fmt.Errorf("empty type expression")
	}
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("unexpected %q at offset %d in type %q", p.src[p.pos:], p.pos, text)
	}
	return t, nil
}

type typeExprParser struct {
	src string
	pos int
	vb  bool
}

func (p *typeExprParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *typeExprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *typeExprParser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *typeExprParser) ident() string {
	p.skipSpace()
	start := p.pos
	if p.pos < len(p.src) && (p.src[p.pos] == '@' || p.src[p.pos] == '[' && p.vb) {
		p.pos++
	}
	for p.pos < len(p.src) {
		c := rune(p.src[p.pos])
		if c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) || c >= 0x80 {
			p.pos++
			continue
		}
		break
	}
	if p.vb && p.pos < len(p.src) && start < len(p.src) && p.src[start] == '[' && p.src[p.pos] == ']' {
		p.pos++
		return p.src[start+1 : p.pos-1]
	}
	return strings.TrimPrefix(p.src[start:p.pos], "@")
}

func (p *typeExprParser) parseType() (*TypeExpr, error) {
	var t *TypeExpr
	if !p.vb && p.peek() == '(' {
		p.pos++
		t = &TypeExpr{}
		for {
			el, err := p.parseType()
			if err != nil {
				return nil, err
			}
			t.Tuple = append(t.Tuple, el)
			// optional element name
			if c := p.peek(); c != ',' && c != ')' {
				p.ident()
			}
			if p.accept(',') {
				continue
			}
			if !p.accept(')') {
				return nil, fmt.Errorf("unterminated tuple type in %q", p.src)
			}
			break
		}
	} else {
		named, err := p.parseName()
		if err != nil {
			return nil, err
		}
		t = named
	}
	return t, p.parseSuffixes(t)
}

func (p *typeExprParser) parseName() (*TypeExpr, error) {
	t := &TypeExpr{}
	first := true
	for {
		name := p.ident()
		if name == "" {
			return nil, fmt.Errorf("expected type name at offset %d in %q", p.pos, p.src)
		}
		if first && !p.vb && strings.HasPrefix(p.src[p.pos:], "::") {
			// global:: and extern alias qualifiers carry no namespace.
			p.pos += 2
			continue
		}
		if first && p.vb && strings.EqualFold(name, "Global") && p.peek() == '.' {
			p.pos++
			first = false
			continue
		}
		first = false

		seg := TypeSegment{Name: name}
		args, err := p.parseTypeArgs()
		if err != nil {
			return nil, err
		}
		seg.Args = args
		t.Segments = append(t.Segments, seg)

		if p.peek() == '.' {
			p.pos++
			continue
		}
		return t, nil
	}
}

func (p *typeExprParser) parseTypeArgs() ([]*TypeExpr, error) {
	if p.vb {
		save := p.pos
		if !p.accept('(') {
			return nil, nil
		}
		if kw := p.ident(); !strings.EqualFold(kw, "Of") {
			p.pos = save
			return nil, nil
		}
		return p.parseArgList(')')
	}
	if !p.accept('<') {
		return nil, nil
	}
	return p.parseArgList('>')
}

func (p *typeExprParser) parseArgList(closer byte) ([]*TypeExpr, error) {
	var args []*TypeExpr
	for {
		// Unbound generic (List<> or Dictionary<,>).
		if c := p.peek(); c == ',' || c == closer {
			args = append(args, &TypeExpr{Segments: []TypeSegment{{Name: ""}}})
		} else {
			a, err := p.parseType()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		if p.accept(',') {
			continue
		}
		if !p.accept(closer) {
			return nil, fmt.Errorf("unterminated type argument list in %q", p.src)
		}
		return args, nil
	}
}

func (p *typeExprParser) parseSuffixes(t *TypeExpr) error {
	for {
		switch p.peek() {
		case '?':
			p.pos++
			t.Nullable = true
		case '*':
			if p.vb {
				return nil
			}
			p.pos++
			t.Pointer++
		case '[':
			if p.vb {
				return nil
			}
			rank, err := p.parseRank('[', ']')
			if err != nil {
				return err
			}
			t.ArrayRanks = append(t.ArrayRanks, rank)
		case '(':
			if !p.vb {
				return nil
			}
			rank, err := p.parseRank('(', ')')
			if err != nil {
				return err
			}
			t.ArrayRanks = append(t.ArrayRanks, rank)
		default:
			return nil
		}
	}
}

func (p *typeExprParser) parseRank(open, closer byte) (int, error) {
	if !p.accept(open) {
		return 0, fmt.Errorf("expected %q", open)
	}
	rank := 1
	for {
		switch p.peek() {
		case ',':
			p.pos++
			rank++
		case closer:
			p.pos++
			return rank, nil
		default:
			return 0, fmt.Errorf("malformed array rank in %q", p.src)
		}
	}
}
