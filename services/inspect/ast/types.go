// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast turns C# and Visual Basic source files into syntax-level
// declaration records: namespaces, using/imports clauses, type and member
// declarations, local variable types and invocation expressions.
//
// The records are purely syntactic. Resolving names against the rest of the
// scanned code base is the job of the index package.
package ast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// Parse limits.
const (
	// DefaultMaxFileSize is the largest source file a parser accepts (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize logs a warning for files above this size (1MB).
	WarnFileSize = 1024 * 1024

	// MaxWalkDepth bounds recursion into nested syntax.
	MaxWalkDepth = 200

	// MaxInvocationsPerMember prevents pathological members from exhausting memory.
	MaxInvocationsPerMember = 2000
)

// Language names.
const (
	LanguageCSharp = "csharp"
	LanguageVB     = "vb"
)

var (
	// ErrFileTooLarge is returned when content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned when content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// Parser extracts declarations from one source file.
//
// Implementations must be safe for concurrent use.
type Parser interface {
	// Parse extracts a Unit from content. filePath is the path relative to
	// the scan root using forward slashes.
	Parse(ctx context.Context, content []byte, filePath string) (*Unit, error)

	// Language returns the canonical language name.
	Language() string

	// Extensions returns the lower-case file extensions handled, with dot.
	Extensions() []string
}

// Accessibility is the resolved accessibility of a declaration after the
// language's defaults have been applied.
type Accessibility string

const (
	AccessPublic            Accessibility = "public"
	AccessProtected         Accessibility = "protected"
	AccessInternal          Accessibility = "internal"
	AccessProtectedInternal Accessibility = "protected internal"
	AccessPrivateProtected  Accessibility = "private protected"
	AccessPrivate           Accessibility = "private"
)

// TypeKind is the kind of a type declaration.
type TypeKind string

const (
	TypeKindClass     TypeKind = "class"
	TypeKindStruct    TypeKind = "struct"
	TypeKindInterface TypeKind = "interface"
	TypeKindEnum      TypeKind = "enum"
	TypeKindRecord    TypeKind = "record"
	TypeKindModule    TypeKind = "module"
	TypeKindDelegate  TypeKind = "delegate"
)

// IsValueType reports whether instances of the kind are value types.
func (k TypeKind) IsValueType() bool {
	return k == TypeKindStruct || k == TypeKindEnum
}

// Unit is the syntax-level content of one source file.
type Unit struct {
	FilePath      string
	Language      string
	Hash          string
	ParsedAtMilli int64

	// Usings holds every import clause in source order.
	Usings []Using

	// Namespaces holds every namespace declaration in source order, by full name.
	Namespaces []NamespaceDecl

	// Types holds every type declaration, nested types included, in source order.
	Types []*TypeDecl

	// Errors holds non-fatal syntax problems.
	Errors []string
}

// Using is one using directive (C#) or Imports statement (VB).
type Using struct {
	// Name is the imported name exactly as written.
	Name string

	// Alias is set for alias directives (using A = B.C).
	Alias string

	// Static is set for using static directives.
	Static bool

	// Scope is the full name of the namespace enclosing the directive, empty
	// at file level.
	Scope string

	Line   int
	Column int
}

// NamespaceDecl is one namespace declaration.
type NamespaceDecl struct {
	Name   string
	Line   int
	Column int
}

// TypeDecl is one class, struct, interface, enum, record or module.
type TypeDecl struct {
	Name       string
	Namespace  string
	Outer      *TypeDecl
	Kind       TypeKind
	Access     Accessibility
	Modifiers  []string
	TypeParams []string
	BaseTypes  []string
	Attributes []string
	Members    []*MemberDecl
	Line       int
	Column     int
}

// MetadataName returns the name with its generic arity suffix (List`1).
func (t *TypeDecl) MetadataName() string {
	if len(t.TypeParams) == 0 {
		return t.Name
	}
	return fmt.Sprintf("%s`%d", t.Name, len(t.TypeParams))
}

// ClassName returns the nesting path of plain names joined by '+'.
func (t *TypeDecl) ClassName() string {
	if t.Outer == nil {
		return t.Name
	}
	return t.Outer.ClassName() + "+" + t.Name
}

// MetadataClassName returns the nesting path of metadata names joined by '+'.
func (t *TypeDecl) MetadataClassName() string {
	if t.Outer == nil {
		return t.MetadataName()
	}
	return t.Outer.MetadataClassName() + "+" + t.MetadataName()
}

// FullName returns the metadata full name: Namespace.Outer`1+Inner.
func (t *TypeDecl) FullName() string {
	if t.Namespace == "" {
		return t.MetadataClassName()
	}
	return t.Namespace + "." + t.MetadataClassName()
}

// AllTypeParams returns the type parameters in scope for the type's members,
// outermost first. Nested types see their enclosing types' parameters.
func (t *TypeDecl) AllTypeParams() []string {
	if t.Outer == nil {
		return t.TypeParams
	}
	outer := t.Outer.AllTypeParams()
	all := make([]string, 0, len(outer)+len(t.TypeParams))
	all = append(all, outer...)
	return append(all, t.TypeParams...)
}

// IsStatic reports whether the type is static (C#) or a VB module.
func (t *TypeDecl) IsStatic() bool {
	return t.Kind == TypeKindModule || hasModifier(t.Modifiers, "static")
}

// Param is one formal parameter.
type Param struct {
	Name       string
	Type       string
	Modifier   string
	HasDefault bool
}

// MemberDecl is one method, constructor, property, field or event declaration.
type MemberDecl struct {
	Kind   schema.MemberKind
	Name   string
	Access Accessibility

	// Modifiers are the modifier keywords in source order, as written.
	Modifiers []string

	// Type is the return type (methods) or value type (properties, fields,
	// events) as written. Empty for constructors.
	Type string

	TypeParams []string
	Params     []Param
	Attributes []string

	// ExplicitInterface is set for explicit interface implementations.
	ExplicitInterface string

	// IsExtension is set for extension methods.
	IsExtension bool

	// IsStatic is resolved from modifiers and the containing type.
	IsStatic bool

	// Locals maps local variable names to their declared type text.
	Locals map[string]string

	// LocalFunctions are the local functions declared in the body.
	LocalFunctions []LocalFunction

	// ValueAccessor is set for properties and events with a set, init, add
	// or remove accessor whose value parameter is implicit.
	ValueAccessor bool

	Invocations []Invocation
	Line        int
	Column      int
}

// LocalFunction is a function declared inside a member body.
type LocalFunction struct {
	Name   string
	Type   string
	Params []Param
	Line   int
	Column int
}

// Invocation is one invocation expression inside a member.
type Invocation struct {
	// Text is the invoked expression without the argument list.
	Text string

	// Receiver is the expression before the final member access, empty for
	// simple-name calls.
	Receiver string

	// Name is the invoked member name without type arguments.
	Name string

	// Arguments holds each argument expression as written.
	Arguments []string

	Line   int
	Column int
}

// Location renders the invocation position as path:line:column.
func (i Invocation) Location(filePath string) string {
	return fmt.Sprintf("%s:%d:%d", filePath, i.Line, i.Column)
}

func hasModifier(mods []string, want string) bool {
	for _, m := range mods {
		if strings.EqualFold(m, want) {
			return true
		}
	}
	return false
}

// SplitInvocationTarget splits an invoked expression into receiver and member
// name at the last top-level member access. Null-conditional access is
// treated as plain member access and type arguments are dropped from the name.
func SplitInvocationTarget(text string) (receiver, name string) {
	text = compactSpace(text)
	text = strings.ReplaceAll(text, "?.", ".")
	text = strings.ReplaceAll(text, "!.", ".")

	depth := 0
	cut := -1
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case ')', ']', '>', '}':
			depth++
		case '(', '[', '<', '{':
			depth--
		case '.':
			if depth == 0 && cut < 0 {
				cut = i
			}
		}
		if cut >= 0 {
			break
		}
	}

	name = text
	if cut >= 0 {
		receiver = text[:cut]
		name = text[cut+1:]
	}
	if lt := strings.IndexByte(name, '<'); lt > 0 {
		name = name[:lt]
	}
	return receiver, name
}

// compactSpace removes whitespace except single spaces separating two
// identifier characters (new Foo).
func compactSpace(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	pendingSpace := false
	var prev rune
	for _, r := range s {
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && isIdentRune(prev) && isIdentRune(r) {
			sb.WriteByte(' ')
		}
		pendingSpace = false
		sb.WriteRune(r)
		prev = r
	}
	return sb.String()
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
