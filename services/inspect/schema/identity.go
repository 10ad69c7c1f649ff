// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// NodeID formats the call-graph id Namespace.ClassName.MemberName, skipping
// empty segments. It is not unique across overloads.
func NodeID(namespace, className, member string) string {
	return joinNonEmpty(".", namespace, className, member)
}

// SignatureParts are the inputs of a canonical signature. All type names must
// already be in canonical runtime form (see CanonicalSignature).
type SignatureParts struct {
	Namespace    string
	ClassName    string
	MemberName   string
	GenericArity int
	ParamTypes   []string
	ReturnType   string
}

// CanonicalSignature renders the correlation identity of a member:
//
//	Namespace.ClassName.MemberName[<GenericArity>](ParamType1,ParamType2,...):ReturnType
//
// Type names use metadata spelling: arity suffixes (List`1), '+' for nested
// types, instantiations as Name`N[Arg,...], !n / !!n for type and method
// type parameters. The arity segment is present only for generic members.
func CanonicalSignature(p SignatureParts) string {
	var sb strings.Builder
	sb.WriteString(joinNonEmpty(".", p.Namespace, p.ClassName, p.MemberName))
	if p.GenericArity > 0 {
		sb.WriteByte('<')
		sb.WriteString(strconv.Itoa(p.GenericArity))
		sb.WriteByte('>')
	}
	sb.WriteByte('(')
	sb.WriteString(strings.Join(p.ParamTypes, ","))
	sb.WriteString("):")
	sb.WriteString(p.ReturnType)
	return sb.String()
}

// TitleCase upper-cases the first letter of s.
//
// Example:
//
//	TitleCase("public") // "Public"
//	TitleCase("int")    // "Int"
func TitleCase(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// JoinModifiers title-cases each modifier keyword and joins them with ", "
// in the given order.
func JoinModifiers(mods []string) string {
	if len(mods) == 0 {
		return ""
	}
	out := make([]string, 0, len(mods))
	for _, m := range mods {
		if m == "" {
			continue
		}
		out = append(out, TitleCase(m))
	}
	return strings.Join(out, ", ")
}

func joinNonEmpty(sep string, parts ...string) string {
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(p)
	}
	return sb.String()
}
