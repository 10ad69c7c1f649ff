// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clrmeta reads type, member and assembly metadata from ECMA-335
// CLI images (.dll and .exe files produced by .NET compilers).
//
// Only the metadata tables needed to enumerate declarations are decoded:
// types, nesting, generic parameters, methods with their parameters and
// signatures, fields, properties, events, custom attribute types, and the
// assembly manifest. IL bodies are never read.
package clrmeta

import (
	"errors"
	"strings"
)

var (
	// ErrNotCLIImage is returned for files that are not PE images or carry
	// no CLI header.
	ErrNotCLIImage = errors.New("not a CLI image")

	// ErrCorruptMetadata is returned when metadata structures are truncated
	// or inconsistent.
	ErrCorruptMetadata = errors.New("corrupt metadata")
)

// Module is one loaded CLI module.
type Module struct {
	// FileName is the base name of the file the module was read from.
	FileName string

	// Name is the module name recorded in metadata.
	Name string

	// AssemblyName is empty for modules without a manifest.
	AssemblyName    string
	AssemblyVersion string

	// FileVersion comes from the Win32 version resource, empty when absent.
	FileVersion string

	// RuntimeVersion is the metadata version string (v4.0.30319).
	RuntimeVersion string

	Types        []*TypeDef
	AssemblyRefs []string

	// TypeRefs are the types the module references in other modules, in
	// TypeRef table order.
	TypeRefs []TypeRef
}

// TypeRef is one type referenced by a module.
type TypeRef struct {
	// FullName is the metadata full name, nested types joined by '+'.
	FullName string

	// Assembly names the referenced assembly when the outermost resolution
	// scope is an AssemblyRef.
	Assembly string
}

// Version returns the file version when present, the assembly version
// otherwise.
func (m *Module) Version() string {
	if m.FileVersion != "" {
		return m.FileVersion
	}
	return m.AssemblyVersion
}

// BaseName returns the file name without its extension.
func (m *Module) BaseName() string {
	name := m.FileName
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}

// TypeDef is one type defined in the module.
type TypeDef struct {
	Token            uint32
	Namespace        string
	Name             string
	Flags            TypeAttributes
	Extends          string
	Enclosing        *TypeDef
	GenericParams    []string
	CustomAttributes []string

	Methods    []*MethodDef
	Fields     []*FieldDef
	Properties []*PropertyDef
	Events     []*EventDef
}

// ClassName returns the nesting path of names joined by '+'.
func (t *TypeDef) ClassName() string {
	if t.Enclosing == nil {
		return t.Name
	}
	return t.Enclosing.ClassName() + "+" + t.Name
}

// FullName returns the metadata full name (Namespace.Outer+Inner).
func (t *TypeDef) FullName() string {
	ns := t.Namespace
	for e := t.Enclosing; e != nil; e = e.Enclosing {
		ns = e.Namespace
	}
	if ns == "" {
		return t.ClassName()
	}
	return ns + "." + t.ClassName()
}

// TopNamespace returns the namespace of the outermost enclosing type. Nested
// types carry an empty namespace in metadata.
func (t *TypeDef) TopNamespace() string {
	outer := t
	for outer.Enclosing != nil {
		outer = outer.Enclosing
	}
	return outer.Namespace
}

// IsExported reports whether the type is visible outside its assembly:
// public, or nested public/protected inside an exported type.
func (t *TypeDef) IsExported() bool {
	switch t.Flags.Visibility() {
	case TypePublic:
		return t.Enclosing == nil
	case TypeNestedPublic, TypeNestedFamily, TypeNestedFamORAssem:
		return t.Enclosing != nil && t.Enclosing.IsExported()
	default:
		return false
	}
}

// IsInterface reports whether the type is an interface.
func (t *TypeDef) IsInterface() bool {
	return t.Flags&TypeInterface != 0
}

// IsStatic reports whether the type is abstract and sealed, the encoding of
// C# static classes and VB modules.
func (t *TypeDef) IsStatic() bool {
	return t.Flags&TypeAbstract != 0 && t.Flags&TypeSealed != 0
}

// IsValueType reports whether the type derives from System.ValueType or
// System.Enum.
func (t *TypeDef) IsValueType() bool {
	return t.Extends == "System.ValueType" || t.Extends == "System.Enum"
}

// HasAttribute reports whether a custom attribute with the given full name
// is applied.
func (t *TypeDef) HasAttribute(fullName string) bool {
	return containsString(t.CustomAttributes, fullName)
}

// MethodDef is one method defined on a type.
type MethodDef struct {
	Token            uint32
	Name             string
	Flags            MethodAttributes
	ImplFlags        uint16
	Signature        MethodSig
	ParamNames       []string
	GenericParams    []string
	CustomAttributes []string

	// Accessor is set for property and event accessor methods.
	Accessor bool
}

// IsExtension reports whether the method carries ExtensionAttribute.
func (m *MethodDef) IsExtension() bool {
	return containsString(m.CustomAttributes, ExtensionAttribute)
}

// IsConstructor reports whether the method is an instance or type initializer.
func (m *MethodDef) IsConstructor() bool {
	return m.Name == ".ctor" || m.Name == ".cctor"
}

// FieldDef is one field defined on a type.
type FieldDef struct {
	Token            uint32
	Name             string
	Flags            FieldAttributes
	Type             *TypeSig
	CustomAttributes []string
}

// PropertyDef is one property defined on a type.
type PropertyDef struct {
	Token            uint32
	Name             string
	Flags            PropertyAttributes
	Type             *TypeSig
	Params           []*TypeSig
	Getter           *MethodDef
	Setter           *MethodDef
	CustomAttributes []string
}

// Accessors returns the getter and setter that exist.
func (p *PropertyDef) Accessors() []*MethodDef {
	return nonNil(p.Getter, p.Setter)
}

// EventDef is one event defined on a type.
type EventDef struct {
	Token            uint32
	Name             string
	Flags            EventAttributes
	Type             *TypeSig
	Adder            *MethodDef
	Remover          *MethodDef
	CustomAttributes []string
}

// Accessors returns the add and remove methods that exist.
func (e *EventDef) Accessors() []*MethodDef {
	return nonNil(e.Adder, e.Remover)
}

// ExtensionAttribute marks extension methods and the types declaring them.
const ExtensionAttribute = "System.Runtime.CompilerServices.ExtensionAttribute"

func nonNil(ms ...*MethodDef) []*MethodDef {
	var out []*MethodDef
	for _, m := range ms {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
