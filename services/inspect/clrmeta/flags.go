// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clrmeta

import "strings"

// TypeAttributes are TypeDef flags (II.23.1.15).
type TypeAttributes uint32

const (
	TypeVisibilityMask    TypeAttributes = 0x07
	TypeNotPublic         TypeAttributes = 0x00
	TypePublic            TypeAttributes = 0x01
	TypeNestedPublic      TypeAttributes = 0x02
	TypeNestedPrivate     TypeAttributes = 0x03
	TypeNestedFamily      TypeAttributes = 0x04
	TypeNestedAssembly    TypeAttributes = 0x05
	TypeNestedFamANDAssem TypeAttributes = 0x06
	TypeNestedFamORAssem  TypeAttributes = 0x07
	TypeSequentialLayout  TypeAttributes = 0x08
	TypeExplicitLayout    TypeAttributes = 0x10
	TypeInterface         TypeAttributes = 0x20
	TypeAbstract          TypeAttributes = 0x80
	TypeSealed            TypeAttributes = 0x100
	TypeSpecialName       TypeAttributes = 0x400
	TypeRTSpecialName     TypeAttributes = 0x800
	TypeImport            TypeAttributes = 0x1000
	TypeSerializable      TypeAttributes = 0x2000
	TypeBeforeFieldInit   TypeAttributes = 0x100000
)

// Visibility returns the visibility bits.
func (a TypeAttributes) Visibility() TypeAttributes {
	return a & TypeVisibilityMask
}

var typeVisibilityNames = [...]string{
	"NotPublic", "Public", "NestedPublic", "NestedPrivate",
	"NestedFamily", "NestedAssembly", "NestedFamANDAssem", "NestedFamORAssem",
}

type flagName[T ~uint16 | ~uint32] struct {
	bit  T
	name string
}

func renderFlags[T ~uint16 | ~uint32](lead string, v T, names []flagName[T]) string {
	parts := make([]string, 0, 4)
	if lead != "" {
		parts = append(parts, lead)
	}
	for _, f := range names {
		if v&f.bit != 0 {
			parts = append(parts, f.name)
		}
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, ", ")
}

func (a TypeAttributes) String() string {
	layout := "AutoLayout"
	switch {
	case a&TypeExplicitLayout != 0:
		layout = "ExplicitLayout"
	case a&TypeSequentialLayout != 0:
		layout = "SequentialLayout"
	}
	semantics := "Class"
	if a&TypeInterface != 0 {
		semantics = "Interface"
	}
	return renderFlags(layout+", "+semantics+", "+typeVisibilityNames[a.Visibility()], a, []flagName[TypeAttributes]{
		{TypeAbstract, "Abstract"},
		{TypeSealed, "Sealed"},
		{TypeSpecialName, "SpecialName"},
		{TypeRTSpecialName, "RTSpecialName"},
		{TypeImport, "Import"},
		{TypeSerializable, "Serializable"},
		{TypeBeforeFieldInit, "BeforeFieldInit"},
	})
}

// MethodAttributes are MethodDef flags (II.23.1.10).
type MethodAttributes uint16

const (
	MethodAccessMask    MethodAttributes = 0x0007
	MethodPrivateScope  MethodAttributes = 0x0000
	MethodPrivate       MethodAttributes = 0x0001
	MethodFamANDAssem   MethodAttributes = 0x0002
	MethodAssembly      MethodAttributes = 0x0003
	MethodFamily        MethodAttributes = 0x0004
	MethodFamORAssem    MethodAttributes = 0x0005
	MethodPublic        MethodAttributes = 0x0006
	MethodStatic        MethodAttributes = 0x0010
	MethodFinal         MethodAttributes = 0x0020
	MethodVirtual       MethodAttributes = 0x0040
	MethodHideBySig     MethodAttributes = 0x0080
	MethodNewSlot       MethodAttributes = 0x0100
	MethodCheckAccess   MethodAttributes = 0x0200
	MethodAbstract      MethodAttributes = 0x0400
	MethodSpecialName   MethodAttributes = 0x0800
	MethodRTSpecialName MethodAttributes = 0x1000
	MethodPinvokeImpl   MethodAttributes = 0x2000
	MethodHasSecurity   MethodAttributes = 0x4000
	MethodRequireSecObj MethodAttributes = 0x8000
)

var memberAccessNames = [...]string{
	"PrivateScope", "Private", "FamANDAssem", "Assembly", "Family", "FamORAssem", "Public", "",
}

// Access returns the member access bits.
func (a MethodAttributes) Access() MethodAttributes {
	return a & MethodAccessMask
}

// IsPublic reports whether the method is callable outside its assembly by
// any caller.
func (a MethodAttributes) IsPublic() bool {
	return a.Access() == MethodPublic
}

func (a MethodAttributes) String() string {
	return renderFlags(memberAccessNames[a.Access()], a, []flagName[MethodAttributes]{
		{MethodStatic, "Static"},
		{MethodFinal, "Final"},
		{MethodVirtual, "Virtual"},
		{MethodHideBySig, "HideBySig"},
		{MethodNewSlot, "NewSlot"},
		{MethodCheckAccess, "CheckAccessOnOverride"},
		{MethodAbstract, "Abstract"},
		{MethodSpecialName, "SpecialName"},
		{MethodRTSpecialName, "RTSpecialName"},
		{MethodPinvokeImpl, "PinvokeImpl"},
		{MethodHasSecurity, "HasSecurity"},
		{MethodRequireSecObj, "RequireSecObject"},
	})
}

// FieldAttributes are Field flags (II.23.1.5).
type FieldAttributes uint16

const (
	FieldAccessMask      FieldAttributes = 0x0007
	FieldPublic          FieldAttributes = 0x0006
	FieldStatic          FieldAttributes = 0x0010
	FieldInitOnly        FieldAttributes = 0x0020
	FieldLiteral         FieldAttributes = 0x0040
	FieldNotSerialized   FieldAttributes = 0x0080
	FieldHasFieldRVA     FieldAttributes = 0x0100
	FieldSpecialName     FieldAttributes = 0x0200
	FieldRTSpecialName   FieldAttributes = 0x0400
	FieldHasFieldMarshal FieldAttributes = 0x1000
	FieldPinvokeImpl     FieldAttributes = 0x2000
	FieldHasDefault      FieldAttributes = 0x8000
)

// IsPublic reports whether the field is public.
func (a FieldAttributes) IsPublic() bool {
	return a&FieldAccessMask == FieldPublic
}

func (a FieldAttributes) String() string {
	return renderFlags(memberAccessNames[a&FieldAccessMask], a, []flagName[FieldAttributes]{
		{FieldStatic, "Static"},
		{FieldInitOnly, "InitOnly"},
		{FieldLiteral, "Literal"},
		{FieldNotSerialized, "NotSerialized"},
		{FieldHasFieldRVA, "HasFieldRVA"},
		{FieldSpecialName, "SpecialName"},
		{FieldRTSpecialName, "RTSpecialName"},
		{FieldHasFieldMarshal, "HasFieldMarshal"},
		{FieldPinvokeImpl, "PinvokeImpl"},
		{FieldHasDefault, "HasDefault"},
	})
}

// PropertyAttributes are Property flags (II.23.1.14).
type PropertyAttributes uint16

const (
	PropertySpecialName   PropertyAttributes = 0x0200
	PropertyRTSpecialName PropertyAttributes = 0x0400
	PropertyHasDefault    PropertyAttributes = 0x1000
)

func (a PropertyAttributes) String() string {
	return renderFlags("", a, []flagName[PropertyAttributes]{
		{PropertySpecialName, "SpecialName"},
		{PropertyRTSpecialName, "RTSpecialName"},
		{PropertyHasDefault, "HasDefault"},
	})
}

// EventAttributes are Event flags (II.23.1.4).
type EventAttributes uint16

const (
	EventSpecialName   EventAttributes = 0x0200
	EventRTSpecialName EventAttributes = 0x0400
)

func (a EventAttributes) String() string {
	return renderFlags("", a, []flagName[EventAttributes]{
		{EventSpecialName, "SpecialName"},
		{EventRTSpecialName, "RTSpecialName"},
	})
}

// Method semantics flags (II.23.1.12).
const (
	semSetter   = 0x0001
	semGetter   = 0x0002
	semOther    = 0x0004
	semAddOn    = 0x0008
	semRemoveOn = 0x0010
	semFire     = 0x0020
)
