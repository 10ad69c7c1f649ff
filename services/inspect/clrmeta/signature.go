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

import (
	"fmt"
	"strconv"
	"strings"
)

// ElementType is an ECMA-335 signature element type code (II.23.1.16).
type ElementType byte

const (
	ElemVoid        ElementType = 0x01
	ElemBoolean     ElementType = 0x02
	ElemChar        ElementType = 0x03
	ElemI1          ElementType = 0x04
	ElemU1          ElementType = 0x05
	ElemI2          ElementType = 0x06
	ElemU2          ElementType = 0x07
	ElemI4          ElementType = 0x08
	ElemU4          ElementType = 0x09
	ElemI8          ElementType = 0x0A
	ElemU8          ElementType = 0x0B
	ElemR4          ElementType = 0x0C
	ElemR8          ElementType = 0x0D
	ElemString      ElementType = 0x0E
	ElemPtr         ElementType = 0x0F
	ElemByRef       ElementType = 0x10
	ElemValueType   ElementType = 0x11
	ElemClass       ElementType = 0x12
	ElemVar         ElementType = 0x13
	ElemArray       ElementType = 0x14
	ElemGenericInst ElementType = 0x15
	ElemTypedByRef  ElementType = 0x16
	ElemI           ElementType = 0x18
	ElemU           ElementType = 0x19
	ElemFnPtr       ElementType = 0x1B
	ElemObject      ElementType = 0x1C
	ElemSzArray     ElementType = 0x1D
	ElemMVar        ElementType = 0x1E
	ElemCModReqd    ElementType = 0x1F
	ElemCModOpt     ElementType = 0x20
	ElemSentinel    ElementType = 0x41
	ElemPinned      ElementType = 0x45
)

// primitiveNames maps primitive element types to runtime full names.
var primitiveNames = map[ElementType]string{
	ElemVoid:       "System.Void",
	ElemBoolean:    "System.Boolean",
	ElemChar:       "System.Char",
	ElemI1:         "System.SByte",
	ElemU1:         "System.Byte",
	ElemI2:         "System.Int16",
	ElemU2:         "System.UInt16",
	ElemI4:         "System.Int32",
	ElemU4:         "System.UInt32",
	ElemI8:         "System.Int64",
	ElemU8:         "System.UInt64",
	ElemR4:         "System.Single",
	ElemR8:         "System.Double",
	ElemString:     "System.String",
	ElemTypedByRef: "System.TypedReference",
	ElemI:          "System.IntPtr",
	ElemU:          "System.UIntPtr",
	ElemObject:     "System.Object",
}

// PrimitiveFullName returns the runtime name of a primitive element type.
func PrimitiveFullName(e ElementType) (string, bool) {
	n, ok := primitiveNames[e]
	return n, ok
}

// TypeSig is a decoded type from a signature blob.
type TypeSig struct {
	Kind ElementType

	// Name is the full metadata name for class and value type references
	// and for the generic type of an instantiation.
	Name string

	// Elem is the element type of pointers, by-refs and arrays.
	Elem *TypeSig

	// Args are the type arguments of a generic instantiation.
	Args []*TypeSig

	// Rank is the rank of a general array.
	Rank int

	// Number is the index of a type (Var) or method (MVar) parameter.
	Number int

	// ParamName is the declared name of a Var/MVar when known.
	ParamName string
}

// FullName renders the type in canonical metadata spelling:
// System.Int32, System.Collections.Generic.List`1[System.String], T[], T[,],
// T&, T*, !0 for type parameters and !!0 for method parameters.
func (t *TypeSig) FullName() string {
	if t == nil {
		return ""
	}
	if n, ok := primitiveNames[t.Kind]; ok {
		return n
	}
	switch t.Kind {
	case ElemClass, ElemValueType:
		return t.Name
	case ElemGenericInst:
		args := make([]string, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.FullName()
		}
		return t.Name + "[" + strings.Join(args, ",") + "]"
	case ElemSzArray:
		return t.Elem.FullName() + "[]"
	case ElemArray:
		return t.Elem.FullName() + "[" + strings.Repeat(",", max(t.Rank-1, 0)) + "]"
	case ElemByRef:
		return t.Elem.FullName() + "&"
	case ElemPtr:
		return t.Elem.FullName() + "*"
	case ElemPinned:
		return t.Elem.FullName()
	case ElemVar:
		return "!" + strconv.Itoa(t.Number)
	case ElemMVar:
		return "!!" + strconv.Itoa(t.Number)
	case ElemFnPtr:
		return "method*"
	default:
		return fmt.Sprintf("<0x%02x>", byte(t.Kind))
	}
}

// DisplayName renders the simple name the runtime reports for the type:
// Int32, List`1, String[], T for generic parameters.
func (t *TypeSig) DisplayName() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case ElemSzArray:
		return t.Elem.DisplayName() + "[]"
	case ElemArray:
		return t.Elem.DisplayName() + "[" + strings.Repeat(",", max(t.Rank-1, 0)) + "]"
	case ElemByRef:
		return t.Elem.DisplayName() + "&"
	case ElemPtr:
		return t.Elem.DisplayName() + "*"
	case ElemPinned:
		return t.Elem.DisplayName()
	case ElemVar, ElemMVar:
		if t.ParamName != "" {
			return t.ParamName
		}
		return t.FullName()
	}
	name := t.FullName()
	if t.Kind == ElemGenericInst {
		name = t.Name
	}
	if i := strings.LastIndexAny(name, ".+"); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// IsGenericParameter reports whether the type is a type or method parameter.
func (t *TypeSig) IsGenericParameter() bool {
	return t != nil && (t.Kind == ElemVar || t.Kind == ElemMVar)
}

// MethodSig is a decoded MethodDefSig or PropertySig.
type MethodSig struct {
	HasThis           bool
	GenericParamCount int
	Return            *TypeSig
	Params            []*TypeSig
}

const (
	sigGeneric  = 0x10
	sigHasThis  = 0x20
	sigField    = 0x06
	sigProperty = 0x08

	maxSigDepth = 64
)

// typeResolver names a TypeDefOrRef target; TypeSpec targets are decoded
// by the signature reader itself.
type typeResolver interface {
	typeName(tab, row int) (name string, valueType bool)
	typeSpec(row int) []byte
}

type sigReader struct {
	b     []byte
	pos   int
	res   typeResolver
	depth int
}

func (r *sigReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("%w: signature truncated", ErrCorruptMetadata)
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *sigReader) uint() (uint32, error) {
	v, n, ok := decompress(r.b[r.pos:])
	if !ok {
		return 0, fmt.Errorf("%w: bad compressed integer in signature", ErrCorruptMetadata)
	}
	r.pos += n
	return v, nil
}

func (r *sigReader) peek() ElementType {
	if r.pos >= len(r.b) {
		return 0
	}
	return ElementType(r.b[r.pos])
}

// methodSig decodes a MethodDefSig or PropertySig.
func (r *sigReader) methodSig() (MethodSig, error) {
	var sig MethodSig
	conv, err := r.byte()
	if err != nil {
		return sig, err
	}
	sig.HasThis = conv&sigHasThis != 0
	if conv&sigGeneric != 0 {
		n, err := r.uint()
		if err != nil {
			return sig, err
		}
		sig.GenericParamCount = int(n)
	}
	count, err := r.uint()
	if err != nil {
		return sig, err
	}
	if sig.Return, err = r.typ(); err != nil {
		return sig, err
	}
	for i := 0; i < int(count); i++ {
		if r.peek() == ElemSentinel {
			r.pos++
		}
		p, err := r.typ()
		if err != nil {
			return sig, err
		}
		sig.Params = append(sig.Params, p)
	}
	return sig, nil
}

// fieldSig decodes a FieldSig.
func (r *sigReader) fieldSig() (*TypeSig, error) {
	c, err := r.byte()
	if err != nil {
		return nil, err
	}
	if c&0x0F != sigField {
		return nil, fmt.Errorf("%w: field signature 0x%02x", ErrCorruptMetadata, c)
	}
	return r.typ()
}

func (r *sigReader) typeDefOrRef() (string, bool, error) {
	coded, err := r.uint()
	if err != nil {
		return "", false, err
	}
	tab, row := decodeCoded(ciTypeDefOrRef, coded)
	if tab == tabTypeSpec {
		spec, err := r.nested(r.res.typeSpec(row))
		if err != nil {
			return "", false, err
		}
		return spec.FullName(), spec.Kind == ElemValueType, nil
	}
	name, vt := r.res.typeName(tab, row)
	return name, vt, nil
}

func (r *sigReader) nested(b []byte) (*TypeSig, error) {
	if r.depth >= maxSigDepth {
		return nil, fmt.Errorf("%w: signature nesting too deep", ErrCorruptMetadata)
	}
	sub := &sigReader{b: b, res: r.res, depth: r.depth + 1}
	return sub.typ()
}

// typ decodes one Type, skipping custom modifiers.
func (r *sigReader) typ() (*TypeSig, error) {
	r.depth++
	defer func() { r.depth-- }()
	if r.depth > maxSigDepth {
		return nil, fmt.Errorf("%w: signature nesting too deep", ErrCorruptMetadata)
	}
	for {
		k := r.peek()
		if k != ElemCModReqd && k != ElemCModOpt {
			break
		}
		r.pos++
		if _, err := r.uint(); err != nil {
			return nil, err
		}
	}
	c, err := r.byte()
	if err != nil {
		return nil, err
	}
	t := &TypeSig{Kind: ElementType(c)}
	if _, ok := primitiveNames[t.Kind]; ok {
		return t, nil
	}
	switch t.Kind {
	case ElemClass, ElemValueType:
		name, _, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		t.Name = name
	case ElemPtr, ElemByRef, ElemSzArray, ElemPinned:
		if t.Elem, err = r.typ(); err != nil {
			return nil, err
		}
	case ElemArray:
		if t.Elem, err = r.typ(); err != nil {
			return nil, err
		}
		rank, err := r.uint()
		if err != nil {
			return nil, err
		}
		t.Rank = int(rank)
		for _, part := range []string{"sizes", "bounds"} {
			n, err := r.uint()
			if err != nil {
				return nil, fmt.Errorf("array %s: %w", part, err)
			}
			for i := 0; i < int(n); i++ {
				if _, err := r.uint(); err != nil {
					return nil, err
				}
			}
		}
	case ElemGenericInst:
		if _, err := r.byte(); err != nil { // CLASS or VALUETYPE
			return nil, err
		}
		name, _, err := r.typeDefOrRef()
		if err != nil {
			return nil, err
		}
		t.Name = name
		n, err := r.uint()
		if err != nil {
			return nil, err
		}
		for i := 0; i < int(n); i++ {
			a, err := r.typ()
			if err != nil {
				return nil, err
			}
			t.Args = append(t.Args, a)
		}
	case ElemVar, ElemMVar:
		n, err := r.uint()
		if err != nil {
			return nil, err
		}
		t.Number = int(n)
	case ElemFnPtr:
		if _, err := r.methodSig(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unexpected element type 0x%02x", ErrCorruptMetadata, c)
	}
	return t, nil
}

// nameGenericParams fills ParamName on Var/MVar nodes from declared names.
func nameGenericParams(t *TypeSig, typeParams, methodParams []string) {
	if t == nil {
		return
	}
	switch t.Kind {
	case ElemVar:
		if t.Number < len(typeParams) {
			t.ParamName = typeParams[t.Number]
		}
	case ElemMVar:
		if t.Number < len(methodParams) {
			t.ParamName = methodParams[t.Number]
		}
	}
	nameGenericParams(t.Elem, typeParams, methodParams)
	for _, a := range t.Args {
		nameGenericParams(a, typeParams, methodParams)
	}
}
