// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify decides whether each invocation targets code owned by the
// scanned code base (internal) or a dependency (external), and turns
// classified calls into flat call records and call-graph edges.
package classify

import (
	"path"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/index"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

// IsInternal applies the internality rule: a target declared anywhere in
// the scanned source set is internal even when it also has a metadata
// declaration, and a target with no metadata declaration defaults to
// internal.
func IsInternal(hasSource, hasMetadata bool) bool {
	return hasSource || !hasMetadata
}

// Verdict is the classification of one invocation.
type Verdict struct {
	CallType   schema.CallType
	IsInternal bool

	// Target is the callee's Namespace.ClassName.MemberName, or the invoked
	// expression text when unresolved.
	Target string

	// TargetModule is the module declaring an external target.
	TargetModule string

	// Candidates is the number of members the invoked name matched.
	Candidates int
}

// Classify turns a resolution into a verdict. The first candidate stands in
// for ambiguous resolutions.
func Classify(inv ast.Invocation, res index.Resolution) Verdict {
	if !res.Resolved() {
		target := inv.Text
		if target == "" {
			target = inv.Name
		}
		return Verdict{
			CallType:   schema.CallTypeUnresolved,
			IsInternal: IsInternal(false, false),
			Target:     target,
		}
	}
	m := res.Member
	v := Verdict{
		IsInternal: IsInternal(m.HasSource(), m.HasMetadata()),
		Target:     m.ID(),
		Candidates: res.Candidates,
	}
	if v.IsInternal {
		v.CallType = schema.CallTypeInternal
	} else {
		v.CallType = schema.CallTypeExternal
		v.TargetModule = m.Module
	}
	return v
}

// Caller identifies the member an invocation appears in.
type Caller struct {
	Path      string
	Assembly  string
	Module    string
	Namespace string
	ClassName string
	Member    string
}

// NodeID returns the call-graph id of the calling member.
func (c Caller) NodeID() string {
	return schema.NodeID(c.Namespace, c.ClassName, c.Member)
}

// Call is one invocation with its classification.
type Call struct {
	Caller     Caller
	Invocation ast.Invocation

	// ArgumentTypes holds the static type of each argument, "?" when it
	// could not be typed.
	ArgumentTypes []string

	Verdict Verdict
}

// NewCall returns an unclassified call. Its CallType is Unknown until
// Classify is applied.
func NewCall(caller Caller, inv ast.Invocation) Call {
	return Call{Caller: caller, Invocation: inv, Verdict: Verdict{CallType: schema.CallTypeUnknown, IsInternal: true}}
}

// Classifier resolves and classifies invocations against one model.
//
// Thread Safety:
//
//	Safe for concurrent use; the model is read-only.
type Classifier struct {
	model *index.Model
}

// NewClassifier returns a classifier over model.
func NewClassifier(model *index.Model) *Classifier {
	return &Classifier{model: model}
}

// Classify resolves inv in scope s and returns the classified call.
func (c *Classifier) Classify(caller Caller, inv ast.Invocation, s *index.Scope) Call {
	call := NewCall(caller, inv)
	call.Verdict = Classify(inv, c.model.ResolveInvocation(inv, s))
	if len(inv.Arguments) > 0 {
		call.ArgumentTypes = make([]string, len(inv.Arguments))
		for i, arg := range inv.Arguments {
			t := c.model.ExpressionType(arg, s)
			if t == "" {
				t = "?"
			}
			call.ArgumentTypes[i] = t
		}
	}
	return call
}

// External reports whether the call is kept in the flat external-call list.
func (c *Call) External() bool {
	return c.Verdict.CallType == schema.CallTypeExternal
}

// Record renders the call as a flat call record.
func (c *Call) Record() schema.CallRecord {
	return schema.CallRecord{
		Path:           c.Caller.Path,
		FileName:       path.Base(c.Caller.Path),
		Assembly:       c.Caller.Assembly,
		Module:         c.Caller.Module,
		Namespace:      c.Caller.Namespace,
		ClassName:      c.Caller.ClassName,
		CalledMember:   c.Verdict.Target,
		TargetAssembly: c.Verdict.TargetModule,
		Line:           c.Invocation.Line,
		Column:         c.Invocation.Column,
		Arguments:      c.Invocation.Arguments,
		IsInternal:     c.Verdict.IsInternal,
	}
}

// Edge renders the call as a call-graph edge.
func (c *Call) Edge() schema.MethodCallEdge {
	return schema.MethodCallEdge{
		SourceID:            c.Caller.NodeID(),
		TargetID:            c.Verdict.Target,
		CallLocation:        c.Invocation.Location(c.Caller.Path),
		FileName:            path.Base(c.Caller.Path),
		IsInternal:          c.Verdict.IsInternal,
		CalledMemberName:    c.Invocation.Name,
		Arguments:           c.ArgumentTypes,
		ArgumentExpressions: c.Invocation.Arguments,
		CallType:            c.Verdict.CallType,
		TargetAssembly:      c.Verdict.TargetModule,
	}
}
