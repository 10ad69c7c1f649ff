// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInspect/services/inspect/ast"
	"github.com/AleutianAI/AleutianInspect/services/inspect/classify"
	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
	"github.com/AleutianAI/AleutianInspect/services/inspect/normalize"
	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

func TestRunOrdered_EmitsInIndexOrder(t *testing.T) {
	const n = 20
	var order []int
	err := RunOrdered(context.Background(), n, 4,
		func(_ context.Context, i int) (int, error) {
			// Later items finish first.
			time.Sleep(time.Duration(n-i) * time.Millisecond)
			return i * i, nil
		},
		func(i, v int, err error) {
			require.NoError(t, err)
			assert.Equal(t, i*i, v)
			order = append(order, i)
		})
	require.NoError(t, err)

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, order)
}

func TestRunOrdered_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	err := RunOrdered(context.Background(), 30, 3,
		func(_ context.Context, i int) (struct{}, error) {
			cur := inFlight.Add(1)
			for {
				p := peak.Load()
				if cur <= p || peak.CompareAndSwap(p, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return struct{}{}, nil
		},
		func(int, struct{}, error) {})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Positive(t, peak.Load())
}

func TestRunOrdered_FailuresAreNotFatal(t *testing.T) {
	boom := errors.New("boom")
	errs := make(map[int]error)
	var emitted int
	err := RunOrdered(context.Background(), 5, 2,
		func(_ context.Context, i int) (string, error) {
			switch i {
			case 1:
				return "", boom
			case 3:
				panic("bad unit")
			}
			return "ok", nil
		},
		func(i int, _ string, err error) {
			emitted++
			if err != nil {
				errs[i] = err
			}
		})
	require.NoError(t, err)
	assert.Equal(t, 5, emitted)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[1], boom)
	assert.Contains(t, errs[3].Error(), "bad unit")
}

func TestRunOrdered_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunOrdered(ctx, 10, 2, func(context.Context, int) (int, error) { return 0, nil }, func(int, int, error) {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunOrdered_Empty(t *testing.T) {
	called := false
	err := RunOrdered(context.Background(), 0, 0, func(context.Context, int) (int, error) { return 0, nil },
		func(int, int, error) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
}

func binaryResult(file, module string, namespaces ...string) *normalize.Result {
	r := &normalize.Result{
		File:         discover.File{RelPath: file, Kind: discover.KindBinary},
		Assembly:     &schema.AssemblyInformation{Name: module, Version: "1.0.0.0"},
		AssemblyName: module,
	}
	for _, ns := range namespaces {
		r.Namespaces = append(r.Namespaces, schema.NamespaceEntry{Module: file, Name: ns})
	}
	return r
}

func TestMerger_Namespaces(t *testing.T) {
	m := NewMerger()
	assert.Equal(t, []schema.NamespaceEntry{}, m.Namespaces())

	m.Add(binaryResult("A.dll", "A", "Acme", "Acme.Core", "Acme"))
	m.Add(binaryResult("B.dll", "B", "Acme"))
	m.Add(binaryResult("A.dll", "A", "Acme.Core"))

	assert.Equal(t, []schema.NamespaceEntry{
		{Module: "A.dll", Name: "Acme"},
		{Module: "A.dll", Name: "Acme.Core"},
		{Module: "B.dll", Name: "Acme"},
	}, m.Namespaces())
}

func TestMerger_Members(t *testing.T) {
	m := NewMerger()

	first := binaryResult("bin/A.dll", "A")
	first.Assembly.Version = "1.0.0.0"
	second := binaryResult("other/A.dll", "A")
	second.Assembly.Version = "2.0.0.0"
	m.Add(first)
	m.Add(second)

	src := &normalize.Result{
		File: discover.File{RelPath: "src/Worker.cs", Kind: discover.KindCSharp},
		Members: []schema.MemberRecord{
			{Kind: schema.MemberKindMethod, Namespace: "Acme", ClassName: "Worker", Name: "Run", Signature: "Acme.Worker.Run():System.Void", Origin: schema.OriginSource},
		},
		Dependencies: []schema.Dependency{{Name: "System"}},
	}
	caller := classify.Caller{Path: "src/Worker.cs", Namespace: "Acme", ClassName: "Worker", Member: "Run"}
	ext := classify.NewCall(caller, ast.Invocation{Text: "Console.WriteLine", Name: "WriteLine", Line: 3, Column: 5})
	ext.Verdict = classify.Verdict{CallType: schema.CallTypeExternal, Target: "System.Console.WriteLine", TargetModule: "System.Console"}
	in := classify.NewCall(caller, ast.Invocation{Text: "Run", Name: "Run", Line: 4, Column: 5})
	in.Verdict = classify.Verdict{CallType: schema.CallTypeInternal, IsInternal: true, Target: "Acme.Worker.Run"}
	src.Calls = []classify.Call{ext, in}
	m.Add(src)
	m.Add(nil)

	p, corr := m.Members(context.Background())
	assert.Equal(t, []schema.AssemblyInformation{{Name: "A", Version: "1.0.0.0"}}, p.AssemblyInformation)
	assert.Len(t, p.Methods, 1)
	assert.Len(t, p.Dependencies, 1)

	require.Len(t, p.MethodCalls, 1)
	assert.Equal(t, "System.Console.WriteLine", p.MethodCalls[0].CalledMember)

	assert.Len(t, p.CallGraph.Nodes, 1)
	assert.Len(t, p.CallGraph.Edges, 2)

	require.Len(t, p.SourceAssemblyMapping, 1)
	assert.False(t, p.SourceAssemblyMapping[0].IsMapped)
	assert.Equal(t, 1, corr.Unmapped)

	stats := m.Stats()
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 1, stats.Members)
	assert.Equal(t, 1, stats.Calls[schema.CallTypeExternal])
	assert.Equal(t, 1, stats.Calls[schema.CallTypeInternal])
	assert.Equal(t, 1, m.Graph().NodeCount())
}

func TestMerger_EmptyPayload(t *testing.T) {
	p, _ := NewMerger().Members(context.Background())
	assert.Equal(t, schema.NewMembersPayload(), p)
}
