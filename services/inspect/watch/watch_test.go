// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"Program.cs", true},
		{"Module.VB", true},
		{"lib/Acme.dll", true},
		{"tool.exe", true},
		{"Acme.csproj", true},
		{"Legacy.vbproj", true},
		{"Form1.g.cs", false},
		{"README.md", false},
		{"obj/project.assets.json", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Relevant(tt.name))
		})
	}
}

func TestNew_Errors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.cs")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(file)
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = New(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = New(dir, WithExclude([]string{"["}))
	require.Error(t, err)
}

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir,
		WithDebounce(100*time.Millisecond),
		WithExclude([]string{"{obj,**/obj}"}),
		WithLogger(slog.New(slog.DiscardHandler)),
	)
	require.NoError(t, err)

	changes := make(chan []string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, paths []string) { changes <- paths })
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "App.cs"), []byte("class App {}"), 0o644))

	select {
	case got := <-changes:
		assert.Equal(t, []string{filepath.Join(dir, "App.cs")}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
