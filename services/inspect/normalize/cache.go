// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/AleutianInspect/services/inspect/clrmeta"
)

// DefaultReferenceCacheSize is the number of modules kept when no size is
// configured.
const DefaultReferenceCacheSize = 256

// ReferenceCache keeps loaded modules across requests, keyed by absolute
// path, size and modification time so a rebuilt module is reloaded.
//
// Thread Safety:
//
//	Safe for concurrent use. Cached modules are shared and must be treated
//	as read-only.
type ReferenceCache struct {
	cache *lru.Cache[string, *clrmeta.Module]
}

// NewReferenceCache returns a cache holding at most size modules.
func NewReferenceCache(size int) (*ReferenceCache, error) {
	if size <= 0 {
		size = DefaultReferenceCacheSize
	}
	c, err := lru.New[string, *clrmeta.Module](size)
	if err != nil {
		return nil, fmt.Errorf("creating reference cache: %w", err)
	}
	return &ReferenceCache{cache: c}, nil
}

// Load returns the module at path, reading it on a cache miss.
func (c *ReferenceCache) Load(path string) (*clrmeta.Module, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s|%d|%d", abs, info.Size(), info.ModTime().UnixNano())
	if m, ok := c.cache.Get(key); ok {
		return m, nil
	}
	m, err := clrmeta.Open(abs)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, m)
	return m, nil
}

// Len returns the number of cached modules.
func (c *ReferenceCache) Len() int {
	return c.cache.Len()
}

// Purge drops every cached module.
func (c *ReferenceCache) Purge() {
	c.cache.Purge()
}
