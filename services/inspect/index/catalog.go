// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInspect/services/inspect/schema"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog lists framework types known without loading their modules.
type Catalog struct {
	Assemblies []CatalogAssembly `yaml:"assemblies"`
}

// CatalogAssembly groups catalog types by the module that defines them.
type CatalogAssembly struct {
	Name       string        `yaml:"name"`
	Namespaces []string      `yaml:"namespaces"`
	Types      []CatalogType `yaml:"types"`
}

// CatalogType is one framework type. Name is the metadata full name.
type CatalogType struct {
	Name      string          `yaml:"name"`
	ValueType bool            `yaml:"valueType"`
	Interface bool            `yaml:"interface"`
	Static    bool            `yaml:"static"`
	Bases     []string        `yaml:"bases"`
	Extends   string          `yaml:"extends"`
	Members   []CatalogMember `yaml:"members"`
}

// CatalogMember is one framework member with a known result type.
type CatalogMember struct {
	Name      string            `yaml:"name"`
	Kind      schema.MemberKind `yaml:"kind"`
	Returns   string            `yaml:"returns"`
	Static    bool              `yaml:"static"`
	Extension bool              `yaml:"extension"`
}

var (
	defaultCatalogOnce sync.Once
	defaultCatalog     *Catalog
	defaultCatalogErr  error
)

// DefaultCatalog returns the built-in framework catalog. The result is
// shared and must not be modified.
func DefaultCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(defaultCatalogYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	for ai, a := range c.Assemblies {
		if a.Name == "" {
			return nil, fmt.Errorf("parsing catalog: assembly %d has no name", ai)
		}
		for ti, t := range a.Types {
			if t.Name == "" {
				return nil, fmt.Errorf("parsing catalog: %s type %d has no name", a.Name, ti)
			}
			for mi := range t.Members {
				if t.Members[mi].Kind == "" {
					c.Assemblies[ai].Types[ti].Members[mi].Kind = schema.MemberKindMethod
				}
			}
		}
	}
	return &c, nil
}
