package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// yaml-представление каталога схем; см. ParseYAML.
type yamlCatalog struct {
	Module   string       `yaml:"module"`
	Entities []yamlEntity `yaml:"entities"`
}

type yamlEntity struct {
	Name            string         `yaml:"name"`
	IDProperty      string         `yaml:"id_property"`
	DisplayProperty string         `yaml:"display_property"`
	Properties      []yamlProperty `yaml:"properties"`
	Sorters         []yamlSorter   `yaml:"sorters"`
}

type yamlProperty struct {
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"`
	Mapping   string            `yaml:"mapping"`
	Depends   []string          `yaml:"depends"`
	Enum      []string          `yaml:"enum"`
	AllowNull bool              `yaml:"allow_null"`
	Sortable  bool              `yaml:"sortable"`
	Unique    bool              `yaml:"unique"`
	Required  bool              `yaml:"required"`
	Default   string            `yaml:"default"`
	Pattern   string            `yaml:"pattern"`
	Options   map[string]string `yaml:"options"`
}

type yamlSorter struct {
	Property string `yaml:"property"`
	Desc     bool   `yaml:"desc"`
}

// ParseYAML разбирает yaml-каталог схем (альтернатива DSL-формату).
func ParseYAML(data []byte) ([]*Schema, error) {
	var cat yamlCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, err
	}
	var schemas []*Schema
	for _, e := range cat.Entities {
		s := &Schema{
			Module:          cat.Module,
			Name:            e.Name,
			IDProperty:      e.IDProperty,
			DisplayProperty: e.DisplayProperty,
		}
		for _, p := range e.Properties {
			opts := p.Options
			if opts == nil {
				opts = map[string]string{}
			}
			s.Properties = append(s.Properties, PropertyDef{
				Name:      p.Name,
				Type:      strings.ToLower(p.Type),
				Mapping:   p.Mapping,
				Depends:   p.Depends,
				Enum:      p.Enum,
				AllowNull: p.AllowNull,
				Sortable:  p.Sortable,
				Unique:    p.Unique,
				Required:  p.Required,
				Default:   p.Default,
				Pattern:   p.Pattern,
				Options:   opts,
			})
		}
		for _, srt := range e.Sorters {
			s.Sorters = append(s.Sorters, SorterDef{Property: srt.Property, Desc: srt.Desc})
		}
		s.normalize()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// LoadYAMLCatalog читает все yaml-каталоги схем из папки.
func LoadYAMLCatalog(dir string) (map[string]*Schema, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]*Schema)
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		schemas, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		for _, s := range schemas {
			if _, exists := result[s.FQN()]; exists {
				return nil, fmt.Errorf("duplicate entity %q in module %q (file: %s)", s.Name, s.Module, name)
			}
			result[s.FQN()] = s
		}
	}
	return result, nil
}
