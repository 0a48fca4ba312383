package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decode parses a plan from JSON or YAML. YAML is converted to JSON first so
// GeoJSON members decode through the same path.
func Decode(data []byte) (*Plan, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty plan")
	}
	if trimmed[0] != '{' {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		var err error
		if trimmed, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
	}

	var p Plan
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	p.normalize()
	return &p, nil
}

// Load reads a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if p.ID == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}

// Save writes the plan as YAML when path ends in .yaml/.yml, JSON otherwise.
func Save(path string, p *Plan) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		if data, err = yaml.Marshal(doc); err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// normalize fills layer ids from their map keys and defaults.
func (p *Plan) normalize() {
	for id, l := range p.Layers {
		if l.ID == "" {
			l.ID = id
		}
		if l.GeomType == "" {
			l.GeomType = GeomPoint
		}
		if l.LineStyle == "" {
			l.LineStyle = LineNormal
		}
		if l.Inventory != nil && l.Inventory.Kind == "" {
			l.Inventory.Kind = InventoryArea
		}
		p.Layers[id] = l
	}
}
