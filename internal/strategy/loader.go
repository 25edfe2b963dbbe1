package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type strategyFile struct {
	Strategies []Definition `yaml:"strategies"`
}

// LoadFile reads strategy definitions from a YAML file. Every definition is
// validated before any is returned, so a bad file loads nothing.
func LoadFile(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	var f strategyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse strategy file %s: %w", path, err)
	}
	if len(f.Strategies) == 0 {
		return nil, fmt.Errorf("strategy file %s defines no strategies", path)
	}
	seen := make(map[string]struct{}, len(f.Strategies))
	for i := range f.Strategies {
		d := &f.Strategies[i]
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("duplicate strategy id %q", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return f.Strategies, nil
}
