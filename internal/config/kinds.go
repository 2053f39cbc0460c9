package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"seedqc/internal/core"
	"seedqc/pkg/domain"
)

// KindsFile is the YAML document of per-kind descriptor overrides:
//
//	kinds:
//	  thousand_seed_weight:
//	    cv_limit: 4.5
//	  purity:
//	    dual_signoff: false
type KindsFile struct {
	Kinds map[domain.Kind]core.KindOverride `yaml:"kinds"`
}

// ParseKinds decodes a kinds override document.
func ParseKinds(data []byte) (KindsFile, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return KindsFile{}, fmt.Errorf("kinds: payload is empty")
	}
	var file KindsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return KindsFile{}, fmt.Errorf("kinds: decode: %w", err)
	}
	return file, nil
}

// LoadKindsFile reads and decodes the overrides at path.
func LoadKindsFile(path string) (KindsFile, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return KindsFile{}, fmt.Errorf("kinds: read %s: %w", path, err)
	}
	file, err := ParseKinds(content)
	if err != nil {
		return KindsFile{}, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Apply merges every override into registry in kind order. The first invalid
// override aborts; earlier ones stay applied.
func (f KindsFile) Apply(registry *core.KindRegistry) error {
	kinds := make([]domain.Kind, 0, len(f.Kinds))
	for k := range f.Kinds {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		if err := registry.Apply(k, f.Kinds[k]); err != nil {
			return fmt.Errorf("kinds: %w", err)
		}
	}
	return nil
}

// KindRegistry returns the built-in registry with the configured overrides applied.
func (c *Config) KindRegistry() (*core.KindRegistry, error) {
	registry := core.DefaultKindRegistry()
	if c.KindsFile == "" {
		return registry, nil
	}
	file, err := LoadKindsFile(c.KindsFile)
	if err != nil {
		return nil, err
	}
	if err := file.Apply(registry); err != nil {
		return nil, err
	}
	return registry, nil
}
