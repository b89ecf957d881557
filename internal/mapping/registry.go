package mapping

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Registry holds mappings keyed by institution code.
type Registry struct {
	mappings map[string]Mapping
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{mappings: make(map[string]Mapping)}
}

// Register validates and adds a mapping. Duplicate institutions are rejected.
func (r *Registry) Register(m Mapping) error {
	m = m.Normalized()
	if err := m.Validate(); err != nil {
		return err
	}
	if _, ok := r.mappings[m.Institution]; ok {
		return fmt.Errorf("duplicate mapping for institution %q", m.Institution)
	}
	r.mappings[m.Institution] = m
	return nil
}

// Get returns the mapping for an institution.
func (r *Registry) Get(institution string) (Mapping, bool) {
	m, ok := r.mappings[strings.ToLower(institution)]
	return m, ok
}

// Institutions lists registered institution codes in sorted order.
func (r *Registry) Institutions() []string {
	out := make([]string, 0, len(r.mappings))
	for k := range r.mappings {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Parse decodes one mapping document. JSON documents parse as YAML.
func Parse(data []byte) (Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Mapping{}, fmt.Errorf("parsing mapping: %w", err)
	}
	return m, nil
}

// LoadDir reads every *.yaml, *.yml and *.json document in dir into a Registry.
// Files whose name starts with "example" are templates and are skipped.
func LoadDir(dir string) (*Registry, error) {
	r := NewRegistry()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("reading mappings dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), "example") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading mapping %s: %w", e.Name(), err)
		}
		m, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := r.Register(m); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return r, nil
}
