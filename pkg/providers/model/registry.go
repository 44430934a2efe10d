package model

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownModel is returned when a reference does not resolve to a model.
var ErrUnknownModel = errors.New("model: unknown model")

// Registry is a read-only set of model descriptors keyed by "provider/id".
// It is safe for concurrent use because it is never mutated after construction.
type Registry struct {
	models map[string]Model
}

// NewRegistry builds a registry from the given models. Later duplicates
// replace earlier ones.
func NewRegistry(models ...Model) (*Registry, error) {
	r := &Registry{models: make(map[string]Model, len(models))}
	for _, m := range models {
		if m.Provider == "" || m.ID == "" {
			return nil, fmt.Errorf("model: registry: provider and id are required (got %q)", m.Ref())
		}
		if m.Family != "" && !m.Family.Valid() {
			return nil, fmt.Errorf("model: registry: %s: unknown family %q", m.Ref(), m.Family)
		}
		r.models[m.Ref()] = m
	}
	return r, nil
}

// LoadRegistry reads a YAML list of models.
func LoadRegistry(r io.Reader) (*Registry, error) {
	var models []Model
	if err := yaml.NewDecoder(r).Decode(&models); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("model: parse registry: %w", err)
	}
	return NewRegistry(models...)
}

// Lookup resolves a "provider/id" reference.
func (r *Registry) Lookup(ref string) (Model, error) {
	if m, ok := r.models[ref]; ok {
		return m, nil
	}
	return Model{}, fmt.Errorf("%w %q", ErrUnknownModel, ref)
}

// Models returns all descriptors sorted by reference.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref() < out[j].Ref() })
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.models)
}
