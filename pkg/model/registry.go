package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by Registry.Get when no descriptor is registered
// under the requested id.
var ErrNotFound = errors.New("model: descriptor not found")

// registryFile is the YAML on-disk shape for a statically declared catalog,
// mirroring the teacher's Config root-struct-plus-yaml-tags convention.
type registryFile struct {
	Models []Descriptor `yaml:"models"`
}

// Registry holds an in-memory, concurrency-safe catalog of model
// descriptors, optionally loaded once from a YAML file; there is no
// reload. New descriptors discovered after a download (with a metadata
// sidecar) are added with Put.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Descriptor
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Descriptor)}
}

// LoadRegistry reads a YAML catalog file and returns a populated Registry.
func LoadRegistry(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("model: open registry %q: %w", path, err)
	}
	defer f.Close()
	return LoadRegistryFromReader(f)
}

// LoadRegistryFromReader decodes a YAML catalog from r, validating every
// descriptor and rejecting duplicate ids.
func LoadRegistryFromReader(r io.Reader) (*Registry, error) {
	var rf registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, fmt.Errorf("model: decode registry yaml: %w", err)
	}

	reg := NewRegistry()
	for i, d := range rf.Models {
		validated, err := New(d)
		if err != nil {
			return nil, fmt.Errorf("model: registry entry %d: %w", i, err)
		}
		if _, exists := reg.byID[validated.ID]; exists {
			return nil, fmt.Errorf("model: registry entry %d: duplicate id %q", i, validated.ID)
		}
		reg.byID[validated.ID] = validated
	}
	return reg, nil
}

// Put registers or replaces a descriptor.
func (r *Registry) Put(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[d.ID] = d
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return d, nil
}

// All returns every registered descriptor. The returned slice is a copy;
// mutating it does not affect the registry.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out
}

// ByCapability returns every registered descriptor declaring cap.
func (r *Registry) ByCapability(cap Capability) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Descriptor
	for _, d := range r.byID {
		if d.HasCapability(cap) {
			out = append(out, d)
		}
	}
	return out
}
