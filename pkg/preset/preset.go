// Package preset keeps named request snapshots that can be executed later
// with per-call overrides.
package preset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/websyro/prismapilot/pkg/query"
)

// Registry stores presets by name. Saving an existing name overwrites it.
type Registry struct {
	mu      sync.RWMutex
	presets map[string]query.Request
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{presets: make(map[string]query.Request)}
}

// Save stores req under name.
func (r *Registry) Save(name string, req query.Request) error {
	if name == "" {
		return query.InvalidArgument("preset name is required")
	}
	r.mu.Lock()
	r.presets[name] = req.Clone()
	r.mu.Unlock()
	return nil
}

// Load returns a copy of the preset saved under name.
func (r *Registry) Load(name string) (query.Request, error) {
	r.mu.RLock()
	req, ok := r.presets[name]
	r.mu.RUnlock()
	if !ok {
		return query.Request{}, query.NotFound("preset %q", name)
	}
	return req.Clone(), nil
}

// Delete removes a preset and reports whether it existed.
func (r *Registry) Delete(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.presets[name]
	delete(r.presets, name)
	return ok
}

// Names returns the saved preset names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Resolve loads name and merges overrides over it. Overrides replace whole
// top-level request keys and are matched by their JSON names.
func (r *Registry) Resolve(name string, overrides map[string]any) (query.Request, error) {
	base, err := r.Load(name)
	if err != nil {
		return query.Request{}, err
	}
	if len(overrides) == 0 {
		return base, nil
	}
	return Merge(base, overrides)
}

// Execute resolves name with overrides and runs it.
func (r *Registry) Execute(ctx context.Context, runner query.Runner, name string, overrides map[string]any) (*query.Response, error) {
	req, err := r.Resolve(name, overrides)
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx, req)
}

// Merge overlays overrides on base one top-level key at a time. A nil
// override value clears the key.
func Merge(base query.Request, overrides map[string]any) (query.Request, error) {
	raw, err := json.Marshal(base)
	if err != nil {
		return query.Request{}, err
	}
	fields := make(map[string]any)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return query.Request{}, err
	}
	for k, v := range overrides {
		if v == nil {
			delete(fields, k)
			continue
		}
		fields[k] = v
	}
	return decode(fields)
}

func decode(fields map[string]any) (query.Request, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return query.Request{}, query.InvalidArgument("encode request: %v", err)
	}
	var req query.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return query.Request{}, query.InvalidArgument("decode request: %v", err)
	}
	return req, nil
}

// LoadFile saves every preset defined in a YAML or JSON file keyed by name.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read presets: %w", err)
	}
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse presets %s: %w", path, err)
	}
	for name, fields := range doc {
		req, err := decode(fields)
		if err != nil {
			return fmt.Errorf("preset %q: %w", name, err)
		}
		if err := r.Save(name, req); err != nil {
			return err
		}
	}
	return nil
}
