package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry holds workflow definitions by id, with validation on register,
// version history for re-registered definitions, and optional JSON file
// persistence. All operations are serialized.
type Registry struct {
	mu       sync.Mutex
	defs     map[string]*Definition
	versions map[string][]*Definition // superseded definitions, oldest first
	path     string                   // persistence file, empty = memory only
}

// NewRegistry creates an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]*Definition),
		versions: make(map[string][]*Definition),
	}
}

// NewFileRegistry creates a registry persisted to a JSON file, loading any
// definitions already stored there.
func NewFileRegistry(path string) (*Registry, error) {
	r := NewRegistry()
	r.path = path
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates and stores a definition. Re-registering an id keeps
// the previous definition in the version history and bumps the patch
// component of the version; re-registering an identical definition is a
// no-op. A definition with no version gets "1.0.0".
func (r *Registry) Register(def *Definition) error {
	if def == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if problems := def.Validate(); len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(problems, "; "))
	}

	clone, err := cloneDefinition(def)
	if err != nil {
		return err
	}
	if clone.Version == "" {
		clone.Version = "1.0.0"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.defs[clone.ID]; exists {
		if definitionsEqual(prev, clone) {
			return nil
		}
		r.versions[clone.ID] = append(r.versions[clone.ID], prev)
		clone.Version = bumpPatch(prev.Version)
	}
	r.defs[clone.ID] = clone
	return r.persist()
}

// Get returns the current definition for id, or ErrWorkflowNotFound.
func (r *Registry) Get(id string) (*Definition, error) {
	r.mu.Lock()
	def, ok := r.defs[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return cloneDefinition(def)
}

// List returns every registered definition, sorted by id.
func (r *Registry) List() []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		if clone, err := cloneDefinition(def); err == nil {
			out = append(out, clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Versions returns the superseded definitions for id, oldest first.
func (r *Registry) Versions(id string) []*Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[id]
	out := make([]*Definition, 0, len(history))
	for _, def := range history {
		if clone, err := cloneDefinition(def); err == nil {
			out = append(out, clone)
		}
	}
	return out
}

// Delete removes a definition and its version history.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(r.defs, id)
	delete(r.versions, id)
	return r.persist()
}

// registryFile is the on-disk persistence shape.
type registryFile struct {
	Definitions []*Definition `json:"definitions"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// persist writes the current definitions to the persistence file.
// Caller holds the lock. A memory-only registry is a no-op.
func (r *Registry) persist() error {
	if r.path == "" {
		return nil
	}
	file := registryFile{UpdatedAt: time.Now().UTC()}
	for _, def := range r.defs {
		file.Definitions = append(file.Definitions, def)
	}
	sort.Slice(file.Definitions, func(i, j int) bool {
		return file.Definitions[i].ID < file.Definitions[j].ID
	})
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write registry file: %w", err)
	}
	return nil
}

// load populates the registry from the persistence file. A missing file is
// an empty registry.
func (r *Registry) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry file: %w", err)
	}
	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse registry file: %w", err)
	}
	for _, def := range file.Definitions {
		r.defs[def.ID] = def
	}
	return nil
}

func cloneDefinition(def *Definition) (*Definition, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("marshal definition: %w", err)
	}
	var out Definition
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return &out, nil
}

// definitionsEqual compares definitions by canonical JSON.
func definitionsEqual(a, b *Definition) bool {
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(da) == string(db)
}
