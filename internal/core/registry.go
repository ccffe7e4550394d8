package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/rowgraph/internal/schema"
)

// TemplateRegistry holds the default template of each entity type. It is a
// TemplateSource, so nested templates can inherit from it with null.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

var _ TemplateSource = (*TemplateRegistry)(nil)

// NewTemplateRegistry returns an empty registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{templates: make(map[string]*Template)}
}

// Register adds the template of an entity.
// Panics if the entity already has one.
func (r *TemplateRegistry) Register(entity string, t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.templates[entity]; exists {
		panic(fmt.Sprintf("template already registered: %s", entity))
	}
	r.templates[entity] = t
}

// Get returns the template registered for an entity.
func (r *TemplateRegistry) Get(entity string) (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.templates[entity]
	return t, ok
}

// DefaultTemplate implements TemplateSource.
func (r *TemplateRegistry) DefaultTemplate(et *schema.EntityType) (*Template, bool) {
	if et == nil {
		return nil, false
	}
	return r.Get(et.Name)
}

// TemplateFor returns the registered template of et, or a suggested one
// when none is registered.
func (r *TemplateRegistry) TemplateFor(et *schema.EntityType) *Template {
	if t, ok := r.Get(et.Name); ok {
		return t
	}
	return Suggest(et, 0, false)
}

// Names returns the entities with a registered template.
// Sorted alphabetically.
func (r *TemplateRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered templates.
func (r *TemplateRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.templates)
}

// Clear removes all registered templates.
// Primarily useful for testing.
func (r *TemplateRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates = make(map[string]*Template)
}

// LoadDir registers every template file in dir. The file name without its
// extension names the entity: Parent.yaml, Widget.json.
func (r *TemplateRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read template dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		t, err := LoadTemplateFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, exists := r.Get(name); exists {
			return fmt.Errorf("template already registered: %s", name)
		}
		r.Register(name, t)
	}
	return nil
}
