package schema

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Registry holds the entity types of one schema and implements MetadataProvider.
// Register every type, then call Finalize once before use.
type Registry struct {
	mu        sync.RWMutex
	entities  map[string]*EntityType
	byTable   map[string]*EntityType
	finalized bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntityType),
		byTable:  make(map[string]*EntityType),
	}
}

// Register adds an entity type. Names must be unique.
func (r *Registry) Register(et *EntityType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if et.Name == "" {
		return errors.New("entity type has no name")
	}
	if _, exists := r.entities[et.Name]; exists {
		return fmt.Errorf("entity already registered: %s", et.Name)
	}
	r.entities[et.Name] = et
	r.finalized = false
	return nil
}

// MustRegister is Register that panics on error. Intended for fixtures.
func (r *Registry) MustRegister(et *EntityType) {
	if err := r.Register(et); err != nil {
		panic(err)
	}
}

// Entity returns an entity type by name or by table name.
func (r *Registry) Entity(name string) (*EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if et, ok := r.entities[name]; ok {
		return et, true
	}
	et, ok := r.byTable[name]
	return et, ok
}

// Association returns the association of et called name.
func (r *Registry) Association(et *EntityType, name string) (*Association, bool) {
	if et == nil {
		return nil, false
	}
	a := et.Association(name)
	return a, a != nil
}

// Entities returns all entity types sorted by name.
func (r *Registry) Entities() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*EntityType, 0, len(r.entities))
	for _, et := range r.entities {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetCompute attaches the getter of a virtual field.
func (r *Registry) SetCompute(entity, field string, fn func(get func(string) any) any) error {
	et, ok := r.Entity(entity)
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	f := et.Field(field)
	if f == nil {
		return fmt.Errorf("entity %s has no field %q", entity, field)
	}
	if !f.Virtual {
		return fmt.Errorf("field %s.%s is not virtual", entity, field)
	}
	f.Compute = fn
	return nil
}

// Finalize fills in naming conventions, resolves association targets and adds
// the foreign key columns associations imply. It is safe to call repeatedly.
func (r *Registry) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return nil
	}

	var errs []error
	r.byTable = make(map[string]*EntityType, len(r.entities))
	for _, et := range r.sorted() {
		if et.Table == "" {
			et.Table = Plural(Snake(et.Name))
		}
		if et.PrimaryKey == "" {
			et.PrimaryKey = "id"
		}
		for _, f := range et.Fields {
			if f.Type == "" {
				f.Type = TypeString
			}
			if !f.Type.Valid() {
				errs = append(errs, fmt.Errorf("%s.%s: unknown field type %q", et.Name, f.Name, f.Type))
			}
		}
		r.byTable[et.Table] = et
	}

	// Direct associations first; through associations depend on them.
	for _, et := range r.sorted() {
		for _, a := range et.Assocs {
			a.Owner = et
			if a.Kind != HasManyThrough {
				if err := r.finalizeDirect(et, a); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	for _, et := range r.sorted() {
		for _, a := range et.Assocs {
			if a.Kind == HasManyThrough {
				if err := r.finalizeThrough(et, a); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, et := range r.entities {
		et.fields = make(map[string]*Field, len(et.Fields))
		for _, f := range et.Fields {
			et.fields[f.Name] = f
		}
		et.assocs = make(map[string]*Association, len(et.Assocs))
		for _, a := range et.Assocs {
			et.assocs[a.Name] = a
		}
	}
	r.finalized = true
	return nil
}

func (r *Registry) sorted() []*EntityType {
	out := make([]*EntityType, 0, len(r.entities))
	for _, et := range r.entities {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) lookup(name string) *EntityType {
	if et, ok := r.entities[name]; ok {
		return et
	}
	return r.byTable[name]
}

func (r *Registry) finalizeDirect(et *EntityType, a *Association) error {
	switch a.Kind {
	case BelongsTo:
		if a.ForeignKey == "" {
			a.ForeignKey = a.Name + "_id"
		}
		ensureField(et, a.ForeignKey, TypeInteger)
		if a.Polymorphic {
			if a.ForeignType == "" {
				a.ForeignType = a.Name + "_type"
			}
			ensureField(et, a.ForeignType, TypeString)
			return nil
		}
		if a.Target == "" {
			a.Target = Camel(a.Name)
		}

	case HasOne, HasMany:
		if a.Target == "" {
			if a.Kind == HasMany {
				a.Target = Camel(Singular(a.Name))
			} else {
				a.Target = Camel(a.Name)
			}
		}
		if a.ForeignKey == "" {
			if a.As != "" {
				a.ForeignKey = a.As + "_id"
			} else {
				a.ForeignKey = Snake(et.Name) + "_id"
			}
		}
		if a.As != "" && a.ForeignType == "" {
			a.ForeignType = a.As + "_type"
		}

	case HasAndBelongsToMany:
		if a.Target == "" {
			a.Target = Camel(Singular(a.Name))
		}
		if a.ForeignKey == "" {
			a.ForeignKey = Snake(et.Name) + "_id"
		}

	default:
		return fmt.Errorf("%s.%s: unknown association kind", et.Name, a.Name)
	}

	target := r.lookup(a.Target)
	if target == nil {
		return fmt.Errorf("%s.%s: unknown target entity %q", et.Name, a.Name, a.Target)
	}
	a.TargetType = target

	switch a.Kind {
	case HasOne, HasMany:
		ensureField(target, a.ForeignKey, TypeInteger)
		if a.ForeignType != "" {
			ensureField(target, a.ForeignType, TypeString)
		}
		if a.Inverse == "" {
			for _, bt := range target.Assocs {
				if bt.Kind == BelongsTo && bt.ForeignKey == a.ForeignKey {
					a.Inverse = bt.Name
					break
				}
				if bt.Kind == BelongsTo && bt.ForeignKey == "" && bt.Name+"_id" == a.ForeignKey {
					a.Inverse = bt.Name
					break
				}
			}
		}
	case HasAndBelongsToMany:
		if a.AssociationForeignKey == "" {
			a.AssociationForeignKey = Snake(target.Name) + "_id"
		}
		if a.JoinTable == "" {
			tables := []string{et.Table, target.Table}
			sort.Strings(tables)
			a.JoinTable = tables[0] + "_" + tables[1]
		}
	}
	return nil
}

func (r *Registry) finalizeThrough(et *EntityType, a *Association) error {
	through := et.Association(a.Through)
	if through == nil || through.Kind != HasMany {
		return fmt.Errorf("%s.%s: through association %q must be a has_many on %s", et.Name, a.Name, a.Through, et.Name)
	}
	if through.TargetType == nil {
		return fmt.Errorf("%s.%s: through association %q is unresolved", et.Name, a.Name, a.Through)
	}
	if a.Source == "" {
		a.Source = Singular(a.Name)
	}
	source := through.TargetType.Association(a.Source)
	if source == nil || source.Kind != BelongsTo {
		return fmt.Errorf("%s.%s: source %q must be a belongs_to on %s", et.Name, a.Name, a.Source, through.TargetType.Name)
	}
	switch {
	case source.TargetType != nil:
		a.TargetType = source.TargetType
		a.Target = source.TargetType.Name
	case a.Target != "":
		a.TargetType = r.lookup(a.Target)
	}
	if a.TargetType == nil {
		return fmt.Errorf("%s.%s: polymorphic source %q needs an explicit target", et.Name, a.Name, a.Source)
	}
	return nil
}

func ensureField(et *EntityType, name string, ft FieldType) {
	for _, f := range et.Fields {
		if f.Name == name {
			f.ForeignKey = true
			return
		}
	}
	et.Fields = append(et.Fields, &Field{Name: name, Type: ft, ForeignKey: true})
}

type document struct {
	Entities []*EntityType `yaml:"entities"`
}

// Load reads a YAML schema document and returns a finalized registry.
func Load(r io.Reader) (*Registry, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	reg := NewRegistry()
	for _, et := range doc.Entities {
		if err := reg.Register(et); err != nil {
			return nil, err
		}
	}
	if err := reg.Finalize(); err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return reg, nil
}

// LoadFile is Load for a path on disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}
