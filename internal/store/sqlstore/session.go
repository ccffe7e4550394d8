package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// session implements store.Session over one conn.
type session struct {
	c conn
	d dialect
}

var q = store.QuoteIdent

// args accumulates positional arguments and hands out placeholders.
type args struct {
	d    dialect
	vals []any
}

func (a *args) add(v any) string {
	a.vals = append(a.vals, v)
	return a.d.placeholder(len(a.vals))
}

func selectList(et *schema.EntityType, alias string) string {
	prefix := ""
	if alias != "" {
		prefix = q(alias) + "."
	}
	cols := []string{prefix + q(et.PrimaryKey)}
	for _, f := range et.StoredFields() {
		cols = append(cols, prefix+q(f.Name))
	}
	return strings.Join(cols, ", ")
}

// where renders criteria as an AND list, using IS NULL for nil values.
func where(et *schema.EntityType, c store.Criteria, alias string, a *args) (string, error) {
	if len(c) == 0 {
		return "", nil
	}
	prefix := ""
	if alias != "" {
		prefix = q(alias) + "."
	}
	parts := make([]string, 0, len(c))
	for _, k := range c.Keys() {
		ft := schema.TypeInteger
		if k != et.PrimaryKey {
			f := et.Field(k)
			if f == nil || f.Virtual {
				return "", fmt.Errorf("%s has no stored field %q", et.Name, k)
			}
			ft = f.Type
		}
		v := c[k]
		if v == nil {
			parts = append(parts, prefix+q(k)+" IS NULL")
			continue
		}
		parts = append(parts, prefix+q(k)+" = "+a.add(entity.Encode(ft, v)))
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

// scanEntities decodes rows selected with selectList.
func scanEntities(et *schema.EntityType, raw [][]any) ([]*entity.Entity, error) {
	fields := et.StoredFields()
	out := make([]*entity.Entity, 0, len(raw))
	for _, row := range raw {
		id, err := toInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("%s primary key: %w", et.Name, err)
		}
		values := make(map[string]any, len(fields))
		for i, f := range fields {
			v, err := entity.Decode(f.Type, row[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", et.Name, f.Name, err)
			}
			values[f.Name] = v
		}
		out = append(out, entity.FromRow(et, id, values))
	}
	return out, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	}
	return 0, fmt.Errorf("unexpected key type %T", v)
}

func (s *session) selectEntities(ctx context.Context, et *schema.EntityType, query string, a *args) ([]*entity.Entity, error) {
	r, err := s.c.query(ctx, query, a.vals...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", et.Table, s.d.translate(err))
	}
	raw, err := collect(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", et.Table, err)
	}
	return scanEntities(et, raw)
}

func (s *session) Get(ctx context.Context, et *schema.EntityType, id int64) (*entity.Entity, error) {
	found, err := s.FindAll(ctx, et, store.Criteria{et.PrimaryKey: id})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%s %d: %w", et.Name, id, store.ErrNotFound)
	}
	return found[0], nil
}

func (s *session) FindLatest(ctx context.Context, et *schema.EntityType, c store.Criteria) (*entity.Entity, error) {
	a := &args{d: s.d}
	w, err := where(et, c, "", a)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s DESC LIMIT 1",
		selectList(et, ""), q(et.Table), w, q(et.PrimaryKey))
	found, err := s.selectEntities(ctx, et, query, a)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, store.ErrNotFound
	}
	return found[0], nil
}

func (s *session) FindAll(ctx context.Context, et *schema.EntityType, c store.Criteria) ([]*entity.Entity, error) {
	a := &args{d: s.d}
	w, err := where(et, c, "", a)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		selectList(et, ""), q(et.Table), w, q(et.PrimaryKey))
	return s.selectEntities(ctx, et, query, a)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *session) FindPrefix(ctx context.Context, et *schema.EntityType, field, prefix string, limit int) ([]*entity.Entity, error) {
	if !et.IsStored(field) {
		return nil, fmt.Errorf("%s has no stored field %q", et.Name, field)
	}
	a := &args{d: s.d}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIKE %s ESCAPE '\' ORDER BY %s LIMIT %d`,
		selectList(et, ""), q(et.Table), q(field), a.add(likeEscaper.Replace(prefix)+"%"), q(et.PrimaryKey), limit)
	return s.selectEntities(ctx, et, query, a)
}

func (s *session) Children(ctx context.Context, assoc *schema.Association, owner *entity.Entity) ([]*entity.Entity, error) {
	if owner.NewRecord() {
		return nil, nil
	}
	target := assoc.TargetType
	a := &args{d: s.d}
	var query string

	switch assoc.Kind {
	case schema.HasOne, schema.HasMany:
		conds := []string{q(assoc.ForeignKey) + " = " + a.add(owner.ID())}
		if assoc.ForeignType != "" {
			conds = append(conds, q(assoc.ForeignType)+" = "+a.add(owner.Type.Name))
		}
		query = fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
			selectList(target, ""), q(target.Table), strings.Join(conds, " AND "), q(target.PrimaryKey))

	case schema.HasAndBelongsToMany:
		query = fmt.Sprintf("SELECT %s FROM %s t JOIN %s j ON j.%s = t.%s WHERE j.%s = %s ORDER BY t.%s",
			selectList(target, "t"), q(target.Table), q(assoc.JoinTable),
			q(assoc.AssociationForeignKey), q(target.PrimaryKey),
			q(assoc.ForeignKey), a.add(owner.ID()), q(target.PrimaryKey))

	case schema.HasManyThrough:
		through, source := assoc.ThroughAssoc(), assoc.SourceAssoc()
		if through == nil || source == nil {
			return nil, fmt.Errorf("%s.%s: unresolved through association", owner.Type.Name, assoc.Name)
		}
		conds := []string{"j." + q(through.ForeignKey) + " = " + a.add(owner.ID())}
		if through.ForeignType != "" {
			conds = append(conds, "j."+q(through.ForeignType)+" = "+a.add(owner.Type.Name))
		}
		if source.Polymorphic {
			conds = append(conds, "j."+q(source.ForeignType)+" = "+a.add(target.Name))
		}
		query = fmt.Sprintf("SELECT DISTINCT %s FROM %s t JOIN %s j ON j.%s = t.%s WHERE %s ORDER BY t.%s",
			selectList(target, "t"), q(target.Table), q(through.TargetType.Table),
			q(source.ForeignKey), q(target.PrimaryKey), strings.Join(conds, " AND "), q(target.PrimaryKey))

	default:
		return nil, fmt.Errorf("%s.%s: %s is not a collection", owner.Type.Name, assoc.Name, assoc.Kind)
	}
	return s.selectEntities(ctx, target, query, a)
}

func (s *session) Pluck(ctx context.Context, et *schema.EntityType, fields ...string) ([][]any, error) {
	cols := []string{q(et.PrimaryKey)}
	types := []schema.FieldType{schema.TypeInteger}
	for _, name := range fields {
		f := et.Field(name)
		if name == et.PrimaryKey {
			types = append(types, schema.TypeInteger)
		} else if f == nil || f.Virtual {
			return nil, fmt.Errorf("%s has no stored field %q", et.Name, name)
		} else {
			types = append(types, f.Type)
		}
		cols = append(cols, q(name))
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(cols, ", "), q(et.Table), q(et.PrimaryKey))
	r, err := s.c.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pluck %s: %w", et.Table, err)
	}
	raw, err := collect(r)
	if err != nil {
		return nil, fmt.Errorf("pluck %s: %w", et.Table, err)
	}
	for _, row := range raw {
		for i, v := range row {
			if row[i], err = entity.Decode(types[i], v); err != nil {
				return nil, fmt.Errorf("pluck %s: %w", et.Table, err)
			}
		}
	}
	return raw, nil
}

func (s *session) Count(ctx context.Context, et *schema.EntityType, c store.Criteria) (int64, error) {
	a := &args{d: s.d}
	w, err := where(et, c, "", a)
	if err != nil {
		return 0, err
	}
	r, err := s.c.query(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q(et.Table), w), a.vals...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", et.Table, err)
	}
	raw, err := collect(r)
	if err != nil || len(raw) == 0 {
		return 0, fmt.Errorf("count %s: %w", et.Table, err)
	}
	return toInt64(raw[0][0])
}

func (s *session) Save(ctx context.Context, e *entity.Entity) error {
	if e.NewRecord() {
		return s.insert(ctx, e)
	}
	return s.update(ctx, e)
}

func (s *session) insert(ctx context.Context, e *entity.Entity) error {
	et := e.Type
	names, vals := e.Values()
	a := &args{d: s.d}
	var query string
	if len(names) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", q(et.Table), q(et.PrimaryKey))
	} else {
		cols := make([]string, len(names))
		marks := make([]string, len(names))
		for i, n := range names {
			cols[i] = q(n)
			marks[i] = a.add(entity.Encode(et.Field(n).Type, vals[i]))
		}
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			q(et.Table), strings.Join(cols, ", "), strings.Join(marks, ", "), q(et.PrimaryKey))
	}

	r, err := s.c.query(ctx, query, a.vals...)
	if err != nil {
		return fmt.Errorf("insert %s: %w", et.Table, s.d.translate(err))
	}
	raw, err := collect(r)
	if err != nil {
		return fmt.Errorf("insert %s: %w", et.Table, s.d.translate(err))
	}
	if len(raw) == 0 {
		return fmt.Errorf("insert %s: no key returned", et.Table)
	}
	id, err := toInt64(raw[0][0])
	if err != nil {
		return fmt.Errorf("insert %s: %w", et.Table, err)
	}
	e.MarkSaved(id)
	return nil
}

func (s *session) update(ctx context.Context, e *entity.Entity) error {
	et := e.Type
	changed := e.ChangedFields()
	if len(changed) == 0 {
		return nil
	}
	a := &args{d: s.d}
	sets := make([]string, len(changed))
	for i, n := range changed {
		sets[i] = q(n) + " = " + a.add(entity.Encode(et.Field(n).Type, e.Get(n)))
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		q(et.Table), strings.Join(sets, ", "), q(et.PrimaryKey), a.add(e.ID()))
	if _, err := s.c.exec(ctx, query, a.vals...); err != nil {
		return fmt.Errorf("update %s: %w", et.Table, s.d.translate(err))
	}
	e.MarkSaved(e.ID())
	return nil
}

func (s *session) Link(ctx context.Context, assoc *schema.Association, ownerID, targetID int64) error {
	if assoc.Kind != schema.HasAndBelongsToMany {
		return fmt.Errorf("%s: %s has no join table", assoc.Name, assoc.Kind)
	}
	a := &args{d: s.d}
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		q(assoc.JoinTable), q(assoc.ForeignKey), q(assoc.AssociationForeignKey), a.add(ownerID), a.add(targetID))
	if _, err := s.c.exec(ctx, query, a.vals...); err != nil {
		return fmt.Errorf("link %s: %w", assoc.JoinTable, s.d.translate(err))
	}
	return nil
}

func (s *session) Linked(ctx context.Context, assoc *schema.Association, ownerID, targetID int64) (bool, error) {
	a := &args{d: s.d}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s AND %s = %s",
		q(assoc.JoinTable), q(assoc.ForeignKey), a.add(ownerID), q(assoc.AssociationForeignKey), a.add(targetID))
	r, err := s.c.query(ctx, query, a.vals...)
	if err != nil {
		return false, fmt.Errorf("linked %s: %w", assoc.JoinTable, err)
	}
	raw, err := collect(r)
	if err != nil || len(raw) == 0 {
		return false, fmt.Errorf("linked %s: %w", assoc.JoinTable, err)
	}
	n, err := toInt64(raw[0][0])
	return n > 0, err
}
