package core

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// UniqueKey is the set of columns that identifies a record of one entity
// type at one template path.
type UniqueKey struct {
	Entity *schema.EntityType
	Path   []string
	Parts  []KeyPart
	// ForeignKeys lists every belongs-to whose columns appear in the header.
	ForeignKeys []*ForeignKeyRef
}

// KeyPart is one column of a unique key. FK parts stand for a belongs-to
// parent and compare its primary key.
type KeyPart struct {
	Field string
	Title string
	Index int
	Type  schema.FieldType
	FK    *ForeignKeyRef
}

// ForeignKeyRef is a belongs-to parent that can be found from the row.
type ForeignKeyRef struct {
	Assoc *schema.Association
	Key   *UniqueKey
	// InCriteria adds the parent's key to the lookup criteria.
	InCriteria bool
}

// Fields returns the stored field of every part, in order.
func (k *UniqueKey) Fields() []string {
	out := make([]string, len(k.Parts))
	for i, p := range k.Parts {
		out[i] = p.Field
	}
	return out
}

type comboPart struct {
	title string
	index int // -1 when the title only names an association prefix
}

// keyResolver finds unique keys for one header. It lives for one import.
type keyResolver struct {
	res    *Resolution
	tmpl   *Template
	titles []string
	combos [][]comboPart
	keys   map[string]*UniqueKey
}

func newKeyResolver(res *Resolution, tmpl *Template, titles []string, starred []bool) *keyResolver {
	kr := &keyResolver{
		res:    res,
		tmpl:   tmpl,
		titles: titles,
		keys:   make(map[string]*UniqueKey),
	}
	kr.combos = kr.definedUniques(starred)
	return kr
}

// definedUniques intersects the declared uniques with the header, then adds
// starred header columns as single-column combos.
func (kr *keyResolver) definedUniques(starred []bool) [][]comboPart {
	var (
		out  [][]comboPart
		seen = make(map[string]bool)
	)
	add := func(combo []comboPart) {
		sig := make([]string, len(combo))
		for i, p := range combo {
			sig[i] = p.title
		}
		s := strings.Join(sig, "\x1f")
		if len(combo) == 0 || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, combo)
	}

	for _, u := range kr.tmpl.Uniques {
		var combo []comboPart
		for _, name := range u {
			t := schema.Titleize(name)
			if i := kr.headerIndex(t); i >= 0 {
				combo = append(combo, comboPart{title: t, index: i})
			} else if kr.headerHasPrefix(t + " ") {
				combo = append(combo, comboPart{title: t, index: -1})
			}
		}
		add(combo)
	}
	for i, s := range starred {
		if s && i < len(kr.titles) {
			add([]comboPart{{title: kr.titles[i], index: i}})
		}
	}
	return out
}

func (kr *keyResolver) headerIndex(title string) int {
	for i, t := range kr.titles {
		if t == title {
			return i
		}
	}
	return -1
}

func (kr *keyResolver) headerHasPrefix(prefix string) bool {
	for _, t := range kr.titles {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// uniqueKey picks the key of et at path. The first usable combo wins. With
// strict set, finding none is an error; otherwise the key is nil.
func (kr *keyResolver) uniqueKey(et *schema.EntityType, path []string, strict bool) (*UniqueKey, error) {
	mk := et.Name + "|" + strings.Join(path, ",")
	key, ok := kr.keys[mk]
	if !ok {
		key = kr.discover(et, path)
		kr.keys[mk] = key
	}
	if key == nil && strict {
		return nil, &NoUniqueColumnError{Entity: et.Name, Uniques: kr.tmpl.Uniques}
	}
	return key, nil
}

func (kr *keyResolver) discover(et *schema.EntityType, path []string) *UniqueKey {
	trim := pathTitle(path)

	available := make(map[string]*Column)
	for _, c := range kr.res.Columns {
		if c.Owner != et || !samePath(c.Path(), path) {
			continue
		}
		t := schema.Titleize(c.Name)
		if _, dup := available[t]; !dup {
			available[t] = c
		}
	}

	var refs []*ForeignKeyRef
	for _, a := range et.BelongsTos() {
		if a.TargetType == nil {
			continue
		}
		sub := appendPath(path, a.Name)
		if !kr.headerHasPrefix(pathTitle(sub) + " ") {
			continue
		}
		tk, _ := kr.uniqueKey(a.TargetType, sub, false)
		if tk == nil {
			continue
		}
		refs = append(refs, &ForeignKeyRef{Assoc: a, Key: tk})
	}

	var chosen []KeyPart
	for _, combo := range kr.combos {
		if parts, ok := kr.usable(combo, trim, available, refs); ok {
			chosen = parts
			break
		}
	}
	if chosen == nil {
		return nil
	}

	for _, ref := range refs {
		ref.InCriteria = !ref.Assoc.Optional && !comesFrom(chosen, ref, path)
	}
	return &UniqueKey{
		Entity:      et,
		Path:        append([]string(nil), path...),
		Parts:       chosen,
		ForeignKeys: refs,
	}
}

func (kr *keyResolver) usable(combo []comboPart, trim string, available map[string]*Column, refs []*ForeignKeyRef) ([]KeyPart, bool) {
	parts := make([]KeyPart, 0, len(combo))
	for _, p := range combo {
		rem := p.title
		if trim != "" {
			if !strings.HasPrefix(p.title, trim+" ") {
				return nil, false
			}
			rem = p.title[len(trim)+1:]
		}
		if c, ok := available[rem]; ok && p.index >= 0 {
			parts = append(parts, KeyPart{
				Field: c.Name,
				Title: p.title,
				Index: p.index,
				Type:  c.Type(kr.tmpl.VirtualColumns),
			})
			continue
		}
		ref := refByTitle(refs, rem)
		if ref == nil {
			return nil, false
		}
		parts = append(parts, KeyPart{
			Field: ref.Assoc.ForeignKey,
			Title: p.title,
			Index: -1,
			Type:  schema.TypeInteger,
			FK:    ref,
		})
	}
	return parts, true
}

func refByTitle(refs []*ForeignKeyRef, title string) *ForeignKeyRef {
	for _, r := range refs {
		if schema.Titleize(r.Assoc.Name) == title {
			return r
		}
	}
	return nil
}

func comesFrom(parts []KeyPart, ref *ForeignKeyRef, path []string) bool {
	prefix := pathTitle(appendPath(path, ref.Assoc.Name)) + " "
	for _, p := range parts {
		if p.FK == ref || strings.HasPrefix(p.Title, prefix) {
			return true
		}
	}
	return false
}

// criteria builds the lookup criteria of key for row as canonical text.
// Parents found for the key's belongs-to references are returned too. ok is
// false when a parent the criteria depend on does not exist, in which case
// no record can match.
func (kr *keyResolver) criteria(ctx context.Context, sess store.Session, key *UniqueKey, row []string) (map[string]string, map[*ForeignKeyRef]*entity.Entity, bool, error) {
	crit := make(map[string]string, len(key.Parts))
	parents := make(map[*ForeignKeyRef]*entity.Entity)
	ok := true

	for _, ref := range key.ForeignKeys {
		p, err := kr.findByKey(ctx, sess, ref.Key, row)
		if err != nil {
			return nil, nil, false, err
		}
		if p != nil {
			parents[ref] = p
		}
		if ref.InCriteria {
			if p == nil {
				ok = false
				continue
			}
			crit[ref.Assoc.ForeignKey] = strconv.FormatInt(p.ID(), 10)
		}
	}
	for _, part := range key.Parts {
		if part.FK != nil {
			p := parents[part.FK]
			if p == nil {
				ok = false
				continue
			}
			crit[part.Field] = strconv.FormatInt(p.ID(), 10)
			continue
		}
		crit[part.Field] = canonical(part.Type, cell(row, part.Index))
	}
	return crit, parents, ok, nil
}

// tuple is the unique tuple of a row, FK parts rendered as parent keys.
func (kr *keyResolver) tuple(ctx context.Context, sess store.Session, key *UniqueKey, row []string) ([]string, error) {
	out := make([]string, len(key.Parts))
	for i, part := range key.Parts {
		if part.FK == nil {
			out[i] = canonical(part.Type, cell(row, part.Index))
			continue
		}
		p, err := kr.findByKey(ctx, sess, part.FK.Key, row)
		if err != nil {
			return nil, err
		}
		if p != nil {
			out[i] = strconv.FormatInt(p.ID(), 10)
		}
	}
	return out, nil
}

func (kr *keyResolver) findByKey(ctx context.Context, sess store.Session, key *UniqueKey, row []string) (*entity.Entity, error) {
	crit, _, ok, err := kr.criteria(ctx, sess, key, row)
	if err != nil || !ok {
		return nil, err
	}
	return lookup(ctx, sess, key.Entity, crit)
}

// entityTuple reads the unique tuple back from a saved record, so it
// reflects normalisation applied on save.
func entityTuple(e *entity.Entity, key *UniqueKey) []string {
	out := make([]string, len(key.Parts))
	for i, part := range key.Parts {
		if v := e.Get(part.Field); v != nil {
			out[i] = entity.Format(part.Type, v)
		}
	}
	return out
}

// lookup finds the most recent record matching crit. Criteria on stored
// fields go to the store; the rest are checked on the loaded records.
func lookup(ctx context.Context, sess store.Session, et *schema.EntityType, crit map[string]string) (*entity.Entity, error) {
	if len(crit) == 0 {
		return nil, nil
	}
	stored := make(store.Criteria, len(crit))
	virtual := make(map[string]string)
	for name, text := range crit {
		if !et.IsStored(name) {
			virtual[name] = text
			continue
		}
		ft := schema.TypeInteger
		if f := et.Field(name); f != nil {
			ft = f.Type
		}
		v, err := entity.Parse(ft, text)
		if err != nil {
			// Text that does not parse cannot equal a stored value.
			return nil, nil
		}
		stored[name] = v
	}

	if len(virtual) == 0 {
		e, err := sess.FindLatest(ctx, et, stored)
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return e, err
	}

	all, err := sess.FindAll(ctx, et, stored)
	if err != nil {
		return nil, err
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Matches(virtual) {
			return all[i], nil
		}
	}
	return nil, nil
}

// canonical renders cell text the way entity.Format renders stored values.
func canonical(ft schema.FieldType, s string) string {
	v, err := entity.Parse(ft, s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return entity.Format(ft, v)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func appendPath(path []string, name string) []string {
	return append(append([]string(nil), path...), name)
}
