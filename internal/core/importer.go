package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rowgraph/internal/entity"
	"github.com/JonMunkholm/rowgraph/internal/logging"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// errRowInvalid stops a row whose error bag has been filled.
var errRowInvalid = errors.New("row invalid")

// Importer maps header-labelled rows onto records and their associations.
type Importer struct {
	st       store.Store
	meta     schema.MetadataProvider
	defaults TemplateSource
	opts     Options
}

// NewImporter returns an importer writing to st.
func NewImporter(st store.Store, meta schema.MetadataProvider, defaults TemplateSource, opts Options) *Importer {
	return &Importer{st: st, meta: meta, defaults: defaults, opts: opts}
}

// Import reads a header row and then data rows from src and creates or
// updates records of et as tmpl describes. Rows that fail are rolled back
// one by one and reported in the result; errors that stop the whole import
// are returned.
func (im *Importer) Import(ctx context.Context, et *schema.EntityType, tmpl *Template, src RowReader) (*Result, error) {
	start := time.Now()

	runID := im.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, runID)
	logger := im.opts.Logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger = logger.With("entity", et.Name).With(clientAttrs(ctx)...)

	run := &importRun{
		im:       im,
		et:       et,
		tmpl:     tmpl,
		cache:    NewResolutionCache(im.meta, im.defaults),
		existing: make(map[string]int64),
		dups:     newDuplicateTracker(),
		result:   newResult(runID),
		logger:   logger,
		prog:     Progress{RunID: runID, Entity: et.Name},
	}

	if tmpl.BeforeImport != nil {
		if wrapped := tmpl.BeforeImport(src); wrapped != nil {
			src = wrapped
		}
	}

	run.setPhase(PhaseAwaitingHeader)
	header, err := src.Read()
	if errors.Is(err, io.EOF) {
		err = ErrEmptySource
	} else if err != nil {
		err = fmt.Errorf("read header: %w", err)
	}
	if err == nil {
		err = run.readHeader(ctx, header)
	}
	if err != nil {
		run.fail(err)
		return nil, err
	}

	logger.Info("import started",
		"columns", len(header),
		"matched", run.matched,
		"unique", strings.Join(run.rootKey.Fields(), ","),
	)

	run.setPhase(PhaseProcessingRows)
	if err := run.processRows(ctx, src); err != nil {
		run.fail(err)
		logger.Error("import failed", "row", run.row, "error", err)
		return nil, err
	}

	run.setPhase(PhaseFinalizing)
	result := run.result
	result.DryRun = im.opts.DryRun
	result.Duplicates = run.dups.duplicates()
	result.Duration = time.Since(start)
	if tmpl.AfterImport != nil {
		if replaced := tmpl.AfterImport(result); replaced != nil {
			result = replaced
		}
	}
	run.setPhase(PhaseComplete)

	logger.Info("import finished",
		"dry_run", result.DryRun,
		"inserted", len(result.Inserted),
		"updated", len(result.Updated),
		"duplicates", len(result.Duplicates),
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	return result, nil
}

// importRun is the state of one Import call.
type importRun struct {
	im    *Importer
	et    *schema.EntityType
	tmpl  *Template
	cache *ResolutionCache

	keepers []*Column // matched column per header index
	partial []bool
	matched int
	kr      *keyResolver
	rootKey *UniqueKey

	existing map[string]int64
	dups     *duplicateTracker
	result   *Result
	row      int

	logger *slog.Logger
	prog   Progress
}

func (r *importRun) setPhase(p ImportPhase) {
	r.prog.Phase = p
	r.emit()
}

func (r *importRun) fail(err error) {
	r.prog.Error = err.Error()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.setPhase(PhaseCancelled)
		return
	}
	r.setPhase(PhaseFailed)
}

func (r *importRun) emit() {
	if r.im.opts.Progress == nil {
		return
	}
	r.prog.CurrentRow = r.row
	r.prog.Inserted = len(r.result.Inserted)
	r.prog.Updated = len(r.result.Updated)
	r.prog.Failed = len(r.result.Errors)
	r.im.opts.Progress(r.prog)
}

func (r *importRun) readHeader(ctx context.Context, header []string) error {
	titles := make([]string, len(header))
	starred := make([]bool, len(header))
	r.partial = make([]bool, len(header))

	for i, raw := range header {
		if i == 0 {
			raw = stripBOM(raw)
		}
		titles[i], starred[i], r.partial[i] = headerTitle(raw, r.tmpl.As)
	}

	res, err := r.cache.Resolve(r.et, r.tmpl)
	if err != nil {
		return err
	}

	r.keepers = make([]*Column, len(header))
	taken := make(map[*Column]bool, len(res.Columns))
	for i, t := range titles {
		if t == "" {
			continue
		}
		for _, c := range res.Columns {
			if !taken[c] && c.Title() == t {
				r.keepers[i] = c
				taken[c] = true
				r.matched++
				break
			}
		}
	}

	if need := (len(header)+1)/2 - 1; r.matched < need {
		return &TooFewMatchingColumnsError{Entity: r.et.Name, Matched: r.matched, Total: len(header), Required: need}
	}

	r.kr = newKeyResolver(res, r.tmpl, titles, starred)
	if r.rootKey, err = r.kr.uniqueKey(r.et, nil, true); err != nil {
		return err
	}
	return r.seedExisting(ctx)
}

// seedExisting indexes the unique tuples of every stored root record.
func (r *importRun) seedExisting(ctx context.Context) error {
	key := r.rootKey
	for _, f := range key.Fields() {
		if !r.et.IsStored(f) {
			all, err := r.im.st.FindAll(ctx, r.et, nil)
			if err != nil {
				return fmt.Errorf("load existing %s: %w", r.et.Name, err)
			}
			for _, e := range all {
				r.existing[tupleSig(entityTuple(e, key))] = e.ID()
			}
			return nil
		}
	}

	rows, err := r.im.st.Pluck(ctx, r.et, key.Fields()...)
	if err != nil {
		return fmt.Errorf("load existing %s: %w", r.et.Name, err)
	}
	for _, row := range rows {
		id, ok := row[0].(int64)
		if !ok {
			continue
		}
		tuple := make([]string, len(key.Parts))
		for i, p := range key.Parts {
			tuple[i] = entity.Format(p.Type, row[i+1])
		}
		r.existing[tupleSig(tuple)] = id
	}
	return nil
}

// errDryRun rolls back the transaction of a dry run.
var errDryRun = errors.New("dry run")

func (r *importRun) processRows(ctx context.Context, src RowReader) error {
	chunk := r.im.opts.CommitEvery
	if r.im.opts.DryRun {
		chunk = 0
	}
	for done := false; !done; {
		err := r.im.st.InTx(ctx, func(tx store.Tx) error {
			for n := 0; chunk <= 0 || n < chunk; n++ {
				cells, err := src.Read()
				if errors.Is(err, io.EOF) {
					done = true
					if r.im.opts.DryRun {
						return errDryRun
					}
					return nil
				}
				if err != nil {
					return fmt.Errorf("read row %d: %w", r.row+1, err)
				}
				r.row++

				if r.row%ContextCheckInterval == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				if blankRow(cells) {
					continue
				}
				if err := r.importRow(ctx, tx, cells); err != nil {
					return fmt.Errorf("row %d: %w", r.row, err)
				}
				if r.row%ProgressInterval == 0 {
					r.emit()
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, errDryRun) {
			return err
		}
	}
	return nil
}

func (r *importRun) importRow(ctx context.Context, tx store.Tx, cells []string) error {
	sp := fmt.Sprintf("row_%d", r.row)
	if err := tx.Savepoint(ctx, sp); err != nil {
		return err
	}

	ri := &rowImport{
		run:     r,
		tx:      tx,
		cells:   cells,
		objects: make(map[string]*entity.Entity),
		paths:   make(map[*entity.Entity]string),
		saving:  make(map[*entity.Entity]bool),
		errs:    make(map[string][]string),
	}
	insert, err := ri.process(ctx)
	switch {
	case err == nil, errors.Is(err, errRowInvalid):
	case errors.Is(err, store.ErrDuplicate):
		ri.addErr("base", err.Error())
	default:
		_ = tx.RollbackTo(ctx, sp)
		return err
	}

	if len(ri.errs) > 0 {
		if err := tx.RollbackTo(ctx, sp); err != nil {
			return err
		}
		if err := tx.Release(ctx, sp); err != nil {
			return err
		}
		r.result.Errors = append(r.result.Errors, RowErrors{Row: r.row, Fields: ri.errs})
		r.logger.Debug("row rejected", "row", r.row, "errors", ri.errs)
		return nil
	}
	if err := tx.Release(ctx, sp); err != nil {
		return err
	}

	tuple := entityTuple(ri.root, r.rootKey)
	rk := RowKey{Row: r.row, Key: tuple}
	if insert {
		r.result.Inserted = append(r.result.Inserted, rk)
	} else {
		r.result.Updated = append(r.result.Updated, rk)
	}
	sig := tupleSig(tuple)
	r.existing[sig] = ri.root.ID()
	r.dups.add(sig, rk)
	return nil
}

// SaveKind tags a deferred save.
type SaveKind int

const (
	// SaveOwned saves an entity reached by the row.
	SaveOwned SaveKind = iota
	// SaveLinkHasOne points Entity's foreign key at Parent, then saves it.
	SaveLinkHasOne
	// SaveLinkJoinTable adds the join row between Parent and Entity.
	SaveLinkJoinTable
)

// PendingSave is a write deferred until the whole row has been walked.
type PendingSave struct {
	Kind   SaveKind
	Parent *entity.Entity
	Entity *entity.Entity
	Assoc  *schema.Association
}

// rowImport walks one row.
type rowImport struct {
	run   *importRun
	tx    store.Tx
	cells []string

	root    *entity.Entity
	objects map[string]*entity.Entity // by comma-joined path
	paths   map[*entity.Entity]string // error prefix per entity
	pending []PendingSave
	saving  map[*entity.Entity]bool
	errs    map[string][]string
}

func (ri *rowImport) addErr(field, msg string) {
	ri.errs[field] = append(ri.errs[field], msg)
}

func (ri *rowImport) process(ctx context.Context) (bool, error) {
	r := ri.run
	tuple, err := r.kr.tuple(ctx, ri.tx, r.rootKey, ri.cells)
	if err != nil {
		return false, err
	}
	if r.tmpl.BeforeProcess != nil {
		if rewritten := r.tmpl.BeforeProcess(r.rootKey, tuple); rewritten != nil {
			tuple = rewritten
		}
	}

	if id, ok := r.existing[tupleSig(tuple)]; ok {
		ri.root, err = ri.tx.Get(ctx, r.et, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return false, err
		}
	}
	insert := ri.root == nil
	if insert {
		ri.root = entity.New(r.et)
	}
	ri.paths[ri.root] = ""

	for i, col := range r.keepers {
		if col == nil {
			continue
		}
		target, err := ri.walk(ctx, col, i)
		if err != nil {
			return insert, err
		}
		if target != nil {
			ri.assign(target, col, i)
		}
	}
	ri.checkRequired()
	if len(ri.errs) > 0 {
		return insert, errRowInvalid
	}
	return insert, ri.flush(ctx)
}

// walk follows the column's association path from the root, creating or
// finding each entity once per row. It returns nil when the column is
// consumed by a reference lookup.
func (ri *rowImport) walk(ctx context.Context, col *Column, idx int) (*entity.Entity, error) {
	cur := ri.root
	path := col.Path()
	for i := range path {
		key := strings.Join(path[:i+1], ",")
		next, seen := ri.objects[key]
		if !seen {
			var err error
			next, err = ri.hop(ctx, cur, col.PrefixAssocs[i], path[:i+1], col, idx)
			if err != nil {
				return nil, err
			}
			ri.objects[key] = next
		}
		if next == nil {
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

func (ri *rowImport) hop(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string, col *Column, idx int) (*entity.Entity, error) {
	ri.run.logger.Debug("hop", "row", ri.run.row, "path", strings.Join(path, "."), "kind", a.Kind.String())
	switch a.Kind {
	case schema.BelongsTo:
		if a.TargetType.Reference && len(path) == len(col.Path()) {
			return nil, ri.assignReference(ctx, cur, a, col, idx)
		}
		return ri.belongsTo(ctx, cur, a, path)
	case schema.HasOne:
		return ri.hasOne(ctx, cur, a, path)
	case schema.HasMany:
		return ri.hasMany(ctx, cur, a, path)
	case schema.HasAndBelongsToMany:
		return ri.habtm(ctx, cur, a, path)
	case schema.HasManyThrough:
		return ri.through(ctx, cur, a, path)
	}
	return nil, fmt.Errorf("%s.%s: unsupported association kind", cur.Type.Name, a.Name)
}

// nodeCriteria is how the entity at path is recognised: its unique key when
// the header has one, otherwise every column of the row at that path.
func (ri *rowImport) nodeCriteria(ctx context.Context, et *schema.EntityType, path []string) (map[string]string, map[*ForeignKeyRef]*entity.Entity, bool, error) {
	r := ri.run
	key, _ := r.kr.uniqueKey(et, path, false)
	if key != nil {
		return r.kr.criteria(ctx, ri.tx, key, ri.cells)
	}
	crit := make(map[string]string)
	for i, c := range r.keepers {
		if c == nil || c.Owner != et || !samePath(c.Path(), path) || et.Field(c.Name) == nil {
			continue
		}
		crit[c.Name] = canonical(c.Type(r.tmpl.VirtualColumns), cell(ri.cells, i))
	}
	return crit, nil, true, nil
}

// build makes a new entity from criteria, with parents found for its key.
func (ri *rowImport) build(et *schema.EntityType, crit map[string]string, parents map[*ForeignKeyRef]*entity.Entity, path []string) *entity.Entity {
	e := entity.New(et)
	for name, text := range crit {
		if f := et.Field(name); f != nil && !f.Virtual && !f.ForeignKey {
			_ = e.Assign(name, text)
		}
	}
	for ref, p := range parents {
		e.SetParent(ref.Assoc, p)
	}
	ri.track(e, path)
	return e
}

func (ri *rowImport) track(e *entity.Entity, path []string) {
	if _, ok := ri.paths[e]; !ok {
		ri.paths[e] = strings.Join(path, "_")
	}
	ri.pending = append(ri.pending, PendingSave{Kind: SaveOwned, Entity: e})
}

// linkOwner ties a new has_one / has_many child to its owner.
func (ri *rowImport) linkOwner(owner *entity.Entity, a *schema.Association, child *entity.Entity) {
	if inv := child.Type.Association(a.Inverse); inv != nil && inv.Kind == schema.BelongsTo {
		child.SetParent(inv, owner)
	}
	ri.pending = append(ri.pending, PendingSave{Kind: SaveLinkHasOne, Parent: owner, Entity: child, Assoc: a})
}

func (ri *rowImport) assignReference(ctx context.Context, cur *entity.Entity, a *schema.Association, col *Column, idx int) error {
	raw := strings.TrimSpace(cell(ri.cells, idx))
	if raw == "" {
		return nil
	}
	target := a.TargetType
	found, err := lookup(ctx, ri.tx, target, map[string]string{col.Name: raw})
	if err != nil {
		return err
	}
	if found == nil && ri.run.partial[idx] && target.IsStored(col.Name) {
		matches, err := ri.tx.FindPrefix(ctx, target, col.Name, raw, 2)
		if err != nil {
			return err
		}
		if len(matches) == 1 {
			found = matches[0]
		}
	}
	if found == nil {
		ri.run.logger.Debug("no reference match", "row", ri.run.row, "entity", target.Name, "value", raw)
		return nil
	}
	cur.SetParent(a, found)
	return nil
}

func (ri *rowImport) belongsTo(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string) (*entity.Entity, error) {
	target := a.TargetType
	cand := cur.Parent(a.Name)
	if cand == nil && !cur.NewRecord() {
		if id, ok := cur.Get(a.ForeignKey).(int64); ok && id != 0 {
			p, err := ri.tx.Get(ctx, target, id)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			cand = p
		}
	}

	crit, parents, ok, err := ri.nodeCriteria(ctx, target, path)
	if err != nil {
		return nil, err
	}
	var next *entity.Entity
	switch {
	case cand != nil && cand.Matches(crit):
		next = cand
	case ok:
		if next, err = lookup(ctx, ri.tx, target, crit); err != nil {
			return nil, err
		}
	}
	if next == nil {
		next = ri.build(target, crit, parents, path)
	} else {
		ri.track(next, path)
	}
	cur.SetParent(a, next)
	return next, nil
}

// hasOne reuses the owner's current child when it matches the row,
// otherwise starts a new one.
func (ri *rowImport) hasOne(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string) (*entity.Entity, error) {
	var child *entity.Entity
	if !cur.NewRecord() {
		kids, err := ri.tx.Children(ctx, a, cur)
		if err != nil {
			return nil, err
		}
		if len(kids) > 0 {
			child = kids[len(kids)-1]
		}
	}
	crit, parents, _, err := ri.nodeCriteria(ctx, a.TargetType, path)
	if err != nil {
		return nil, err
	}
	if child != nil && child.Matches(crit) {
		ri.track(child, path)
		return child, nil
	}
	child = ri.build(a.TargetType, crit, parents, path)
	ri.linkOwner(cur, a, child)
	return child, nil
}

func (ri *rowImport) hasMany(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string) (*entity.Entity, error) {
	var kids []*entity.Entity
	if !cur.NewRecord() {
		var err error
		if kids, err = ri.tx.Children(ctx, a, cur); err != nil {
			return nil, err
		}
	}
	crit, parents, _, err := ri.nodeCriteria(ctx, a.TargetType, path)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		if k.Matches(crit) {
			ri.track(k, path)
			return k, nil
		}
	}
	child := ri.build(a.TargetType, crit, parents, path)
	ri.linkOwner(cur, a, child)
	return child, nil
}

// collectionTarget finds the target of a many-to-many hop: already linked,
// found anywhere, or new. linked reports the first case.
func (ri *rowImport) collectionTarget(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string) (*entity.Entity, bool, error) {
	var kids []*entity.Entity
	if !cur.NewRecord() {
		var err error
		if kids, err = ri.tx.Children(ctx, a, cur); err != nil {
			return nil, false, err
		}
	}
	crit, parents, ok, err := ri.nodeCriteria(ctx, a.TargetType, path)
	if err != nil {
		return nil, false, err
	}
	for _, k := range kids {
		if k.Matches(crit) {
			ri.track(k, path)
			return k, true, nil
		}
	}
	if ok {
		found, err := lookup(ctx, ri.tx, a.TargetType, crit)
		if err != nil {
			return nil, false, err
		}
		if found != nil {
			ri.track(found, path)
			return found, false, nil
		}
	}
	return ri.build(a.TargetType, crit, parents, path), false, nil
}

func (ri *rowImport) habtm(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string) (*entity.Entity, error) {
	t, linked, err := ri.collectionTarget(ctx, cur, a, path)
	if err != nil {
		return nil, err
	}
	if !linked {
		ri.pending = append(ri.pending, PendingSave{Kind: SaveLinkJoinTable, Parent: cur, Entity: t, Assoc: a})
	}
	return t, nil
}

// through links the target with a new join entity. A polymorphic source
// gets its type column set along with the key.
func (ri *rowImport) through(ctx context.Context, cur *entity.Entity, a *schema.Association, path []string) (*entity.Entity, error) {
	t, linked, err := ri.collectionTarget(ctx, cur, a, path)
	if err != nil || linked {
		return t, err
	}
	via, src := a.ThroughAssoc(), a.SourceAssoc()
	if via == nil || src == nil {
		return nil, fmt.Errorf("%s.%s: unresolved through association", cur.Type.Name, a.Name)
	}
	join := entity.New(via.TargetType)
	join.SetParent(src, t)
	ri.track(join, path)
	ri.linkOwner(cur, via, join)
	return t, nil
}

// assign writes one cell through the entity's setter table.
func (ri *rowImport) assign(e *entity.Entity, col *Column, idx int) {
	f := e.Type.Field(col.Name)
	if f == nil || f.Virtual {
		return
	}
	if err := e.Assign(col.Name, cell(ri.cells, idx)); err != nil {
		var pe *entity.ParseError
		if errors.As(err, &pe) {
			ri.addErr(col.Sym(), pe.Message(idx+1))
			return
		}
		ri.addErr(col.Sym(), err.Error())
	}
}

func (ri *rowImport) checkRequired() {
	for _, sym := range ri.run.tmpl.Required {
		for i, c := range ri.run.keepers {
			if c != nil && c.Sym() == sym && strings.TrimSpace(cell(ri.cells, i)) == "" {
				ri.addErr(sym, "can't be blank")
			}
		}
	}
}

// flush runs the deferred saves, most recent first, then saves the root.
func (ri *rowImport) flush(ctx context.Context) error {
	for i := len(ri.pending) - 1; i >= 0; i-- {
		p := ri.pending[i]
		var err error
		switch p.Kind {
		case SaveOwned:
			err = ri.save(ctx, p.Entity)

		case SaveLinkHasOne:
			if err = ri.save(ctx, p.Parent); err == nil {
				p.Entity.Set(p.Assoc.ForeignKey, p.Parent.ID())
				if p.Assoc.ForeignType != "" {
					p.Entity.Set(p.Assoc.ForeignType, p.Parent.Type.Name)
				}
				err = ri.save(ctx, p.Entity)
			}

		case SaveLinkJoinTable:
			if err = ri.save(ctx, p.Parent); err == nil {
				err = ri.save(ctx, p.Entity)
			}
			if err == nil {
				var linked bool
				linked, err = ri.tx.Linked(ctx, p.Assoc, p.Parent.ID(), p.Entity.ID())
				if err == nil && !linked {
					err = ri.tx.Link(ctx, p.Assoc, p.Parent.ID(), p.Entity.ID())
				}
			}
		}
		if err != nil {
			return err
		}
	}
	return ri.save(ctx, ri.root)
}

// save persists e after its belongs-to parents.
func (ri *rowImport) save(ctx context.Context, e *entity.Entity) error {
	if ri.saving[e] {
		return nil
	}
	ri.saving[e] = true
	defer delete(ri.saving, e)

	for _, a := range e.Type.BelongsTos() {
		p := e.Parent(a.Name)
		if p != nil && (p.NewRecord() || p.Changed()) {
			if err := ri.save(ctx, p); err != nil {
				return err
			}
		}
	}
	e.SyncForeignKeys()
	e.Normalize()
	if err := e.Validate(); err != nil {
		var verr *entity.ValidationError
		if !errors.As(err, &verr) {
			return err
		}
		prefix := ri.paths[e]
		for field, msgs := range verr.Fields {
			if prefix != "" {
				field = prefix + "_" + field
			}
			for _, m := range msgs {
				ri.addErr(field, m)
			}
		}
		return errRowInvalid
	}
	if !e.NewRecord() && !e.Changed() {
		return nil
	}
	return ri.tx.Save(ctx, e)
}

// headerTitle normalises a header cell: a leading "*" marks the column as
// part of the key, a following "~" asks for prefix lookup of a reference,
// and aliases are expanded before titleizing.
func headerTitle(raw string, aliases []Alias) (title string, starred, partial bool) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "*") {
		starred = true
		s = strings.TrimSpace(s[1:])
	}
	if strings.HasPrefix(s, "~") {
		partial = true
		s = strings.TrimSpace(s[1:])
	}
	return schema.Titleize(expandAlias(s, aliases)), starred, partial
}

// expandAlias rewrites a header through the first matching alias.
func expandAlias(s string, aliases []Alias) string {
	for _, a := range aliases {
		if (strings.HasSuffix(a.From, " ") && strings.HasPrefix(s, a.From)) || s == a.From {
			return a.To + s[len(a.From):]
		}
	}
	return s
}

func stripBOM(s string) string {
	for _, bom := range []string{"\ufeff", "\ufffe"} {
		s = strings.TrimPrefix(s, bom)
	}
	return s
}

func blankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func tupleSig(tuple []string) string { return strings.Join(tuple, "\x1f") }
