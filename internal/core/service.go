package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/rowgraph/internal/logging"
	"github.com/JonMunkholm/rowgraph/internal/schema"
	"github.com/JonMunkholm/rowgraph/internal/store"
)

// ErrRunNotFound is returned for an unknown or expired import run ID.
var ErrRunNotFound = errors.New("import run not found")

// RunRetention is how long a finished background run stays queryable.
var RunRetention = 5 * time.Minute

// ServiceConfig tunes a Service.
type ServiceConfig struct {
	CommitEvery   int
	Timeout       time.Duration
	InnerJoins    bool
	MaxConcurrent int
	MaxWait       time.Duration
}

// Service is the entry point used by the HTTP adapter and the CLI. It looks
// up entities and templates by name and runs imports under the limiter.
type Service struct {
	st        store.Store
	schema    *schema.Registry
	templates *TemplateRegistry
	limiter   *ImportLimiter
	cfg       ServiceConfig

	mu   sync.RWMutex
	runs map[string]*activeImport
}

type activeImport struct {
	Entity string
	Cancel context.CancelFunc
	Done   chan struct{}
	Result *Result
	Err    error

	mu        sync.Mutex
	progress  Progress
	listeners []chan Progress
	finished  bool
}

// NewService creates a Service. A nil templates registry is treated as
// empty, so every entity falls back to its suggested template.
func NewService(st store.Store, reg *schema.Registry, templates *TemplateRegistry, cfg ServiceConfig) *Service {
	if templates == nil {
		templates = NewTemplateRegistry()
	}
	return &Service{
		st:        st,
		schema:    reg,
		templates: templates,
		limiter:   NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		cfg:       cfg,
		runs:      make(map[string]*activeImport),
	}
}

// Limiter exposes the import limiter for status reporting and shutdown.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// Entity returns the entity type registered under name.
func (s *Service) Entity(name string) (*schema.EntityType, error) {
	et, ok := s.schema.Entity(name)
	if !ok {
		return nil, &UnknownEntityError{Name: name}
	}
	return et, nil
}

// Template returns the registered template of an entity, or the suggested one.
func (s *Service) Template(name string) (*Template, error) {
	et, err := s.Entity(name)
	if err != nil {
		return nil, err
	}
	return s.templates.TemplateFor(et), nil
}

// Entities lists every entity with the headers of its template.
func (s *Service) Entities() []EntityInfo {
	ets := s.schema.Entities()
	infos := make([]EntityInfo, 0, len(ets))
	for _, et := range ets {
		_, registered := s.templates.Get(et.Name)
		tmpl := s.templates.TemplateFor(et)

		info := EntityInfo{Name: et.Name, Table: et.Table, HasTemplate: registered}
		if res, err := Resolve(s.schema, s.templates, et, tmpl); err == nil {
			info.Columns = Headers(res, tmpl)
		}
		for _, u := range tmpl.Uniques {
			info.Uniques = append(info.Uniques, strings.Join(u, "+"))
		}
		infos = append(infos, info)
	}
	return infos
}

// Suggest proposes a template for the named entity.
func (s *Service) Suggest(name string, hops int, doHasMany bool) (*Template, error) {
	et, err := s.Entity(name)
	if err != nil {
		return nil, err
	}
	return Suggest(et, hops, doHasMany), nil
}

// Export renders the named entity with its template.
func (s *Service) Export(ctx context.Context, name string, withData bool) ([][]string, error) {
	et, err := s.Entity(name)
	if err != nil {
		return nil, err
	}
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	x := NewExporter(s.st, s.schema, s.templates, ExportOptions{Inner: s.cfg.InnerJoins})
	return x.Export(ctx, et, s.templates.TemplateFor(et), withData)
}

// Import runs an import of the named entity and waits for it. It holds an
// import slot for the duration.
func (s *Service) Import(ctx context.Context, name string, src RowReader) (*Result, error) {
	et, err := s.Entity(name)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	return s.importer(Options{}).Import(ctx, et, s.templates.TemplateFor(et), src)
}

// Preview runs the import of the named entity and rolls it back, returning
// what it would have inserted, updated and rejected.
func (s *Service) Preview(ctx context.Context, name string, src RowReader) (*Result, error) {
	et, err := s.Entity(name)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	return s.importer(Options{DryRun: true}).Import(ctx, et, s.templates.TemplateFor(et), src)
}

func (s *Service) importer(opts Options) *Importer {
	opts.CommitEvery = s.cfg.CommitEvery
	return NewImporter(s.st, s.schema, s.templates, opts)
}

// StartImport begins an import in the background and returns its run ID
// immediately. Use SubscribeProgress to follow it and ImportResult to wait
// for the outcome. src must not depend on the caller's request lifetime.
func (s *Service) StartImport(ctx context.Context, name string, src RowReader) (string, error) {
	et, err := s.Entity(name)
	if err != nil {
		return "", err
	}
	if !s.limiter.TryAcquire() {
		return "", ErrTooManyImports
	}

	runID := uuid.NewString()
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	// Detach from the request but keep its request ID for logging.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)

	run := &activeImport{
		Entity:   et.Name,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: Progress{RunID: runID, Entity: et.Name, Phase: PhaseAwaitingHeader},
	}

	s.mu.Lock()
	s.runs[runID] = run
	s.mu.Unlock()

	go func() {
		defer s.limiter.Release()
		defer cancel()
		defer s.cleanup(runID, RunRetention)
		defer close(run.Done)
		defer run.closeListeners()

		im := s.importer(Options{RunID: runID, Progress: run.update})
		run.Result, run.Err = im.Import(runCtx, et, s.templates.TemplateFor(et), src)
		if run.Err != nil {
			logging.FromContext(runCtx).Error("background import failed",
				"run_id", runID, "entity", et.Name, "error", run.Err)
		}
	}()

	return runID, nil
}

func (s *Service) run(runID string) (*activeImport, error) {
	s.mu.RLock()
	run, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, nil
}

// SubscribeProgress returns a channel of progress updates for a run. The
// channel is closed when the run finishes.
func (s *Service) SubscribeProgress(runID string) (<-chan Progress, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}

	ch := make(chan Progress, 10)

	run.mu.Lock()
	defer run.mu.Unlock()
	// Send current progress immediately
	ch <- run.progress
	if run.finished {
		close(ch)
	} else {
		run.listeners = append(run.listeners, ch)
	}
	return ch, nil
}

// CancelImport cancels a running import.
func (s *Service) CancelImport(runID string) error {
	run, err := s.run(runID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// ImportResult waits for a run to finish and returns its outcome.
func (s *Service) ImportResult(ctx context.Context, runID string) (*Result, error) {
	run, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.Done:
		return run.Result, run.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ImportProgress returns the latest progress of a run without blocking.
func (s *Service) ImportProgress(runID string) (Progress, error) {
	run, err := s.run(runID)
	if err != nil {
		return Progress{}, err
	}
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// update records p and fans it out to listeners.
func (run *activeImport) update(p Progress) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.progress = p
	for _, ch := range run.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (run *activeImport) closeListeners() {
	run.mu.Lock()
	defer run.mu.Unlock()

	for _, ch := range run.listeners {
		close(ch)
	}
	run.listeners = nil
	run.finished = true
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(runID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.runs, runID)
		s.mu.Unlock()
	})
}
