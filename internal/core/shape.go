package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"partcad/internal/kernel"
	"partcad/internal/shared"
	"partcad/internal/types"
)

// kindError tags a materialization failure with the kind it is recorded as.
type kindError struct {
	kind types.ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func failure(kind types.ErrorKind, err error) error {
	return &kindError{kind: kind, err: err}
}

// KindOf returns the recorded kind of a failure returned by the core.
func KindOf(err error) types.ErrorKind {
	var tagged *kindError
	if errors.As(err, &tagged) {
		return tagged.kind
	}
	return ""
}

// Shape is a sketch, part or assembly registered in a package. Its kernel
// shape is materialized at most once and never changes afterwards.
type Shape struct {
	Name        string
	Kind        types.ShapeKind
	PackageName string

	pkg *Package

	cfgMu    sync.RWMutex
	config   types.ItemConfig
	params   map[string]types.Parameter
	factory  Factory
	resolved bool

	mu      sync.Mutex
	shape   *kernel.Shape
	failed  error
	builds  atomic.Int64
	count   atomic.Int64
	assy    assemblyState
	diagMu  sync.Mutex
	diag    []string
	history []Problem
}

func newShape(pkg *Package, kind types.ShapeKind, name string, cfg types.ItemConfig) (*Shape, error) {
	factory, err := newFactory(pkg, kind, name, cfg)
	if err != nil {
		return nil, err
	}
	return &Shape{
		Name:        name,
		Kind:        kind,
		PackageName: pkg.Name,
		pkg:         pkg,
		config:      cfg,
		params:      types.ParseParameters(cfg),
		factory:     factory,
		resolved:    !isIndirect(factory),
	}, nil
}

func isIndirect(f Factory) bool {
	switch f.(type) {
	case *AliasFactory, *EnrichFactory:
		return true
	default:
		return false
	}
}

func (s *Shape) FullName() string {
	return FormatResource(s.PackageName, s.Name)
}

func (s *Shape) Package() *Package {
	return s.pkg
}

// Config is the item's canonical configuration. Callers must not modify it.
func (s *Shape) Config() types.ItemConfig {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.config
}

func (s *Shape) Desc() string {
	return s.Config().String("desc")
}

func (s *Shape) Parameters() map[string]types.Parameter {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.params
}

// ParameterValues are the values a script is built with.
func (s *Shape) ParameterValues() map[string]any {
	return types.DefaultValues(s.Parameters())
}

func (s *Shape) Factory() Factory {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.factory
}

// Path is the anchored source file, if the factory reads one.
func (s *Shape) Path() string {
	if backed, ok := s.Factory().(interface{ SourcePath() string }); ok {
		return backed.SourcePath()
	}
	return ""
}

// Count is how many times the shape was added to an assembly.
func (s *Shape) Count() int {
	return int(s.count.Load())
}

// Materializations counts completed factory runs, successful or not.
func (s *Shape) Materializations() int {
	return int(s.builds.Load())
}

// Diagnostics returns what kernel scripts wrote to stderr for this shape.
func (s *Shape) Diagnostics() []string {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	return append([]string(nil), s.diag...)
}

// Problems returns the failures attached to this shape.
func (s *Shape) Problems() []Problem {
	s.diagMu.Lock()
	defer s.diagMu.Unlock()
	return append([]Problem(nil), s.history...)
}

func (s *Shape) addDiagnostic(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.diagMu.Lock()
	s.diag = append(s.diag, text)
	s.diagMu.Unlock()
}

func (s *Shape) attach(ctx context.Context, kind types.ErrorKind, err error) {
	problem := s.pkg.c.Record(ctx, kind, s.FullName(), err)
	s.diagMu.Lock()
	s.history = append(s.history, problem)
	s.diagMu.Unlock()
}

// GetShape materializes the shape on first use. Concurrent callers wait on
// the shape's mutex; once stored, the same handle is returned to everyone.
// A failure leaves the shape unmaterialized so the next call retries,
// unless failures are cached for the context.
func (s *Shape) GetShape(ctx context.Context) (*kernel.Shape, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shape != nil {
		return s.shape, nil
	}
	if s.failed != nil {
		return nil, s.failed
	}

	actx, activity := shared.WithAction(ctx, s.FullName())
	if err := s.pkg.c.settle(actx, s); err != nil {
		activity.Done(err)
		return nil, s.fail(actx, err)
	}
	result, err := s.Factory().Materialize(actx, s)
	s.builds.Add(1)
	activity.Done(err)
	if err != nil {
		return nil, s.fail(actx, err)
	}
	if result == nil {
		result = kernel.Compound()
	}
	s.shape = result
	log.Ctx(ctx).Debug().Str("shape", s.FullName()).Int("solids", result.SolidCount()).Msg("materialized")
	return result, nil
}

func (s *Shape) fail(ctx context.Context, err error) error {
	kind := KindOf(err)
	if kind == "" {
		kind = types.ErrKernelException
	}
	s.attach(ctx, kind, err)
	if s.pkg.c.Config.CacheFailures {
		s.failed = err
	}
	return err
}

// clone makes an unlisted copy with other parameter defaults. The factory
// is shared: it reads parameter values from the shape it builds.
func (s *Shape) clone(name string, params map[string]types.Parameter) *Shape {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	cfg := s.config.Clone()
	raw := map[string]any{}
	for key, param := range params {
		entry := map[string]any{"type": string(param.Type), "default": param.Default}
		if param.Min != nil {
			entry["min"] = *param.Min
		}
		if param.Max != nil {
			entry["max"] = *param.Max
		}
		if len(param.Enum) > 0 {
			entry["enum"] = param.Enum
		}
		if param.Desc != "" {
			entry["desc"] = param.Desc
		}
		raw[key] = entry
	}
	if len(raw) > 0 {
		cfg["parameters"] = raw
	}
	delete(cfg, "aliases")
	return &Shape{
		Name:        name,
		Kind:        s.Kind,
		PackageName: s.PackageName,
		pkg:         s.pkg,
		config:      cfg,
		params:      params,
		factory:     s.factory,
		resolved:    true,
	}
}

func (s *Shape) String() string {
	return fmt.Sprintf("%s %s (%s)", s.Kind, s.FullName(), s.Factory().Type())
}
