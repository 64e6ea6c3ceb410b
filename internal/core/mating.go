package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/types"
)

// Mating records that two interfaces can be connected. The core never
// acts on it; it is metadata for whoever places parts.
type Mating struct {
	Source string
	Target string
	// SourcePort and TargetPort select a port on each side; empty means
	// the interface's lead port.
	SourcePort string
	TargetPort string
	Desc       string
	Config     map[string]any
	// Reverse is set on the edge recorded for the target side of a
	// declaration.
	Reverse bool

	// Shared by both directions of a declaration.
	uses *atomic.Int64
}

// Count reports how many times the pair has been looked up.
func (m Mating) Count() int64 {
	if m.uses == nil {
		return 0
	}
	return m.uses.Load()
}

func (m Mating) reversed() Mating {
	r := m
	r.Source, r.Target = m.Target, m.Source
	r.SourcePort, r.TargetPort = m.TargetPort, m.SourcePort
	r.Reverse = !m.Reverse
	return r
}

// MatingGraph is keyed by source then target interface full name.
type MatingGraph struct {
	mu    sync.RWMutex
	edges map[string]map[string]Mating
}

func NewMatingGraph() *MatingGraph {
	return &MatingGraph{edges: map[string]map[string]Mating{}}
}

// add keeps the first record for an ordered pair.
func (g *MatingGraph) add(m Mating) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	targets, ok := g.edges[m.Source]
	if !ok {
		targets = map[string]Mating{}
		g.edges[m.Source] = targets
	}
	if existing, ok := targets[m.Target]; ok && !existing.Reverse {
		return false
	}
	if _, ok := targets[m.Target]; ok && m.Reverse {
		return false
	}
	targets[m.Target] = m
	return true
}

// Of returns the mates of one interface ordered by target.
func (g *MatingGraph) Of(source string) []Mating {
	g.mu.RLock()
	defer g.mu.RUnlock()
	targets := g.edges[source]
	out := make([]Mating, 0, len(targets))
	for _, name := range sortedKeys(targets) {
		out = append(out, targets[name])
	}
	return out
}

// All returns every recorded edge ordered by source and target.
func (g *MatingGraph) All() []Mating {
	g.mu.RLock()
	sources := sortedKeys(g.edges)
	g.mu.RUnlock()
	var out []Mating
	for _, source := range sources {
		out = append(out, g.Of(source)...)
	}
	return out
}

// Lookup returns the edge from source to target and counts the use.
func (g *MatingGraph) Lookup(source, target string) (Mating, bool) {
	g.mu.RLock()
	m, ok := g.edges[source][target]
	g.mu.RUnlock()
	if ok && m.uses != nil {
		m.uses.Add(1)
	}
	return m, ok
}

func (g *MatingGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, targets := range g.edges {
		n += len(targets)
	}
	return n
}

// mateTargets reads `target`, `[targets]` or `{target: config}`. The long
// form config may carry source_port, target_port and desc.
func mateTargets(raw any) map[string]map[string]any {
	out := map[string]map[string]any{}
	switch typed := raw.(type) {
	case string:
		out[typed] = nil
	case []any:
		for _, item := range typed {
			if name, ok := item.(string); ok {
				out[name] = nil
			}
		}
	case map[string]any:
		for name, value := range typed {
			cfg, _ := value.(map[string]any)
			out[name] = cfg
		}
	}
	return out
}

// AddMates validates each target and records the pair in both directions.
// Failures are recorded and the remaining targets are still added.
func (c *Context) AddMates(ctx context.Context, source *Interface, targets map[string]map[string]any) int {
	added := 0
	if source.Abstract {
		c.Record(ctx, types.ErrAbstractMate, source.FullName(), errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("abstract interface %s cannot mate", source.FullName())))
		return 0
	}
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		target, err := c.findInterface(name, source.PackageName)
		if err != nil {
			c.Record(ctx, KindOfOr(err, types.ErrUnknownInterface), source.FullName(), err)
			continue
		}
		if target.Abstract {
			c.Record(ctx, types.ErrAbstractMate, source.FullName(), errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("abstract interface %s cannot mate", target.FullName())))
			continue
		}
		m := newMating(source.FullName(), target.FullName(), targets[name])
		if c.mates.add(m) {
			added++
		}
		c.mates.add(m.reversed())
	}
	return added
}

func newMating(source, target string, cfg map[string]any) Mating {
	item := types.ItemConfig(cfg)
	m := Mating{
		Source:     source,
		Target:     target,
		SourcePort: item.String("source_port"),
		TargetPort: item.String("target_port"),
		Desc:       item.String("desc"),
		Config:     cfg,
		uses:       &atomic.Int64{},
	}
	if m.SourcePort == "" {
		m.SourcePort = item.String("sourcePort")
	}
	if m.TargetPort == "" {
		m.TargetPort = item.String("targetPort")
	}
	return m
}

// registerMates collects declarations from interfaces and from top-level
// `mates` sections, in package load order.
func (c *Context) registerMates(ctx context.Context) {
	for _, pkg := range c.Packages() {
		for _, iface := range pkg.Interfaces() {
			if len(iface.mates) > 0 {
				c.AddMates(ctx, iface, iface.mates)
			}
		}
		for _, item := range pkg.Manifest.Mates {
			source, err := c.findInterface(item.Name, pkg.Name)
			if err != nil {
				c.Record(ctx, KindOfOr(err, types.ErrUnknownInterface), FormatResource(pkg.Name, item.Name), err)
				continue
			}
			raw := any(map[string]any(item.Config))
			if value, ok := item.Config["value"]; ok {
				raw = value
			}
			c.AddMates(ctx, source, mateTargets(raw))
		}
	}
	log.Ctx(ctx).Debug().Int("mates", c.mates.Len()).Msg("registered mates")
}
