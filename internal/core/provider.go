package core

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/policies"
	"partcad/internal/types"
)

// Provider is a store or manufacturer reached through a provider script.
// Query failures are recorded on the provider and surface as empty
// results.
type Provider struct {
	Name        string
	PackageName string
	Type        types.ProviderType
	Desc        string

	path   string
	params map[string]types.Parameter
	pkg    *Package

	capsMu sync.Mutex
	caps   *types.ProviderCaps

	diagMu   sync.Mutex
	problems []Problem
}

func newProvider(pkg *Package, name string, cfg types.ItemConfig) (*Provider, error) {
	typ := types.ProviderType(cfg.String("type"))
	switch typ {
	case types.ProviderTypeStore, types.ProviderTypeManufacturer:
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("provider %s: unknown type %q", name, typ))
	}
	path := cfg.String("path")
	if path == "" {
		path = name + ".py"
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(pkg.Dir, path)
	}
	return &Provider{
		Name:        name,
		PackageName: pkg.Name,
		Type:        typ,
		Desc:        cfg.String("desc"),
		path:        path,
		params:      types.ParseParameters(cfg),
		pkg:         pkg,
	}, nil
}

func (p *Provider) FullName() string {
	return FormatResource(p.PackageName, p.Name)
}

func (p *Provider) Path() string {
	return p.path
}

func (p *Provider) Problems() []Problem {
	p.diagMu.Lock()
	defer p.diagMu.Unlock()
	return append([]Problem(nil), p.problems...)
}

func (p *Provider) fail(ctx context.Context, err error) {
	problem := p.pkg.c.Record(ctx, KindOfOr(err, types.ErrProviderQueryFailed), p.FullName(), err)
	p.diagMu.Lock()
	p.problems = append(p.problems, problem)
	p.diagMu.Unlock()
}

func (p *Provider) query(ctx context.Context, action types.ProviderAction, cart []types.CartItem, qos string) (map[string]any, error) {
	runner := p.pkg.c.ports.Runner
	if runner == nil {
		return nil, failure(types.ErrSandboxSpawnFailed, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg("no kernel runtime configured"))
	}
	if err := requireFile(p.path); err != nil {
		return nil, failure(types.ErrProviderQueryFailed, err)
	}
	result, err := runner.RunProviderScript(ctx, types.ProviderScriptRequest{
		Runtime:    p.pkg.runtimeSpec(),
		ScriptPath: p.path,
		Cwd:        p.pkg.Dir,
		Subject:    p.FullName(),
		Action:     action,
		Cart:       cart,
		QoS:        qos,
		Parameters: types.DefaultValues(p.params),
	})
	if err != nil {
		return nil, failure(types.ErrSandboxSpawnFailed, err)
	}
	if result.Exception != "" || result.Kind != "" {
		kind := result.Kind
		if kind == "" {
			kind = types.ErrProviderQueryFailed
		}
		return nil, failure(kind, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("%s %s: %s", p.FullName(), action, result.Exception)))
	}
	log.Ctx(ctx).Debug().Str("provider", p.FullName()).Str("action", string(action)).Msg("provider answered")
	return result.Output, nil
}

// Caps returns the provider's capabilities, querying the script on the
// first successful call only.
func (p *Provider) Caps(ctx context.Context) (types.ProviderCaps, bool) {
	p.capsMu.Lock()
	defer p.capsMu.Unlock()
	if p.caps != nil {
		return *p.caps, true
	}
	output, err := p.query(ctx, types.ProviderActionCaps, nil, "")
	if err != nil {
		p.fail(ctx, err)
		return types.ProviderCaps{}, false
	}
	caps := policies.NewSupplierPolicy().ParseCaps(output)
	p.caps = &caps
	return caps, true
}

// CanSupply reports whether the provider's caps cover the item.
func (p *Provider) CanSupply(ctx context.Context, item types.CartItem) bool {
	caps, ok := p.Caps(ctx)
	if !ok {
		return false
	}
	return policies.NewSupplierPolicy().Matches(p.Type, caps, item)
}

func (p *Provider) Avail(ctx context.Context, items []types.CartItem, qos string) bool {
	output, err := p.query(ctx, types.ProviderActionAvail, items, qos)
	if err != nil {
		p.fail(ctx, err)
		return false
	}
	available, _ := output["available"].(bool)
	return available
}

func (p *Provider) Quote(ctx context.Context, items []types.CartItem, qos string) (types.ProviderQuote, bool) {
	output, err := p.query(ctx, types.ProviderActionQuote, items, qos)
	if err != nil {
		p.fail(ctx, err)
		return types.ProviderQuote{}, false
	}
	quote := types.ProviderQuote{
		Provider: p.FullName(),
		QuoteID:  firstString(output, "quote_id", "quoteId", "qos"),
		Currency: firstString(output, "currency"),
		Items:    items,
		Raw:      output,
	}
	quote.Price, _ = types.ToFloat(output["price"])
	return quote, true
}

func (p *Provider) Order(ctx context.Context, items []types.CartItem, qos string) (types.ProviderOrder, bool) {
	output, err := p.query(ctx, types.ProviderActionOrder, items, qos)
	if err != nil {
		p.fail(ctx, err)
		return types.ProviderOrder{}, false
	}
	return types.ProviderOrder{
		Provider: p.FullName(),
		OrderID:  firstString(output, "order_id", "orderId"),
		Raw:      output,
	}, true
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := m[key].(string); ok && value != "" {
			return value
		}
	}
	return ""
}

// GetProvider looks a provider up by name relative to pkg.
func (c *Context) GetProvider(name string, pkg string) (*Provider, error) {
	owner, item, err := ResolveResource(JoinPackage(c.CurrentName, pkg), qualify(name))
	if err != nil {
		return nil, failure(types.ErrMalformedResource, err)
	}
	if p := c.Package(owner); p != nil {
		if provider := p.Provider(item); provider != nil {
			return provider, nil
		}
	}
	return nil, failure(types.ErrMissingDependency, errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(fmt.Sprintf("provider %s not found", FormatResource(owner, item))))
}

// Providers lists every provider in package load order.
func (c *Context) Providers() []*Provider {
	var out []*Provider
	for _, pkg := range c.Packages() {
		out = append(out, pkg.Providers()...)
	}
	return out
}
