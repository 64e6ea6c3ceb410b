package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"partcad/internal/policies"
	"partcad/internal/types"
)

// Cart is a set of parts with a count each. Adding the same part twice
// adds the counts.
type Cart struct {
	QoS string

	mu    sync.Mutex
	items map[string]*types.CartItem
	order []string
}

func NewCart(qos string) *Cart {
	return &Cart{QoS: qos, items: map[string]*types.CartItem{}}
}

func (c *Cart) add(item types.CartItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[item.Part]; ok {
		existing.Count += item.Count
		return
	}
	c.items[item.Part] = &item
	c.order = append(c.order, item.Part)
}

// Items returns the cart's items in the order they were first added.
func (c *Cart) Items() []types.CartItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.CartItem, 0, len(c.order))
	for _, part := range c.order {
		out = append(out, *c.items[part])
	}
	return out
}

func (c *Cart) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// AddToCart adds count copies of a part, or of every part in an
// assembly's bill of materials.
func (c *Context) AddToCart(ctx context.Context, cart *Cart, ref string, count int) error {
	if count <= 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("count for %s must be positive", ref))
	}
	part, err := c.GetPart(ctx, ref, "", nil)
	if err == nil {
		cart.add(cartItem(part.resolvedTarget(), count))
		return nil
	}
	assembly, assyErr := c.GetAssembly(ctx, ref, "", nil)
	if assyErr != nil {
		return err
	}
	bom, err := assembly.bomLines(ctx)
	if err != nil {
		return err
	}
	for _, line := range bom {
		cart.add(cartItem(line.part, line.count*count))
	}
	log.Ctx(ctx).Debug().Str("assembly", assembly.FullName()).Int("parts", len(bom)).Msg("added assembly to cart")
	return nil
}

// cartItem reads traits from `manufacturable` first, then from the
// part's top-level keys.
func cartItem(part *Shape, count int) types.CartItem {
	cfg := part.Config()
	traits := types.ItemConfig(cfg.Map("manufacturable"))
	trait := func(key string) string {
		if value := traits.String(key); value != "" {
			return value
		}
		return cfg.String(key)
	}
	item := types.CartItem{
		Part:     part.FullName(),
		Count:    count,
		Material: trait("material"),
		Color:    trait("color"),
		Finish:   trait("finish"),
		Vendor:   cfg.String("vendor"),
		SKU:      cfg.String("sku"),
		URL:      cfg.String("url"),
	}
	if perSKU, ok := types.ToFloat(cfg["count_per_sku"]); ok {
		item.CountPerSKU = int(perSKU)
	}
	return item
}

// FindSuppliers pairs every cart item with the providers whose caps cover
// it. Caps are fetched concurrently, once per provider; a provider whose
// caps cannot be fetched matches nothing.
func (c *Context) FindSuppliers(ctx context.Context, cart *Cart) []types.SupplierMatch {
	providers := c.Providers()
	caps := make([]types.ProviderCaps, len(providers))
	ready := make([]bool, len(providers))
	var group errgroup.Group
	group.SetLimit(max(1, c.Config.ThreadsMax))
	for i, provider := range providers {
		group.Go(func() error {
			caps[i], ready[i] = provider.Caps(ctx)
			return nil
		})
	}
	_ = group.Wait()

	policy := policies.NewSupplierPolicy()
	items := cart.Items()
	out := make([]types.SupplierMatch, 0, len(items))
	for _, item := range items {
		match := types.SupplierMatch{Item: item}
		for i, provider := range providers {
			if ready[i] && policy.Matches(provider.Type, caps[i], item) {
				match.Providers = append(match.Providers, provider.FullName())
			}
		}
		out = append(out, match)
	}
	return out
}

// PrepareSupplierCarts assigns each item to its first matching provider
// and returns one cart per provider, plus the items nobody can supply.
func (c *Context) PrepareSupplierCarts(ctx context.Context, cart *Cart) ([]types.SupplierCart, []types.CartItem) {
	var carts []types.SupplierCart
	index := map[string]int{}
	var unmatched []types.CartItem
	for _, match := range c.FindSuppliers(ctx, cart) {
		if len(match.Providers) == 0 {
			unmatched = append(unmatched, match.Item)
			continue
		}
		provider := match.Providers[0]
		i, ok := index[provider]
		if !ok {
			i = len(carts)
			index[provider] = i
			carts = append(carts, types.SupplierCart{Provider: provider, QoS: cart.QoS})
		}
		carts[i].Items = append(carts[i].Items, match.Item)
	}
	return carts, unmatched
}
