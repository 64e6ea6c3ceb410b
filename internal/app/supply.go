package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"partcad/internal/core"
	"partcad/internal/types"
)

// parseObject splits `<ref>#<count>`; the count defaults to one.
func parseObject(object string) (string, int, error) {
	ref, countText, found := strings.Cut(strings.TrimSpace(object), "#")
	if ref == "" {
		return "", 0, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid object %q", object))
	}
	if !found {
		return ref, 1, nil
	}
	count, err := strconv.Atoi(countText)
	if err != nil || count <= 0 {
		return "", 0, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid count in %q", object)).
			WithCause(err)
	}
	return ref, count, nil
}

func (s Service) cart(ctx context.Context, req SupplyRequest) (*core.Context, *core.Cart, error) {
	if len(req.Objects) == 0 {
		return nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("at least one object is required")
	}
	c, err := s.open(ctx, req.Target)
	if err != nil {
		return nil, nil, err
	}
	cart := core.NewCart(req.QoS)
	for _, object := range req.Objects {
		ref, count, err := parseObject(object)
		if err != nil {
			return nil, nil, err
		}
		if err := c.AddToCart(ctx, cart, ref, count); err != nil {
			return nil, nil, err
		}
	}
	log.Ctx(ctx).Debug().Int("items", cart.Len()).Str("qos", req.QoS).Msg("cart prepared")
	return c, cart, nil
}

func (s Service) SupplyFind(ctx context.Context, req SupplyRequest) (SupplyFindResult, error) {
	c, cart, err := s.cart(ctx, req)
	if err != nil {
		return SupplyFindResult{}, err
	}
	matches := c.FindSuppliers(ctx, cart)
	return SupplyFindResult{Matches: matches, Problems: c.Problems()}, nil
}

func (s Service) SupplyCaps(ctx context.Context, req SupplyRequest) (SupplyCapsResult, error) {
	if req.Provider == "" {
		return SupplyCapsResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("provider is required")
	}
	c, err := s.open(ctx, req.Target)
	if err != nil {
		return SupplyCapsResult{}, err
	}
	provider, err := c.GetProvider(req.Provider, req.Package)
	if err != nil {
		return SupplyCapsResult{}, err
	}
	caps, _ := provider.Caps(ctx)
	return SupplyCapsResult{Provider: provider.FullName(), Caps: caps, Problems: c.Problems()}, nil
}

// supplierCarts splits the cart across providers, or hands all of it to
// the requested provider.
func supplierCarts(ctx context.Context, c *core.Context, cart *core.Cart, req SupplyRequest) ([]types.SupplierCart, []types.CartItem, error) {
	if req.Provider == "" {
		carts, unmatched := c.PrepareSupplierCarts(ctx, cart)
		return carts, unmatched, nil
	}
	provider, err := c.GetProvider(req.Provider, req.Package)
	if err != nil {
		return nil, nil, err
	}
	return []types.SupplierCart{{Provider: provider.FullName(), Items: cart.Items(), QoS: cart.QoS}}, nil, nil
}

func (s Service) SupplyQuote(ctx context.Context, req SupplyRequest) (SupplyQuoteResult, error) {
	c, cart, err := s.cart(ctx, req)
	if err != nil {
		return SupplyQuoteResult{}, err
	}
	carts, unmatched, err := supplierCarts(ctx, c, cart, req)
	if err != nil {
		return SupplyQuoteResult{}, err
	}
	result := SupplyQuoteResult{Unmatched: unmatched}
	for _, supplierCart := range carts {
		provider, err := c.GetProvider(supplierCart.Provider, "")
		if err != nil {
			return SupplyQuoteResult{}, err
		}
		quote, ok := provider.Quote(ctx, supplierCart.Items, supplierCart.QoS)
		if !ok {
			result.Unmatched = append(result.Unmatched, supplierCart.Items...)
			continue
		}
		result.Quotes = append(result.Quotes, quote)
	}
	result.Problems = c.Problems()
	return result, nil
}

// SupplyOrder places one order per provider. Providers reporting the
// cart unavailable are skipped and their items returned as unmatched.
func (s Service) SupplyOrder(ctx context.Context, req SupplyRequest) (SupplyOrderResult, error) {
	c, cart, err := s.cart(ctx, req)
	if err != nil {
		return SupplyOrderResult{}, err
	}
	carts, unmatched, err := supplierCarts(ctx, c, cart, req)
	if err != nil {
		return SupplyOrderResult{}, err
	}
	result := SupplyOrderResult{Unmatched: unmatched}
	for _, supplierCart := range carts {
		provider, err := c.GetProvider(supplierCart.Provider, "")
		if err != nil {
			return SupplyOrderResult{}, err
		}
		if !provider.Avail(ctx, supplierCart.Items, supplierCart.QoS) {
			log.Ctx(ctx).Warn().Str("provider", provider.FullName()).Msg("items not available")
			result.Unmatched = append(result.Unmatched, supplierCart.Items...)
			continue
		}
		order, ok := provider.Order(ctx, supplierCart.Items, supplierCart.QoS)
		if !ok {
			result.Unmatched = append(result.Unmatched, supplierCart.Items...)
			continue
		}
		result.Orders = append(result.Orders, order)
	}
	result.Problems = c.Problems()
	return result, nil
}
