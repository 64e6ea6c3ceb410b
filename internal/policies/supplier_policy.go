package policies

import (
	"strings"

	"partcad/internal/types"
)

// SupplierPolicy decides which cart items a provider can serve, based on
// the capabilities it reported.
type SupplierPolicy struct{}

func NewSupplierPolicy() SupplierPolicy {
	return SupplierPolicy{}
}

// Matches reports whether a provider of the given type with caps can supply
// item. Manufacturers must enumerate the requested material, and the color
// and finish when the item asks for one. Stores serve purchasable items
// whose vendor or SKU they list; caps without a catalogue accept every
// purchasable item.
func (SupplierPolicy) Matches(providerType types.ProviderType, caps types.ProviderCaps, item types.CartItem) bool {
	switch providerType {
	case types.ProviderTypeStore:
		if !item.Purchasable() {
			return false
		}
		if len(caps.Vendors) == 0 && len(caps.SKUs) == 0 {
			return true
		}
		for _, sku := range caps.SKUs {
			if sku.SKU != "" && equalFold(sku.SKU, item.SKU) && (sku.Vendor == "" || equalFold(sku.Vendor, item.Vendor)) {
				return true
			}
		}
		for _, vendor := range caps.Vendors {
			if equalFold(vendor, item.Vendor) {
				return true
			}
		}
		return false
	case types.ProviderTypeManufacturer:
		if item.Purchasable() || item.Material == "" {
			return false
		}
		material, ok := lookupFold(caps.Materials, item.Material)
		if !ok {
			return false
		}
		if item.Color != "" && !containsFold(material.Colors, item.Color) {
			return false
		}
		if item.Finish != "" && !containsFold(material.Finishes, item.Finish) {
			return false
		}
		return true
	default:
		return false
	}
}

// ParseCaps reads the capability document returned by a provider script:
//
//	materials: {<material>: {colors: [...], finishes: [...]}}
//	vendors: [...]
//	skus: [{vendor, sku}]
func (SupplierPolicy) ParseCaps(raw map[string]any) types.ProviderCaps {
	caps := types.ProviderCaps{Materials: map[string]types.MaterialCaps{}, Raw: raw}
	if materials, ok := raw["materials"].(map[string]any); ok {
		for name, value := range materials {
			entry, _ := value.(map[string]any)
			caps.Materials[name] = types.MaterialCaps{
				Colors:   stringList(entry["colors"]),
				Finishes: stringList(entry["finishes"]),
			}
		}
	}
	if materials, ok := raw["materials"].([]any); ok {
		for _, name := range stringList(materials) {
			caps.Materials[name] = types.MaterialCaps{}
		}
	}
	caps.Vendors = stringList(raw["vendors"])
	if skus, ok := raw["skus"].([]any); ok {
		for _, value := range skus {
			switch typed := value.(type) {
			case string:
				caps.SKUs = append(caps.SKUs, types.StoreSKU{SKU: typed})
			case map[string]any:
				vendor, _ := typed["vendor"].(string)
				sku, _ := typed["sku"].(string)
				caps.SKUs = append(caps.SKUs, types.StoreSKU{Vendor: vendor, SKU: sku})
			}
		}
	}
	return caps
}

func stringList(value any) []string {
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func containsFold(values []string, want string) bool {
	for _, value := range values {
		if equalFold(value, want) {
			return true
		}
	}
	return false
}

func lookupFold(materials map[string]types.MaterialCaps, want string) (types.MaterialCaps, bool) {
	if caps, ok := materials[want]; ok {
		return caps, true
	}
	for name, caps := range materials {
		if equalFold(name, want) {
			return caps, true
		}
	}
	return types.MaterialCaps{}, false
}
