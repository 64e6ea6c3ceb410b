package types

type CartItem struct {
	Part        string `codec:"part"`
	Count       int    `codec:"count"`
	Material    string `codec:"material,omitempty"`
	Color       string `codec:"color,omitempty"`
	Finish      string `codec:"finish,omitempty"`
	Vendor      string `codec:"vendor,omitempty"`
	SKU         string `codec:"sku,omitempty"`
	CountPerSKU int    `codec:"count_per_sku,omitempty"`
	URL         string `codec:"url,omitempty"`
}

// Purchasable items come from a store catalogue instead of being made.
func (i CartItem) Purchasable() bool {
	return i.Vendor != "" || i.SKU != ""
}

type MaterialCaps struct {
	Colors   []string
	Finishes []string
}

type StoreSKU struct {
	Vendor string
	SKU    string
}

type ProviderCaps struct {
	Materials map[string]MaterialCaps
	Vendors   []string
	SKUs      []StoreSKU
	Raw       map[string]any
}

type SupplierMatch struct {
	Item      CartItem
	Providers []string
}

type SupplierCart struct {
	Provider string
	Items    []CartItem
	QoS      string
}

type ProviderQuote struct {
	Provider string
	QuoteID  string
	Price    float64
	Currency string
	Items    []CartItem
	Raw      map[string]any
}

type ProviderOrder struct {
	Provider string
	OrderID  string
	Raw      map[string]any
}

type BOMEntry struct {
	Part  string
	Count int
}

// BOMReport is the flattened bill of materials of one assembly as written
// to disk.
type BOMReport struct {
	Assembly  string
	CreatedAt string
	Entries   []BOMEntry
}
