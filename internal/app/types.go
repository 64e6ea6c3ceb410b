package app

import (
	"partcad/internal/core"
	"partcad/internal/kernel"
	"partcad/internal/types"
)

// Target names the package directory a request operates on. An empty Path
// means the working directory; Package selects a package inside the tree.
type Target struct {
	Path    string
	Package string
}

type InitRequest struct {
	Dir     string
	Desc    string
	Private bool
}

type InitResult struct {
	ManifestPath string
}

type AddImportRequest struct {
	Dir      string
	Alias    string
	Location string
	Revision string
	RelPath  string
}

type AddItemRequest struct {
	Dir  string
	Kind types.ShapeKind
	Type types.FactoryType
	Path string
	Name string
	Desc string
}

type AddItemResult struct {
	Name string
	Type types.FactoryType
}

type InfoResult struct {
	Name          string
	Dir           string
	Desc          string
	URL           string
	POC           string
	ToolSpec      string
	PythonVersion string
	Imports       []string
	Counts        map[types.ShapeKind]int
	Interfaces    int
	Providers     int
	Problems      []core.Problem
}

type InstallRequest struct {
	Target
	Force bool
}

type InstallResult struct {
	Packages []string
	Problems []core.Problem
}

// ListKind selects what List enumerates. Shape kinds reuse the
// types.ShapeKind values.
type ListKind string

const (
	ListParts      ListKind = ListKind(types.ShapeKindPart)
	ListSketches   ListKind = ListKind(types.ShapeKindSketch)
	ListAssemblies ListKind = ListKind(types.ShapeKindAssembly)
	ListInterfaces ListKind = "interface"
	ListProviders  ListKind = "provider"
	ListPackages   ListKind = "package"
)

type ListRequest struct {
	Target
	Kinds     []ListKind
	Recursive bool
}

type ListEntry struct {
	Kind    ListKind
	Package string
	Name    string
	Type    string
	Desc    string
	Usage   int
}

type ListResult struct {
	Entries  []ListEntry
	Problems []core.Problem
}

type ListMatesRequest struct {
	Target
	Interface string
}

type MateEntry struct {
	Source     string
	Target     string
	SourcePort string
	TargetPort string
	Desc       string
	Reverse    bool
	Count      int64
}

type ListMatesResult struct {
	Mates    []MateEntry
	Problems []core.Problem
}

type InspectRequest struct {
	Target
	Kind   types.ShapeKind
	Name   string
	Params map[string]any
	// BOMOut, when set, receives the assembly's bill of materials.
	BOMOut string
}

type InspectResult struct {
	FullName    string
	Type        types.FactoryType
	Solids      int
	Box         kernel.BoundingBox
	Children    []string
	BOM         []types.BOMEntry
	Diagnostics []string
	BOMPath     string
	Problems    []core.Problem
}

type StatusResult struct {
	StateDir string
	Entries  []types.StateEntry
}

// SupplyRequest describes a cart. Objects are `<ref>[#<count>]`.
type SupplyRequest struct {
	Target
	Objects  []string
	QoS      string
	Provider string
}

type SupplyFindResult struct {
	Matches  []types.SupplierMatch
	Problems []core.Problem
}

type SupplyCapsResult struct {
	Provider string
	Caps     types.ProviderCaps
	Problems []core.Problem
}

type SupplyQuoteResult struct {
	Quotes    []types.ProviderQuote
	Unmatched []types.CartItem
	Problems  []core.Problem
}

type SupplyOrderResult struct {
	Orders    []types.ProviderOrder
	Unmatched []types.CartItem
	Problems  []core.Problem
}

type VersionResult struct {
	Tool      string
	GoVersion string
	Python    string
}
