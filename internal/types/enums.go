package types

type ShapeKind string

const (
	ShapeKindPart     ShapeKind = "part"
	ShapeKindSketch   ShapeKind = "sketch"
	ShapeKindAssembly ShapeKind = "assembly"
)

type SourceType string

const (
	SourceTypeLocal SourceType = "local"
	SourceTypeGit   SourceType = "git"
	SourceTypeTar   SourceType = "tar"
)

type FactoryType string

const (
	FactoryTypeCadQuery    FactoryType = "cadquery"
	FactoryTypeBuild123d   FactoryType = "build123d"
	FactoryTypeOpenSCAD    FactoryType = "openscad"
	FactoryTypeStep        FactoryType = "step"
	FactoryTypeStl         FactoryType = "stl"
	FactoryType3mf         FactoryType = "3mf"
	FactoryTypeBrep        FactoryType = "brep"
	FactoryTypeDxf         FactoryType = "dxf"
	FactoryTypeSvg         FactoryType = "svg"
	FactoryTypeBasic       FactoryType = "basic"
	FactoryTypeExtrude     FactoryType = "extrude"
	FactoryTypeAlias       FactoryType = "alias"
	FactoryTypeEnrich      FactoryType = "enrich"
	FactoryTypeAICadQuery  FactoryType = "ai-cadquery"
	FactoryTypeAIBuild123d FactoryType = "ai-build123d"
	FactoryTypeAIOpenSCAD  FactoryType = "ai-openscad"
	FactoryTypeAssy        FactoryType = "assy"
	FactoryTypeUnknown     FactoryType = ""
)

const (
	defaultPartFactory     = FactoryTypeCadQuery
	defaultAssemblyFactory = FactoryTypeAssy
)

// DefaultFactoryType returns the factory used when an item omits `type`.
// File-backed kinds are inferred from the path extension first.
func DefaultFactoryType(kind ShapeKind, path string) FactoryType {
	if inferred := FactoryTypeForExtension(path); inferred != FactoryTypeUnknown {
		return inferred
	}
	if kind == ShapeKindAssembly {
		return defaultAssemblyFactory
	}
	return defaultPartFactory
}

// FactoryTypeForExtension maps a file extension onto the factory that
// reads it, or FactoryTypeUnknown.
func FactoryTypeForExtension(path string) FactoryType {
	switch extension(path) {
	case "py":
		return FactoryTypeCadQuery
	case "scad":
		return FactoryTypeOpenSCAD
	case "step", "stp":
		return FactoryTypeStep
	case "stl":
		return FactoryTypeStl
	case "3mf":
		return FactoryType3mf
	case "brep":
		return FactoryTypeBrep
	case "dxf":
		return FactoryTypeDxf
	case "svg":
		return FactoryTypeSvg
	case "assy":
		return FactoryTypeAssy
	default:
		return FactoryTypeUnknown
	}
}

// Extension is the file extension a factory's `path` defaults to.
func (f FactoryType) Extension() string {
	switch f {
	case FactoryTypeCadQuery, FactoryTypeBuild123d, FactoryTypeAICadQuery, FactoryTypeAIBuild123d, FactoryTypeBasic, FactoryTypeExtrude:
		return "py"
	case FactoryTypeOpenSCAD, FactoryTypeAIOpenSCAD:
		return "scad"
	case FactoryTypeStep, FactoryTypeStl, FactoryType3mf, FactoryTypeBrep, FactoryTypeDxf, FactoryTypeSvg, FactoryTypeAssy:
		return string(f)
	default:
		return ""
	}
}

// IsFileBacked reports whether the factory reads a file from the package
// directory instead of running a script.
func (f FactoryType) IsFileBacked() bool {
	switch f {
	case FactoryTypeStep, FactoryTypeStl, FactoryType3mf, FactoryTypeBrep, FactoryTypeDxf, FactoryTypeSvg:
		return true
	default:
		return false
	}
}

func (f FactoryType) IsAI() bool {
	switch f {
	case FactoryTypeAICadQuery, FactoryTypeAIBuild123d, FactoryTypeAIOpenSCAD:
		return true
	default:
		return false
	}
}

// ScriptLanguage is the kernel language targeted by an ai-* factory.
func (f FactoryType) ScriptLanguage() FactoryType {
	switch f {
	case FactoryTypeAICadQuery:
		return FactoryTypeCadQuery
	case FactoryTypeAIBuild123d:
		return FactoryTypeBuild123d
	case FactoryTypeAIOpenSCAD:
		return FactoryTypeOpenSCAD
	default:
		return f
	}
}

type SandboxStrategy string

const (
	SandboxNone  SandboxStrategy = "none"
	SandboxConda SandboxStrategy = "conda"
	SandboxPyPy  SandboxStrategy = "pypy"
)

type ParameterType string

const (
	ParameterTypeInt    ParameterType = "int"
	ParameterTypeFloat  ParameterType = "float"
	ParameterTypeString ParameterType = "string"
	ParameterTypeBool   ParameterType = "bool"
)

type InterfaceParamType string

const (
	InterfaceParamTranslate InterfaceParamType = "translate"
	InterfaceParamRotate    InterfaceParamType = "rotate"
)

type ProviderType string

const (
	ProviderTypeStore        ProviderType = "store"
	ProviderTypeManufacturer ProviderType = "manufacturer"
)

type ProviderAction string

const (
	ProviderActionCaps  ProviderAction = "caps"
	ProviderActionAvail ProviderAction = "avail"
	ProviderActionQuote ProviderAction = "quote"
	ProviderActionOrder ProviderAction = "order"
)

// ErrorKind classifies problems recorded on a context, shape or provider.
type ErrorKind string

const (
	ErrManifestParse        ErrorKind = "manifest-parse"
	ErrToolVersionMismatch  ErrorKind = "tool-version-mismatch"
	ErrImportCycle          ErrorKind = "import-cycle"
	ErrFetchFailed          ErrorKind = "fetch-failed"
	ErrMissingFile          ErrorKind = "missing-file"
	ErrMalformedResource    ErrorKind = "malformed-resource-path"
	ErrUnknownFactoryType   ErrorKind = "unknown-factory-type"
	ErrMissingDependency    ErrorKind = "missing-dependency"
	ErrSandboxSpawnFailed   ErrorKind = "sandbox-spawn-failed"
	ErrKernelException      ErrorKind = "kernel-exception"
	ErrResponseDecodeFailed ErrorKind = "response-decode-failed"
	ErrUnknownInterface     ErrorKind = "unknown-interface"
	ErrAbstractMate         ErrorKind = "abstract-interface-cannot-mate"
	ErrProviderQueryFailed  ErrorKind = "provider-query-failed"
)
