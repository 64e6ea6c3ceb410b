package types

// ShapePayload is the serialized form of one kernel object as produced by
// the sandbox wrapper. Go never interprets Data. Location, in manifest
// form, places an input before a script sees it; absent means identity.
type ShapePayload struct {
	Format   string    `codec:"format"`
	Data     []byte    `codec:"data"`
	Solids   int       `codec:"solids"`
	BBox     []float64 `codec:"bbox"`
	Location []any     `codec:"location,omitempty"`
}

type RuntimeSpec struct {
	PythonVersion    string
	Requirements     []string
	RequirementsFile string
}

type ShapeScriptRequest struct {
	Runtime         RuntimeSpec
	Kernel          FactoryType
	ScriptPath      string
	Cwd             string
	Subject         string
	BuildParameters map[string]any
	Patch           map[string]string
	Inputs          []ShapePayload
}

// ShapeScriptResult reports a finished script. Kind is set when the
// script did not produce shapes.
type ShapeScriptResult struct {
	Success   bool
	Shapes    []ShapePayload
	Exception string
	Stderr    string
	Kind      ErrorKind
}

type ProviderScriptRequest struct {
	Runtime    RuntimeSpec
	ScriptPath string
	Cwd        string
	Subject    string
	Action     ProviderAction
	Cart       []CartItem
	QoS        string
	Parameters map[string]any
}

type ProviderScriptResult struct {
	Output    map[string]any
	Exception string
	Stderr    string
	Kind      ErrorKind
}

type StateEntry struct {
	Kind    string
	Name    string
	Path    string
	Updated string
}

type GenerateRequest struct {
	Language   FactoryType
	Prompt     string
	Parameters map[string]Parameter
	OutputPath string
}
