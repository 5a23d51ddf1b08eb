package stackset

// VariableKind distinguishes native blueprint-only variables from
// cloud-parameter variables forwarded to the provider (spec §3).
type VariableKind string

const (
	VariableKindNative         VariableKind = "native"
	VariableKindCloudParameter VariableKind = "cloud_parameter"
)

// VariableDef is a single entry in a blueprint's declared variable schema
// (spec §3 "Variable").
type VariableDef struct {
	Name           string
	Kind           VariableKind
	Type           string // e.g. "string", "number", "bool", "list", "map"
	Default        interface{}
	HasDefault     bool
	Description    string
	Validator      string // name of a registered validator function
	AllowedValues  []string
	AllowedPattern string
	MinLength      *int
	MaxLength      *int
	MinValue       *float64
	MaxValue       *float64
	NoEcho         bool
}

// VariableSchema is the ordered set of variables a blueprint declares.
type VariableSchema struct {
	Variables []VariableDef
}

// BoundVariables is the output of the Variable Binder: resolved values
// partitioned into native and cloud-parameter bags (spec §4.2 step 3).
type BoundVariables struct {
	Native         map[string]interface{}
	CloudParameter map[string]string
	NoEcho         map[string]bool
}
