package stackset

// Config is the validated, immutable input document produced by an
// external ports.ConfigLoader (spec §3). The core never mutates it once
// validation succeeds.
type Config struct {
	Namespace          string
	Delimiter          string // defaults to "-"
	Stacks             []StackDef
	Hooks              HookSet
	Mappings           map[string]map[string]interface{}
	Tags               map[string]string
	Lookups            map[string]string // custom handler name -> implementation identifier
	SysPathExtensions  []string
	ArtifactBucket     string
	ArtifactRegion     string
	ServiceRole        string
	PersistentGraphKey string
}

// HookSet groups the four hook phases a Config may declare.
type HookSet struct {
	PreBuild    []Hook
	PostBuild   []Hook
	PreDestroy  []Hook
	PostDestroy []Hook
}

// Hook is a named pre/post action around the executor (spec §4.7).
type Hook struct {
	Name        string
	Path        string
	Enabled     bool
	Required    bool
	Args        map[string]interface{}
	DataKey     string
	Requires    []string
	RequiredBy  []string
}

// InProgressBehavior controls what the executor does when a describe finds
// a stack already mid-operation.
type InProgressBehavior string

const (
	InProgressWait  InProgressBehavior = "wait"
	InProgressError InProgressBehavior = "error"
)

// StackDef is one declared stack in a Config (spec §3). Exactly one of
// Blueprint/TemplatePath must be set unless Locked or External is true;
// this is enforced by Config.Validate (the YAML loader additionally
// rejects a stack that sets both while decoding).
type StackDef struct {
	Name             string
	StackName        string // defaults to Name
	FQNOverride      string
	Blueprint        string
	TemplatePath     string
	Variables        map[string]interface{}
	Requires         []string
	Locked           bool
	Enabled          bool
	Protected        bool
	External         bool
	Region           string
	Profile          string
	StackPolicyPath  string
	Tags             map[string]string
	Description      string
	InProgressBehavior InProgressBehavior
}

// EffectiveStackName returns StackName, defaulting to Name per spec §3.
func (d *StackDef) EffectiveStackName() string {
	if d.StackName != "" {
		return d.StackName
	}
	return d.Name
}

// Validate checks the invariants spec §3 assigns to Config/StackDef:
// unique stack names, exactly one of blueprint/template_path unless
// locked/external, and (per spec §9's resolved open question, see
// SPEC_FULL.md §4.F) a hard error on stack_name collisions when namespace
// is empty.
func (c *Config) Validate() error {
	if c.Namespace == "" && c.Delimiter == "" {
		// an empty namespace is legal; the delimiter still defaults below.
	}
	delim := c.Delimiter
	if delim == "" {
		delim = "-"
	}

	seenName := make(map[string]int, len(c.Stacks))
	seenStackName := make(map[string]int, len(c.Stacks))

	for i := range c.Stacks {
		def := &c.Stacks[i]
		if def.Name == "" {
			return newError(ErrCodeConfig, "stack name must not be empty", map[string]interface{}{"index": i})
		}
		if prev, ok := seenName[def.Name]; ok {
			return newError(ErrCodeDuplicateStack, "duplicate stack name", map[string]interface{}{
				"name": def.Name, "first_index": prev, "second_index": i,
			})
		}
		seenName[def.Name] = i

		hasBlueprint := def.Blueprint != ""
		hasTemplate := def.TemplatePath != ""
		if !def.Locked && !def.External {
			if hasBlueprint == hasTemplate {
				return newError(ErrCodeConfig, "exactly one of blueprint or template_path is required", map[string]interface{}{
					"stack": def.Name,
				})
			}
		}

		// spec.md §9's resolved open question: empty namespace + colliding
		// stack_name is a hard DuplicateStackName error at load time.
		if c.Namespace == "" {
			effective := def.EffectiveStackName()
			if prev, ok := seenStackName[effective]; ok {
				return newError(ErrCodeDuplicateStackName, "stack_name collides under empty namespace", map[string]interface{}{
					"stack_name": effective, "first_index": prev, "second_index": i,
				})
			}
			seenStackName[effective] = i
		}
	}
	return nil
}

// EffectiveDelimiter returns the configured delimiter, defaulting to "-".
func (c *Config) EffectiveDelimiter() string {
	if c.Delimiter == "" {
		return "-"
	}
	return c.Delimiter
}

// FQN computes the fully-qualified name for a StackDef per spec §3:
// namespace + delimiter + stack_name, unless an explicit FQN override is
// set.
func (c *Config) FQN(def *StackDef) string {
	if def.FQNOverride != "" {
		return def.FQNOverride
	}
	if c.Namespace == "" {
		return def.EffectiveStackName()
	}
	return c.Namespace + c.EffectiveDelimiter() + def.EffectiveStackName()
}
