// Package blueprint implements the file-tree Blueprint adapter (spec §6,
// §9 "Blueprint polymorphism"): a StackDef's `template_path` is read from
// disk, Jinja-style `{{ var }}` placeholders are substituted, and a
// variable schema is inferred by scanning the raw template for those
// placeholders since template_path stacks declare no separate schema.
package blueprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

// FileBlueprint renders a single on-disk template file.
type FileBlueprint struct {
	name     string
	path     string
	raw      []byte
	kind     string
	schema   stackset.VariableSchema
}

var _ ports.Blueprint = (*FileBlueprint)(nil)

// placeholderPattern matches `{{ name }}` tokens, mirroring the
// parameterizedJoin convention already used by resolve/handlers.go's
// `file` lookup handler for the same Jinja-like substitution syntax.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// NewFileBlueprint reads templatePath (relative to configDir unless
// absolute) and infers its variable schema from the placeholders found.
func NewFileBlueprint(configDir, templatePath string) (*FileBlueprint, error) {
	path := templatePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(configDir, path)
	}
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}

	names := map[string]struct{}{}
	var ordered []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(string(raw), -1) {
		name := m[1]
		if _, ok := names[name]; !ok {
			names[name] = struct{}{}
			ordered = append(ordered, name)
		}
	}
	defs := make([]stackset.VariableDef, 0, len(ordered))
	for _, name := range ordered {
		defs = append(defs, stackset.VariableDef{
			Name: name,
			Kind: stackset.VariableKindCloudParameter,
			Type: "string",
		})
	}

	return &FileBlueprint{
		name:   templatePath,
		path:   path,
		raw:    raw,
		kind:   kindFromExtension(path),
		schema: stackset.VariableSchema{Variables: defs},
	}, nil
}

func (b *FileBlueprint) Name() string { return b.name }

func (b *FileBlueprint) VariableSchema() stackset.VariableSchema { return b.schema }

// Render substitutes every `{{ name }}` placeholder with the bound
// variable's cloud-parameter string form, falling back to its native
// value (formatted with %v) when it is not a cloud parameter; a
// placeholder with no bound variable is left as it is.
func (b *FileBlueprint) Render(_ context.Context, _ ports.RenderContext, bound stackset.BoundVariables) ([]byte, string, error) {
	rendered := placeholderPattern.ReplaceAllStringFunc(string(b.raw), func(tok string) string {
		m := placeholderPattern.FindStringSubmatch(tok)
		name := m[1]
		if v, ok := bound.CloudParameter[name]; ok {
			return v
		}
		if v, ok := bound.Native[name]; ok {
			return fmt.Sprintf("%v", v)
		}
		return tok
	})
	return []byte(rendered), b.kind, nil
}

func (b *FileBlueprint) FQN(_ context.Context, rc ports.RenderContext) string {
	if rc.Namespace == "" {
		return rc.Stack
	}
	return rc.Namespace + "-" + rc.Stack
}

func kindFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// Registry resolves `template_path` entries to FileBlueprints, and named
// blueprint class paths to registered constructors (spec §9 "Blueprint
// polymorphism": resolution of the config's "class path" string lives
// outside the core).
type Registry struct {
	ConfigDir string
	named     map[string]ports.Blueprint
}

var _ ports.BlueprintRegistry = (*Registry)(nil)

// NewRegistry returns a Registry rooted at configDir for relative
// template_path resolution.
func NewRegistry(configDir string) *Registry {
	return &Registry{ConfigDir: configDir, named: make(map[string]ports.Blueprint)}
}

// RegisterNamed installs a pre-built Blueprint under a class-path name,
// for blueprints resolved by something other than a bare file path (e.g.
// a Go-native blueprint implementation wired by the caller).
func (r *Registry) RegisterNamed(name string, bp ports.Blueprint) {
	r.named[name] = bp
}

// Resolve implements ports.BlueprintRegistry. A name registered via
// RegisterNamed takes precedence; otherwise the name is treated as a
// template_path relative to ConfigDir.
func (r *Registry) Resolve(name string) (ports.Blueprint, error) {
	if bp, ok := r.named[name]; ok {
		return bp, nil
	}
	return NewFileBlueprint(r.ConfigDir, name)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeMissingTemplate,
			Message: "failed to read template file",
			Cause:   err,
			Context: map[string]interface{}{"path": path},
		}
	}
	return data, nil
}
