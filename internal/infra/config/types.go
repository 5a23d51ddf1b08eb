// Package config implements the external ConfigLoader collaborator: YAML
// (and JSON, a YAML subset) parsing into stackset.Config, mirroring the
// teacher's internal/config YAML document shape and its
// Step.UnmarshalYAML pattern for polymorphic/exclusive-or fields.
package config

import (
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stackctl/stackctl/internal/domain/stackset"
)

// yamlConfig is the wire shape of the config document (spec §3, §6).
// Unknown keys at the stack level are a hard error; unknown keys at the
// top level are a warning, so the top-level struct intentionally omits
// yaml.v3's KnownFields strictness while stackYAML enables it.
type yamlConfig struct {
	Namespace          string                            `yaml:"namespace" validate:"required"`
	Delimiter          string                            `yaml:"delimiter,omitempty"`
	Stacks             []stackYAML                       `yaml:"stacks" validate:"required,min=1,dive"`
	Hooks              hooksYAML                         `yaml:"hooks,omitempty"`
	Mappings           map[string]map[string]interface{} `yaml:"mappings,omitempty"`
	Tags               map[string]string                 `yaml:"tags,omitempty"`
	Lookups            map[string]string                 `yaml:"lookups,omitempty"`
	SysPath            []string                          `yaml:"sys_path,omitempty"`
	ArtifactBucket     string                            `yaml:"artifact_bucket,omitempty"`
	ArtifactRegion     string                            `yaml:"artifact_region,omitempty"`
	ServiceRole        string                            `yaml:"service_role,omitempty"`
	PersistentGraphKey string                            `yaml:"persistent_graph_key,omitempty"`
}

type hooksYAML struct {
	PreBuild    []hookYAML `yaml:"pre_build,omitempty"`
	PostBuild   []hookYAML `yaml:"post_build,omitempty"`
	PreDestroy  []hookYAML `yaml:"pre_destroy,omitempty"`
	PostDestroy []hookYAML `yaml:"post_destroy,omitempty"`
}

type hookYAML struct {
	Name       string                 `yaml:"name,omitempty"`
	Path       string                 `yaml:"path" validate:"required"`
	Enabled    *bool                  `yaml:"enabled,omitempty"`
	Required   *bool                  `yaml:"required,omitempty"`
	Args       map[string]interface{} `yaml:"args,omitempty"`
	DataKey    string                 `yaml:"data_key,omitempty"`
	Requires   []string               `yaml:"requires,omitempty"`
	RequiredBy []string               `yaml:"required_by,omitempty"`
}

func (h hookYAML) toDomain() stackset.Hook {
	return stackset.Hook{
		Name:       h.Name,
		Path:       h.Path,
		Enabled:    boolDefault(h.Enabled, true),
		Required:   boolDefault(h.Required, true),
		Args:       h.Args,
		DataKey:    h.DataKey,
		Requires:   h.Requires,
		RequiredBy: h.RequiredBy,
	}
}

// stackYAML is the raw per-stack document. blueprint/template_path form an
// exclusive-or pair, decoded by stackYAML's custom UnmarshalYAML below
// (mirrors the teacher's Step.UnmarshalYAML pattern).
type stackYAML struct {
	Name               string                 `yaml:"name" validate:"required"`
	StackName          string                 `yaml:"stack_name,omitempty"`
	FQN                string                 `yaml:"fqn,omitempty"`
	Blueprint          string                 `yaml:"blueprint,omitempty"`
	TemplatePath       string                 `yaml:"template_path,omitempty"`
	Variables          map[string]interface{} `yaml:"variables,omitempty"`
	Requires           []string               `yaml:"requires,omitempty"`
	Locked             bool                   `yaml:"locked,omitempty"`
	Enabled            *bool                  `yaml:"enabled,omitempty"`
	Protected          bool                   `yaml:"protected,omitempty"`
	External           bool                   `yaml:"external,omitempty"`
	Region             string                 `yaml:"region,omitempty"`
	Profile            string                 `yaml:"profile,omitempty"`
	StackPolicyPath    string                 `yaml:"stack_policy_path,omitempty"`
	Tags               map[string]string      `yaml:"tags,omitempty"`
	Description        string                 `yaml:"description,omitempty"`
	InProgressBehavior string                 `yaml:"in_progress_behavior,omitempty"`
}

// UnmarshalYAML enforces unknown-key strictness at the stack level (spec
// §6: "Unknown keys at the stack level are a hard error") and the
// blueprint/template_path exclusivity, mirroring the teacher's
// Step.UnmarshalYAML approach of decoding into a typed shape then
// validating cross-field invariants.
func (s *stackYAML) UnmarshalYAML(value *yaml.Node) error {
	type rawStack stackYAML
	var raw rawStack
	if err := strictDecode(value, &raw); err != nil {
		return err
	}
	*s = stackYAML(raw)

	if s.Blueprint != "" && s.TemplatePath != "" {
		return fmt.Errorf("stack %q: blueprint and template_path are mutually exclusive", s.Name)
	}
	return nil
}

func (s stackYAML) toDomain() stackset.StackDef {
	behavior := stackset.InProgressWait
	if s.InProgressBehavior == string(stackset.InProgressError) {
		behavior = stackset.InProgressError
	}
	return stackset.StackDef{
		Name:               s.Name,
		StackName:          s.StackName,
		FQNOverride:        s.FQN,
		Blueprint:          s.Blueprint,
		TemplatePath:       s.TemplatePath,
		Variables:          s.Variables,
		Requires:           s.Requires,
		Locked:             s.Locked,
		Enabled:            boolDefault(s.Enabled, true),
		Protected:          s.Protected,
		External:           s.External,
		Region:             s.Region,
		Profile:            s.Profile,
		StackPolicyPath:    s.StackPolicyPath,
		Tags:               s.Tags,
		Description:        s.Description,
		InProgressBehavior: behavior,
	}
}

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// strictDecode decodes node into out, rejecting unrecognized fields
// (spec §6: "unknown keys at the stack level are a hard error"). yaml.v3's
// KnownFields enforcement lives on Decoder, not Node, so the node is
// re-marshaled and re-decoded through a strict decoder.
func strictDecode(node *yaml.Node, out interface{}) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func newValidator() *validator.Validate {
	return validator.New()
}
