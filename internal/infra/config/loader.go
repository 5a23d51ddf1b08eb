// Package config's Loader implements the external ConfigLoader collaborator
// end to end: reading the env file, substituting ${name} into the raw
// config text, decoding the YAML document, and validating the result
// (spec §3, §6).
package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
)

// Loader implements ports.ConfigLoader, mirroring the teacher's YAMLLoader
// adapter shape but against this spec's richer document (env file,
// ${name} substitution, per-stack strict decoding).
type Loader struct {
	logger ports.Logger
}

// New returns a Loader that logs through logger (may be nil).
func New(logger ports.Logger) *Loader {
	return &Loader{logger: logger}
}

var _ ports.ConfigLoader = (*Loader)(nil)

// Load implements spec §6 "Environment file" + "Config file": the env file
// (legacy newline `key: value` or a structured document) is parsed into a
// flat string map, CLI `-e KEY=VALUE` overrides are layered on top, then
// `${name}` occurrences in the raw config text are substituted before the
// document is parsed.
func (l *Loader) Load(ctx context.Context, configPath, envPath string, overrides map[string]string) (*stackset.Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, &stackset.DomainError{Code: stackset.ErrCodeCancelled, Message: "load cancelled", Cause: err}
	}

	env, err := loadEnvFile(envPath)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		env[k] = v
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, &stackset.DomainError{
			Code: stackset.ErrCodeNotFound, Message: "failed to read config file", Cause: err,
			Context: map[string]interface{}{"path": configPath},
		}
	}

	substituted := substituteEnv(raw, env)

	l.warnUnknownTopLevelKeys(ctx, substituted)

	var doc yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(substituted))
	if err := dec.Decode(&doc); err != nil {
		return nil, &stackset.DomainError{
			Code: stackset.ErrCodeConfig, Message: "failed to parse config document", Cause: err,
			Context: map[string]interface{}{"path": configPath},
		}
	}

	if err := newValidator().Struct(&doc); err != nil {
		return nil, &stackset.DomainError{
			Code: stackset.ErrCodeConfig, Message: "config document failed field validation", Cause: err,
			Context: map[string]interface{}{"path": configPath},
		}
	}

	cfg := doc.toDomainConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate implements spec §6: the config must parse and satisfy its
// domain invariants, without requiring an env file.
func (l *Loader) Validate(ctx context.Context, configPath string) error {
	_, err := l.Load(ctx, configPath, "", nil)
	return err
}

func (l *Loader) warnUnknownTopLevelKeys(ctx context.Context, raw []byte) {
	if l.logger == nil {
		return
	}
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return
	}
	for key := range generic {
		if _, ok := knownTopLevelKeys[key]; !ok {
			l.logger.Warn(ctx, "unrecognized top-level config key", "key", key)
		}
	}
}

// knownTopLevelKeys mirrors yamlConfig's yaml tags; spec §6 only demands a
// warning (not a hard error) for unrecognized top-level keys, "permitting
// anchor-only definitions".
var knownTopLevelKeys = map[string]struct{}{
	"namespace": {}, "delimiter": {}, "stacks": {}, "hooks": {},
	"mappings": {}, "tags": {}, "lookups": {}, "sys_path": {},
	"artifact_bucket": {}, "artifact_region": {}, "service_role": {},
	"persistent_graph_key": {},
}

// envExprPattern matches `${name}` tokens used by env-file substitution.
// It is distinct from, and runs strictly before, the `${type arg}` lookup
// syntax the Value Resolver parses at plan time (spec §4.1): any token
// whose name does not match an environment key is left untouched, so a
// lookup expression like `${output vpc::Id}` passes through unless an env
// var happens to be named exactly "output vpc::Id".
var envExprPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// substituteEnv replaces `${name}` with the matching entry of env. Per
// spec §6, substitution "only accepts scalar values unless the entire
// target is a single ${name} occurrence" — when a `${name}` token is the
// sole content of its line (after the `key:` prefix), the replacement is
// inserted verbatim, permitting non-scalar expansion; otherwise it is
// string-interpolated in place.
func substituteEnv(raw []byte, env map[string]string) []byte {
	lines := strings.Split(string(raw), "\n")
	for i, line := range lines {
		lines[i] = substituteEnvLine(line, env)
	}
	return []byte(strings.Join(lines, "\n"))
}

func substituteEnvLine(line string, env map[string]string) string {
	trimmed := strings.TrimRight(line, " \t")

	// Whole-line form: "key: ${name}" (optionally with a leading "- ").
	if m := soleValuePattern.FindStringSubmatch(trimmed); m != nil {
		name := m[3]
		if val, ok := env[name]; ok {
			return m[1] + m[2] + val
		}
		return line
	}

	return envExprPattern.ReplaceAllStringFunc(line, func(tok string) string {
		name := tok[2 : len(tok)-1]
		if val, ok := env[name]; ok {
			return val
		}
		return tok
	})
}

// soleValuePattern captures ("- "? | "")(key: )(${name}) with nothing else
// on the line, used to detect the "entire target is a single ${name}
// occurrence" case spec §6 carves out.
var soleValuePattern = regexp.MustCompile(`^(-?\s*[A-Za-z0-9_.\[\]-]+:\s*)()\$\{([^}]*)\}$`)

// loadEnvFile parses the env file (legacy newline `key: value` or a
// structured YAML document — both shapes decode identically as a flat
// map, spec §6) into a string map. An empty path yields an empty map.
func loadEnvFile(path string) (map[string]string, error) {
	out := make(map[string]string)
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &stackset.DomainError{
			Code: stackset.ErrCodeNotFound, Message: "failed to read environment file", Cause: err,
			Context: map[string]interface{}{"path": path},
		}
	}
	var generic map[string]interface{}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, &stackset.DomainError{
			Code: stackset.ErrCodeConfig, Message: "failed to parse environment file", Cause: err,
			Context: map[string]interface{}{"path": path},
		}
	}
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out, nil
}

// toDomainConfig converts the wire document into the domain Config,
// resolving each stack and hook through their own toDomain helpers
// (types.go).
func (c yamlConfig) toDomainConfig() *stackset.Config {
	stacks := make([]stackset.StackDef, len(c.Stacks))
	for i, s := range c.Stacks {
		stacks[i] = s.toDomain()
	}
	return &stackset.Config{
		Namespace: c.Namespace,
		Delimiter: c.Delimiter,
		Stacks:    stacks,
		Hooks: stackset.HookSet{
			PreBuild:    toDomainHooks(c.Hooks.PreBuild),
			PostBuild:   toDomainHooks(c.Hooks.PostBuild),
			PreDestroy:  toDomainHooks(c.Hooks.PreDestroy),
			PostDestroy: toDomainHooks(c.Hooks.PostDestroy),
		},
		Mappings:           c.Mappings,
		Tags:               c.Tags,
		Lookups:            c.Lookups,
		SysPathExtensions:  c.SysPath,
		ArtifactBucket:     c.ArtifactBucket,
		ArtifactRegion:     c.ArtifactRegion,
		ServiceRole:        c.ServiceRole,
		PersistentGraphKey: c.PersistentGraphKey,
	}
}

func toDomainHooks(hooks []hookYAML) []stackset.Hook {
	out := make([]stackset.Hook, len(hooks))
	for i, h := range hooks {
		out[i] = h.toDomain()
	}
	return out
}

// ConfigDir returns the directory a config file lives in, used by the
// resolver for `file://` relative paths (spec §4.1).
func ConfigDir(configPath string) string {
	return filepath.Dir(configPath)
}
