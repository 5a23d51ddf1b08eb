package planner

import (
	"context"
	"os"
	"path/filepath"

	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
	"github.com/stackctl/stackctl/internal/resolve"
	"github.com/stackctl/stackctl/internal/variables"
)

// materialize implements spec §4.4 step 2: compute fqn, merge tags, render
// the template body, and extract the provider-parameter bag.
func (p *Planner) materialize(ctx context.Context, cfg *stackset.Config, def *stackset.StackDef, exec *stackset.ExecContext, resolver *resolve.Resolver, binder *variables.Binder) (*stackset.Stack, error) {
	fqn := cfg.FQN(def)

	blueprintName := def.Blueprint
	if blueprintName == "" {
		blueprintName = def.TemplatePath
	}

	var bp ports.Blueprint
	if blueprintName != "" && p.Blueprints != nil {
		resolved, err := p.Blueprints.Resolve(blueprintName)
		if err != nil {
			return nil, &stackset.DomainError{
				Code:    stackset.ErrCodeConfig,
				Message: "failed to resolve blueprint",
				Cause:   err,
				Context: map[string]interface{}{"stack": def.Name, "blueprint": blueprintName},
			}
		}
		bp = resolved
	}

	rc := &resolve.Context{
		Mode:      resolve.ModePlanner,
		Namespace: cfg.Namespace,
		ConfigDir: p.ConfigDir,
		Exec:      exec,
		Consumer:  def.Name,
		Provider:  p.Provider,
	}

	resolvedVars := make(map[string]interface{}, len(def.Variables))
	for name, raw := range def.Variables {
		v, err := resolver.ResolveValue(ctx, rc, raw)
		if err != nil {
			if _, ok := resolve.IsUnresolvedDependency(err); ok {
				// deferred: the dependency edge was already recorded by
				// collectDependencyRefs; leave this variable unresolved
				// for now, it is re-resolved at execution time.
				continue
			}
			return nil, err
		}
		resolvedVars[name] = v
	}

	var bound stackset.BoundVariables
	var templateBody []byte
	var templateKind string
	if bp != nil {
		schema := bp.VariableSchema()
		b, err := binder.Bind(schema, resolvedVars)
		if err != nil {
			return nil, err
		}
		bound = b

		renderCtx := ports.RenderContext{Namespace: cfg.Namespace, Stack: def.Name, Region: def.Region, Profile: def.Profile}
		body, kind, err := bp.Render(ctx, renderCtx, bound)
		if err != nil {
			return nil, &stackset.DomainError{Code: stackset.ErrCodeConfig, Message: "template render failed", Cause: err, Context: map[string]interface{}{"stack": def.Name}}
		}
		templateBody = body
		templateKind = kind
	}

	stackPolicy, err := p.readStackPolicy(def)
	if err != nil {
		return nil, err
	}

	return &stackset.Stack{
		LogicalName:  def.Name,
		FQN:          fqn,
		Region:       def.Region,
		Profile:      def.Profile,
		Tags:         stackset.MergeTags(cfg.Tags, def.Tags),
		Parameters:   bound.CloudParameter,
		TemplateBody: templateBody,
		TemplateKind: templateKind,
		StackPolicy:  stackPolicy,
		Outputs:      nil,
		Status:       stackset.StatusNew,
		ServiceRole:  cfg.ServiceRole,
	}, nil
}

// readStackPolicy reads StackDef.StackPolicyPath (spec §3) relative to the
// config directory, mirroring blueprint.NewFileBlueprint's
// relative-unless-absolute path-join convention.
func (p *Planner) readStackPolicy(def *stackset.StackDef) ([]byte, error) {
	if def.StackPolicyPath == "" {
		return nil, nil
	}
	path := def.StackPolicyPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.ConfigDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeMissingTemplate,
			Message: "failed to read stack policy file",
			Cause:   err,
			Context: map[string]interface{}{"stack": def.Name, "path": path},
		}
	}
	return data, nil
}

// collectDependencyRefs implements spec §4.4 step 3: runs the resolver in
// planner mode over every variable expression and collects the producer
// names from any UnresolvedDependency raised by the `output` handler.
func (p *Planner) collectDependencyRefs(ctx context.Context, def *stackset.StackDef, exec *stackset.ExecContext, resolver *resolve.Resolver) (map[string]struct{}, error) {
	producers := make(map[string]struct{})
	rc := &resolve.Context{Mode: resolve.ModePlanner, ConfigDir: p.ConfigDir, Exec: exec, Consumer: def.Name, Provider: p.Provider}
	for _, raw := range def.Variables {
		_, err := resolver.ResolveValue(ctx, rc, raw)
		if err == nil {
			continue
		}
		if producer, ok := resolve.IsUnresolvedDependency(err); ok {
			producers[producer] = struct{}{}
			continue
		}
		return nil, err
	}
	return producers, nil
}
