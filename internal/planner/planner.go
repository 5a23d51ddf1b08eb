// Package planner implements the Planner (spec §4.4): it consumes a
// validated Config, materializes stacks, runs the Value Resolver in
// planner mode to discover implicit dependency edges, and returns a Plan.
package planner

import (
	"context"

	domgraph "github.com/stackctl/stackctl/internal/domain/graph"
	"github.com/stackctl/stackctl/internal/domain/stackset"
	"github.com/stackctl/stackctl/internal/ports"
	"github.com/stackctl/stackctl/internal/resolve"
	"github.com/stackctl/stackctl/internal/variables"
)

// Action selects which kind of plan to build (spec §4.4 inputs).
type Action string

const (
	ActionBuild   Action = "build"
	ActionDestroy Action = "destroy"
	ActionDiff    Action = "diff"
	ActionDump    Action = "dump"
)

// Flags bundles the execution flags spec §4.4 lists as planner inputs.
type Flags struct {
	Stacks           []string // --stacks
	Force            []string // --force
	Only             bool     // --only: run exactly --stacks, not their closure
	ReplacementsOnly bool
	RecreateFailed   bool
}

// Planner builds Plans from a Config.
type Planner struct {
	Blueprints ports.BlueprintRegistry
	GraphStore ports.PersistentGraphStore
	Lock       ports.Lock
	Logger     ports.Logger
	// Provider backs eager plan-time resolution of lookups that reach the
	// live cloud (kms, ssmstore, dynamodb, ami, xref) and is exposed to
	// resolve.Context the same way the executor exposes it at execution
	// time (spec §4.1: "resolved eagerly at plan time when their inputs do
	// not transitively depend on another stack's output").
	Provider  ports.Provider
	ConfigDir string // for `file://` relative paths (spec §4.1)
}

// New returns a Planner wired to its external collaborators.
func New(blueprints ports.BlueprintRegistry, graphStore ports.PersistentGraphStore, lock ports.Lock, logger ports.Logger, provider ports.Provider, configDir string) *Planner {
	return &Planner{Blueprints: blueprints, GraphStore: graphStore, Lock: lock, Logger: logger, Provider: provider, ConfigDir: configDir}
}

// Plan runs the full spec §4.4 algorithm for the given action and flags.
func (p *Planner) Plan(ctx context.Context, cfg *stackset.Config, exec *stackset.ExecContext, action Action, flags Flags) (*stackset.Plan, error) {
	// Step 1: filter by enabled and --stacks closure.
	selected, err := p.selectStacks(cfg, flags)
	if err != nil {
		return nil, err
	}

	plan := stackset.NewPlan()
	binder := variables.NewBinder()
	resolver := resolve.NewResolver(resolve.NewDefaultRegistry())
	for name, impl := range cfg.Lookups {
		resolver.Register(name, customLookupHandler(impl))
	}

	stepAction := stackset.ActionCreateOrUpdate
	switch action {
	case ActionDestroy:
		stepAction = stackset.ActionDestroy
	case ActionDiff:
		stepAction = stackset.ActionDiff
	case ActionDump:
		stepAction = stackset.ActionDump
	}

	// Step 2 & 3: materialize stacks and discover implicit edges.
	unresolvedEdges := make(map[string]map[string]struct{}) // consumer -> set of producers
	for _, def := range selected {
		stack, err := p.materialize(ctx, cfg, &def, exec, resolver, binder)
		if err != nil {
			return nil, err
		}
		plan.AddStep(&stackset.Step{
			ID:     def.Name,
			Action: stepAction,
			Stack:  stack,
			Def:    &def,
			Status: stackset.StepPending,
		})

		deps, err := p.collectDependencyRefs(ctx, &def, exec, resolver)
		if err != nil {
			return nil, err
		}
		if len(deps) > 0 {
			unresolvedEdges[def.Name] = deps
		}
	}

	// Wire implicit edges discovered from `${output …}` references.
	for consumer, producers := range unresolvedEdges {
		for producer := range producers {
			if _, ok := plan.Steps[producer]; !ok {
				return nil, &stackset.DomainError{
					Code:    stackset.ErrCodeUnresolvedDependency,
					Message: "referenced stack is not part of this plan",
					Context: map[string]interface{}{"consumer": consumer, "producer": producer},
				}
			}
			plan.Graph.Connect(consumer, producer)
		}
	}

	// Step 4: explicit edges from `requires`.
	for _, def := range selected {
		for _, req := range def.Requires {
			if _, ok := plan.Steps[req]; !ok {
				return nil, &stackset.DomainError{
					Code:    stackset.ErrCodeConfig,
					Message: "requires references unknown stack",
					Context: map[string]interface{}{"stack": def.Name, "requires": req},
				}
			}
			plan.Graph.Connect(def.Name, req)
		}
	}

	// Step 5: validate — a cycle aborts the whole invocation.
	if err := plan.Graph.Validate(); err != nil {
		if cycleErr, ok := err.(*domgraph.CycleError); ok {
			return nil, &stackset.CircularDependencyError{Cycles: cycleErr.Cycles}
		}
		return nil, err
	}

	switch action {
	case ActionBuild:
		if cfg.PersistentGraphKey != "" {
			if err := p.appendPersistentGraphRemovals(ctx, cfg, plan); err != nil {
				return nil, err
			}
		}
	case ActionDestroy:
		// Step 7: invert edges so dependents are destroyed before their
		// dependencies.
		plan.Graph = plan.Graph.Invert()
	case ActionDiff, ActionDump:
		// Step 8: no provider mutation; handled entirely by the executor
		// and CLI layer honoring stepAction.
	}

	return plan, nil
}

// selectStacks implements step 1: enabled stacks, optionally narrowed to
// the transitive `requires` closure of --stacks.
func (p *Planner) selectStacks(cfg *stackset.Config, flags Flags) ([]stackset.StackDef, error) {
	byName := make(map[string]*stackset.StackDef, len(cfg.Stacks))
	for i := range cfg.Stacks {
		byName[cfg.Stacks[i].Name] = &cfg.Stacks[i]
	}

	enabled := make([]stackset.StackDef, 0, len(cfg.Stacks))
	for _, def := range cfg.Stacks {
		if def.Enabled {
			enabled = append(enabled, def)
		}
	}

	if len(flags.Stacks) == 0 {
		return enabled, nil
	}

	if flags.Only {
		out := make([]stackset.StackDef, 0, len(flags.Stacks))
		for _, name := range flags.Stacks {
			def, ok := byName[name]
			if !ok {
				return nil, &stackset.DomainError{Code: stackset.ErrCodeConfig, Message: "unknown stack in --stacks", Context: map[string]interface{}{"stack": name}}
			}
			out = append(out, *def)
		}
		return out, nil
	}

	// Transitive closure under `requires`.
	closure := make(map[string]struct{})
	var walk func(name string) error
	walk = func(name string) error {
		if _, ok := closure[name]; ok {
			return nil
		}
		def, ok := byName[name]
		if !ok {
			return &stackset.DomainError{Code: stackset.ErrCodeConfig, Message: "unknown stack in --stacks", Context: map[string]interface{}{"stack": name}}
		}
		closure[name] = struct{}{}
		for _, req := range def.Requires {
			if err := walk(req); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range flags.Stacks {
		if err := walk(name); err != nil {
			return nil, err
		}
	}

	out := make([]stackset.StackDef, 0, len(closure))
	for _, def := range enabled {
		if _, ok := closure[def.Name]; ok {
			out = append(out, def)
		}
	}
	return out, nil
}

func customLookupHandler(implementation string) resolve.Handler {
	return func(_ context.Context, _ *resolve.Context, arg string) (interface{}, error) {
		return nil, &stackset.DomainError{
			Code:    stackset.ErrCodeResolution,
			Message: "custom lookup has no registered implementation in this process",
			Context: map[string]interface{}{"implementation": implementation, "arg": arg},
		}
	}
}
