package main

import (
	"context"

	"github.com/spf13/cobra"

	domevents "github.com/stackctl/stackctl/internal/events"
	"github.com/stackctl/stackctl/internal/hooks"
	infraaws "github.com/stackctl/stackctl/internal/infra/aws"
	"github.com/stackctl/stackctl/internal/infra/blueprint"
	"github.com/stackctl/stackctl/internal/infra/provider"
	"github.com/stackctl/stackctl/internal/planner"
	"github.com/stackctl/stackctl/internal/ports"
)

// AppContext bundles the long-lived services built once at startup,
// mirroring the teacher's AppContext (cmd/streamy/app_context.go).
type AppContext struct {
	Logger      ports.Logger
	Events      *domevents.Bus
	ConfigLoad  ports.ConfigLoader
	Configs     *infraaws.ConfigCache
	Provider    *provider.Adapter
	HookRunnerFor func(configDir string) *hooks.Runner
}

// CommandContext returns the command's context, falling back to
// Background when the command has none (modeled on the teacher's
// AppContext.CommandContext helper).
func (a *AppContext) CommandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

// NewPlanner builds a Planner scoped to one invocation's config directory
// and blueprint registry (spec §4.4), since both vary per `-c` flag.
func (a *AppContext) NewPlanner(configDir string, blueprints ports.BlueprintRegistry, graphStore ports.PersistentGraphStore, lock ports.Lock) *planner.Planner {
	return planner.New(blueprints, graphStore, lock, a.Logger, a.Provider, configDir)
}

// NewBlueprintRegistry returns a file-tree Blueprint registry rooted at
// configDir (spec §6, §9 "Blueprint polymorphism").
func (a *AppContext) NewBlueprintRegistry(configDir string) ports.BlueprintRegistry {
	return blueprint.NewRegistry(configDir)
}
