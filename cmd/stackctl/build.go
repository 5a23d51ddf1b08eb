package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/executor"
	"github.com/stackctl/stackctl/internal/infra/approval"
	"github.com/stackctl/stackctl/internal/planner"
	"github.com/stackctl/stackctl/internal/resolve"
)

// buildFlags holds the flags `build` and `destroy` share (spec §4.4
// "Flags", §6 CLI surface).
type buildFlags struct {
	stacks           []string
	only             bool
	force            []string
	replacementsOnly bool
	recreateFailed   bool
	interactive      bool
	concurrency      int
	tail             bool
}

func addBuildFlags(cmd *cobra.Command, bf *buildFlags) {
	cmd.Flags().StringSliceVar(&bf.stacks, "stacks", nil, "restrict the plan to these stacks and their requires closure, repeatable")
	cmd.Flags().BoolVar(&bf.only, "only", false, "with --stacks, run exactly the named stacks rather than their closure")
	cmd.Flags().StringSliceVar(&bf.force, "force", nil, "force a specific stack to run even if locked, repeatable")
	cmd.Flags().BoolVar(&bf.replacementsOnly, "replacements-only", false, "auto-approve change sets that contain no replacements")
	cmd.Flags().BoolVar(&bf.recreateFailed, "recreate-failed", false, "destroy and recreate stacks found in ROLLED_BACK")
	cmd.Flags().BoolVarP(&bf.interactive, "interactive", "i", false, "prompt for approval before applying any change set")
	cmd.Flags().IntVarP(&bf.concurrency, "concurrency", "j", 4, "maximum number of stacks to operate on in parallel")
	cmd.Flags().BoolVarP(&bf.tail, "tail", "t", false, "print each step status transition to stderr (provider event logs are not streamed)")
}

func newBuildCmd(flags *rootFlags, app *AppContext) *cobra.Command {
	bf := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "create or update stacks to match the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanAndExecute(cmd, flags, app, bf, planner.ActionBuild)
		},
	}
	addBuildFlags(cmd, bf)
	return cmd
}

func newDestroyCmd(flags *rootFlags, app *AppContext) *cobra.Command {
	bf := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "tear down stacks in reverse dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlanAndExecute(cmd, flags, app, bf, planner.ActionDestroy)
		},
	}
	addBuildFlags(cmd, bf)
	return cmd
}

// runPlanAndExecute implements the shared `build`/`destroy` pipeline: load
// config, plan, run the pre-phase hooks, execute, run the post-phase
// hooks, map the result to an exit code (spec §4.4, §4.6, §4.7, §6).
func runPlanAndExecute(cmd *cobra.Command, flags *rootFlags, app *AppContext, bf *buildFlags, action planner.Action) error {
	ctx := app.CommandContext(cmd)

	cfg, configDir, err := loadConfig(ctx, flags, app)
	if err != nil {
		os.Exit(2)
		return err
	}

	execCtx := newExecContext(cfg)
	registry := app.NewBlueprintRegistry(configDir)
	graphStore, lock := graphCollaborators(cfg, app)

	p := app.NewPlanner(configDir, registry, graphStore, lock)
	force := make(map[string]bool, len(bf.force))
	for _, name := range bf.force {
		force[name] = true
	}
	plan, err := p.Plan(ctx, cfg, execCtx, action, planner.Flags{
		Stacks:           bf.stacks,
		Force:            bf.force,
		Only:             bf.only,
		ReplacementsOnly: bf.replacementsOnly,
		RecreateFailed:   bf.recreateFailed,
	})
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		os.Exit(exitCodeForError(err))
		return nil
	}

	if bf.tail {
		unsubscribe := app.Events.Subscribe("step_event", tailHandler(cmd))
		defer unsubscribe()
	}

	preHooks, postHooks := cfg.Hooks.PreBuild, cfg.Hooks.PostBuild
	if action == planner.ActionDestroy {
		preHooks, postHooks = cfg.Hooks.PreDestroy, cfg.Hooks.PostDestroy
	}
	if err := runHookPhase(ctx, app, configDir, preHooks, execCtx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		os.Exit(1)
		return nil
	}

	resolver := resolve.NewResolver(resolve.NewDefaultRegistry())
	for name := range cfg.Lookups {
		resolver.Register(name, unimplementedLookup(name))
	}
	exec := executor.New(app.Provider, resolver, app.Events, app.Logger, approval.New(cmd.InOrStdin(), cmd.OutOrStdout()), executor.Options{
		Concurrency:      bf.concurrency,
		Interactive:      bf.interactive,
		ReplacementsOnly: bf.replacementsOnly,
		RecreateFailed:   bf.recreateFailed,
		Force:            force,
		Namespace:        cfg.Namespace,
		Delimiter:        cfg.EffectiveDelimiter(),
		ConfigDir:        configDir,
	})

	result := exec.Execute(ctx, plan, execCtx)

	if err := runHookPhase(ctx, app, configDir, postHooks, execCtx); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
	}

	if action == planner.ActionBuild && cfg.PersistentGraphKey != "" && graphStore != nil {
		if err := persistGraph(ctx, cfg, plan, graphStore, lock); err != nil {
			app.Logger.Warn(ctx, "failed to persist graph", "error", err)
		}
	}

	if len(result.Failed) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed: %v\n", result.Failed)
	}
	if len(result.Canceled) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "canceled: %v\n", result.Canceled)
	}
	os.Exit(result.ExitCode())
	return nil
}
