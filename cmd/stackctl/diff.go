package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/executor"
	"github.com/stackctl/stackctl/internal/infra/approval"
	"github.com/stackctl/stackctl/internal/planner"
	"github.com/stackctl/stackctl/internal/ports"
	"github.com/stackctl/stackctl/internal/resolve"
)

// newDiffCmd implements `stackctl diff` (spec §4.4 step 8: "does not
// mutate providers"; §6 event detail "parameter diffs (for diff)").
func newDiffCmd(flags *rootFlags, app *AppContext) *cobra.Command {
	bf := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "diff",
		Short: "preview the change set each stack would apply",
		RunE: func(cmd *cobra.Command, args []string) error {
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
			plan, err := p.Plan(ctx, cfg, execCtx, planner.ActionDiff, planner.Flags{
				Stacks: bf.stacks,
				Only:   bf.only,
			})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				os.Exit(exitCodeForError(err))
				return nil
			}

			unsubscribe := app.Events.Subscribe("step_event", diffRenderer(cmd))
			defer unsubscribe()

			resolver := resolve.NewResolver(resolve.NewDefaultRegistry())
			for name := range cfg.Lookups {
				resolver.Register(name, unimplementedLookup(name))
			}
			exec := executor.New(app.Provider, resolver, app.Events, app.Logger, approval.New(cmd.InOrStdin(), cmd.OutOrStdout()), executor.Options{
				Concurrency: bf.concurrency,
				Namespace:   cfg.Namespace,
				Delimiter:   cfg.EffectiveDelimiter(),
				ConfigDir:   configDir,
			})

			result := exec.Execute(ctx, plan, execCtx)
			os.Exit(result.ExitCode())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bf.stacks, "stacks", nil, "restrict the diff to these stacks and their requires closure, repeatable")
	cmd.Flags().BoolVar(&bf.only, "only", false, "with --stacks, diff exactly the named stacks rather than their closure")
	cmd.Flags().IntVarP(&bf.concurrency, "concurrency", "j", 4, "maximum number of stacks to diff in parallel")
	return cmd
}

// diffRenderer prints each step's change-set summary as it is computed.
func diffRenderer(cmd *cobra.Command) func(ports.DomainEvent) {
	return func(evt ports.DomainEvent) {
		se, ok := evt.(ports.StepEvent)
		if !ok {
			return
		}
		summary, ok := se.Detail.(*ports.ChangeSetSummary)
		if !ok || summary == nil {
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: +%d ~%d !%d\n", se.StepID, len(summary.Additions), len(summary.Modifications), len(summary.Replacements))
	}
}
