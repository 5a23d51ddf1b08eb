package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/planner"
)

// newInfoCmd implements `stackctl info` (spec §6 CLI surface): prints each
// planned stack's fully-qualified name and live provider status without
// mutating anything.
func newInfoCmd(flags *rootFlags, app *AppContext) *cobra.Command {
	bf := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "info",
		Short: "show the current status of every stack in the config",
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

			for _, id := range plan.OrderedStepIDs() {
				step := plan.Steps[id]
				if step == nil || step.Stack == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tunknown\n", id)
					continue
				}
				status := "NOT_FOUND"
				if app.Provider != nil {
					res, derr := app.Provider.Describe(ctx, step.Stack.FQN, step.Stack.Region, step.Stack.Profile)
					if derr == nil && res != nil && res.Exists {
						status = string(res.Status)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", step.ID, step.Stack.FQN, status)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bf.stacks, "stacks", nil, "restrict info to these stacks and their requires closure, repeatable")
	cmd.Flags().BoolVar(&bf.only, "only", false, "with --stacks, show exactly the named stacks rather than their closure")
	return cmd
}
