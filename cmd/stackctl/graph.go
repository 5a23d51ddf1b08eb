package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/planner"
)

// newGraphCmd implements `stackctl graph` (spec §4.3 "dot()/json()
// serializers — for the graph command", §6 CLI surface).
func newGraphCmd(flags *rootFlags, app *AppContext) *cobra.Command {
	bf := &buildFlags{}
	var format string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "render the stack dependency graph",
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
			plan, err := p.Plan(ctx, cfg, execCtx, planner.ActionBuild, planner.Flags{
				Stacks: bf.stacks,
				Only:   bf.only,
			})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				os.Exit(exitCodeForError(err))
				return nil
			}

			switch format {
			case "json":
				data, err := plan.Graph.MarshalJSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			default:
				fmt.Fprint(cmd.OutOrStdout(), plan.Graph.DOT())
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bf.stacks, "stacks", nil, "restrict the graph to these stacks and their requires closure, repeatable")
	cmd.Flags().BoolVar(&bf.only, "only", false, "with --stacks, render exactly the named stacks rather than their closure")
	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot or json")
	return cmd
}
