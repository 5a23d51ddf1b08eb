package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/planner"
)

// newDumpCmd implements `stackctl dump` (spec §4.4 step 8: "dump writes
// rendered templates under a user-supplied directory, naming them
// logical_name.json|yaml"). Dump never touches the Provider: the
// templates are already rendered by the Planner's materialize step.
func newDumpCmd(flags *rootFlags, app *AppContext) *cobra.Command {
	bf := &buildFlags{}
	var outDir string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "write rendered stack templates to a directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := app.CommandContext(cmd)

			if outDir == "" {
				err := fmt.Errorf("--output-dir is required")
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				os.Exit(2)
				return err
			}

			cfg, configDir, err := loadConfig(ctx, flags, app)
			if err != nil {
				os.Exit(2)
				return err
			}

			execCtx := newExecContext(cfg)
			registry := app.NewBlueprintRegistry(configDir)
			graphStore, lock := graphCollaborators(cfg, app)

			p := app.NewPlanner(configDir, registry, graphStore, lock)
			plan, err := p.Plan(ctx, cfg, execCtx, planner.ActionDump, planner.Flags{
				Stacks: bf.stacks,
				Only:   bf.only,
			})
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				os.Exit(exitCodeForError(err))
				return nil
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}
			for _, id := range plan.OrderedStepIDs() {
				step := plan.Steps[id]
				if step == nil || step.Stack == nil || len(step.Stack.TemplateBody) == 0 {
					continue
				}
				ext := step.Stack.TemplateKind
				if ext == "" {
					ext = "yaml"
				}
				path := filepath.Join(outDir, fmt.Sprintf("%s.%s", step.ID, ext))
				if err := os.WriteFile(path, step.Stack.TemplateBody, 0o644); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&bf.stacks, "stacks", nil, "restrict the dump to these stacks and their requires closure, repeatable")
	cmd.Flags().BoolVar(&bf.only, "only", false, "with --stacks, dump exactly the named stacks rather than their closure")
	cmd.Flags().StringVar(&outDir, "output-dir", "", "directory to write rendered templates into")
	return cmd
}
