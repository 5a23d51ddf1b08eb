package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/stackctl/stackctl/internal/infra/logging"
)

// newRootCmd wires every subcommand under the shared persistent flags,
// following the teacher's cobra layout (cmd/streamy/root.go).
func newRootCmd(app *AppContext) *cobra.Command {
	flags := &rootFlags{overrides: map[string]string{}}

	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "stackctl orchestrates CloudFormation stack sets from a declarative config",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// -v/-vv is only known once cobra has parsed flags, so the
			// logger built in main() at verbosity 0 is replaced here
			// (spec §6 CLI surface "-v/-vv").
			app.Logger = logging.New(os.Stderr, flags.verbosity)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to the stack set config file")
	cmd.PersistentFlags().StringVar(&flags.envPath, "env-file", "", "path to the environment file")
	cmd.PersistentFlags().StringToStringVarP(&flags.overrides, "environment", "e", nil, "environment variable override, repeatable (KEY=VALUE)")
	cmd.PersistentFlags().StringVarP(&flags.region, "region", "r", "", "AWS region (accepted but not applied; stacks use their own region or the SDK default)")
	cmd.PersistentFlags().StringVarP(&flags.profile, "profile", "p", "", "AWS named profile (accepted but not applied; stacks use their own profile or the SDK default)")
	cmd.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")

	cmd.AddCommand(newBuildCmd(flags, app))
	cmd.AddCommand(newDestroyCmd(flags, app))
	cmd.AddCommand(newDiffCmd(flags, app))
	cmd.AddCommand(newInfoCmd(flags, app))
	cmd.AddCommand(newGraphCmd(flags, app))
	cmd.AddCommand(newDumpCmd(flags, app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
