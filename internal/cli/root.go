// Package cli implements the teamleader command tree.
package cli

import (
	"os"

	"github.com/love2wisdom/kim-team-leader/internal/config"
	"github.com/spf13/cobra"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "teamleader",
		Short:        "teamleader: AI agent teams executing tasks under human review",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override teamleader home directory (default: ~/.teamleader, env: TEAMLEADER_HOME)")

	cmd.AddCommand(newStartCmd())
	cmd.AddCommand(newTeamCmd())
	cmd.AddCommand(newAgentCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newResultCmd())
	cmd.AddCommand(newApikeyCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
