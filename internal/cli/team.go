package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/love2wisdom/kim-team-leader/internal/config"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/spf13/cobra"
)

func newTeamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
	}
	cmd.AddCommand(newTeamAddCmd())
	cmd.AddCommand(newTeamListCmd())
	cmd.AddCommand(newTeamRemoveCmd())
	cmd.AddCommand(newTeamMemberCmd())
	return cmd
}

func openStore(cmd *cobra.Command) (store.Store, error) {
	home := config.MustHomeFrom(cmd.Context())
	return store.Open(home)
}

func newTeamAddCmd() *cobra.Command {
	var (
		name        string
		owner       string
		description string
		purpose     string
		teamType    string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			t, err := st.CreateTeam(cmd.Context(), store.CreateTeamParams{
				Name:        name,
				Description: description,
				Purpose:     purpose,
				Type:        teamType,
				Owner:       owner,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created team %q (%s)\n", t.Name, t.TeamID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Team name")
	cmd.Flags().StringVar(&owner, "owner", "user", "Owning user")
	cmd.Flags().StringVar(&description, "description", "", "Team description")
	cmd.Flags().StringVar(&purpose, "purpose", "", "Team purpose")
	cmd.Flags().StringVar(&teamType, "type", "", "Team type (default: general)")
	return cmd
}

func newTeamListCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			teams, err := st.ListTeams(cmd.Context(), user)
			if err != nil {
				return err
			}
			if len(teams) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No teams.")
				return nil
			}
			for _, t := range teams {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s (agents=%d tasks=%d members=%d)\n", t.Name, t.AgentCount, t.TaskCount, t.MemberCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "Only teams this user owns or belongs to")
	return cmd
}

func newTeamRemoveCmd() *cobra.Command {
	var (
		name string
		yes  bool
	)
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a team and its data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			if !yes {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Remove team %q and all its data? Type the team name to confirm:\n", name)
				in := bufio.NewReader(cmd.InOrStdin())
				line, err := in.ReadString('\n')
				if err != nil && !strings.Contains(err.Error(), "EOF") {
					return err
				}
				if strings.TrimSpace(line) != name {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
					return nil
				}
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.DeleteTeam(cmd.Context(), name); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Removed.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Team name")
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip confirmation prompt")
	return cmd
}

func newTeamMemberCmd() *cobra.Command {
	var (
		team string
		user string
		role string
	)
	cmd := &cobra.Command{
		Use:   "member",
		Short: "Add a member to a team (or change their role)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" || user == "" {
				return errors.New("--team and --user are required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			if err := st.AddTeamMember(cmd.Context(), team, user, role); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added %q to %q as %s\n", user, team, role)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&user, "user", "", "User to add")
	cmd.Flags().StringVar(&role, "role", "member", "Role: owner, admin, or member")
	return cmd
}
