package cli

import (
	"errors"
	"fmt"

	"github.com/love2wisdom/kim-team-leader/internal/persona"
	"github.com/love2wisdom/kim-team-leader/internal/store"
	"github.com/love2wisdom/kim-team-leader/internal/templates"
	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
	}
	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentTemplatesCmd())
	return cmd
}

func newAgentAddCmd() *cobra.Command {
	var (
		team     string
		name     string
		role     string
		skills   []string
		template string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an agent to a team (optionally from a --template)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return errors.New("--team is required")
			}
			params := store.CreateAgentParams{Name: name, Role: role, Skills: skills}
			if template != "" {
				tpl, ok := templates.Get(template)
				if !ok {
					return fmt.Errorf("unknown template %q", template)
				}
				if params.Name == "" {
					params.Name = tpl.Name
				}
				if params.Role == "" {
					params.Role = tpl.Role
				}
				if len(params.Skills) == 0 {
					params.Skills = tpl.Skills
				}
				p := store.Persona{
					Personality:        tpl.Persona.Personality,
					Expertise:          tpl.Persona.Expertise,
					CommunicationStyle: tpl.Persona.CommunicationStyle,
				}
				prompt := persona.Render(params.Name, params.Role, &p)
				params.Persona = &store.PersonaParams{
					Personality:        p.Personality,
					Expertise:          p.Expertise,
					CommunicationStyle: p.CommunicationStyle,
					SystemPrompt:       &prompt,
				}
			}
			if params.Name == "" || params.Role == "" {
				return errors.New("--name and --role are required (or use --template)")
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			a, err := st.CreateAgent(cmd.Context(), team, params)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added agent %q to %q (role=%s, id=%s)\n", a.Name, team, a.Role, a.AgentID)
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	cmd.Flags().StringVar(&name, "name", "", "Agent name")
	cmd.Flags().StringVar(&role, "role", "", "Agent role")
	cmd.Flags().StringSliceVar(&skills, "skills", nil, "Agent skills")
	cmd.Flags().StringVar(&template, "template", "", "Built-in template id (see: teamleader agent templates)")
	return cmd
}

func newAgentListCmd() *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents on a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			if team == "" {
				return errors.New("--team is required")
			}
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			agents, err := st.ListAgents(cmd.Context(), team)
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No agents.")
				return nil
			}
			for _, a := range agents {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s  %s (%s, %s)\n", a.AgentID, a.Name, a.Role, a.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "Team name")
	return cmd
}

func newAgentTemplatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List built-in agent templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, t := range templates.List("") {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "- %s: %s (%s)\n", t.ID, t.Name, t.Role)
			}
			return nil
		},
	}
	return cmd
}
