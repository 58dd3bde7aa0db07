package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	groupStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)

	pinStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored chat sessions",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsDeleteCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions grouped the way the sidebar shows them",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			sb, err := a.Sessions().SidebarView()
			if err != nil {
				return err
			}

			if len(sb.Pinned) > 0 {
				fmt.Println(pinStyle.Render("★ Pinned"))
				for _, s := range sb.Pinned {
					printSummaryLine(s.Title, s.ID, s.MessageCount)
				}
				fmt.Println()
			}
			for _, g := range sb.Groups {
				fmt.Println(groupStyle.Render(g.Persona))
				for _, s := range g.Sessions {
					printSummaryLine(s.Title, s.ID, s.MessageCount)
				}
				fmt.Println()
			}
			if len(sb.Pinned) == 0 && len(sb.Groups) == 0 {
				fmt.Println(metaStyle.Render("no sessions yet"))
			}
			return nil
		},
	}
}

func printSummaryLine(title, id string, count int) {
	fmt.Printf("  %s  %s %s\n",
		titleStyle.Render(title),
		idStyle.Render(id),
		metaStyle.Render(fmt.Sprintf("(%d messages)", count)))
}

func sessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			if err := a.Sessions().Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("deleted", args[0])
			return nil
		},
	}
}

func personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "personas",
		Short: "Inspect configured personas",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List personas",
		RunE: func(c *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			personas, err := a.Personas().List()
			if err != nil {
				return err
			}
			defaultID := a.Settings().DefaultPersona
			for _, p := range personas {
				marker := " "
				if p.ID == defaultID {
					marker = pinStyle.Render("*")
				}
				fmt.Printf("%s %s  %s\n", marker,
					groupStyle.Render(p.DisplayName), idStyle.Render(p.ID))
			}
			return nil
		},
	})
	return cmd
}
