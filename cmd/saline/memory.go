package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the long-term memory document",
	}
	cmd.AddCommand(memoryShowCmd(), memoryUpdateCmd(), memoryModifyCmd(), memoryWipeCmd())
	return cmd
}

func memoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current memory document",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			content, err := a.Memory().Read()
			if err != nil {
				return err
			}
			if strings.TrimSpace(content) == "" {
				fmt.Println(metaStyle.Render("memory is empty"))
				return nil
			}
			if at, ok := a.Memory().LastUpdated(); ok {
				fmt.Println(metaStyle.Render("last updated " + at.Format("2006-01-02 15:04:05")))
			}
			fmt.Println(content)
			return nil
		},
	}
}

func memoryUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Regenerate the memory from every session's user messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			accepted, err := a.UpdateMemory(cmd.Context())
			if err != nil {
				return err
			}
			if !accepted {
				fmt.Println("update rejected (candidate too small or no user messages)")
				return nil
			}
			fmt.Println("memory updated")
			return nil
		},
	}
}

func memoryModifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modify <instruction>",
		Short: "Apply a free-form instruction to the memory",
		Long: `Apply a free-form instruction to the memory document, for example:

  saline memory modify "forget my old employer"
  saline memory modify "note that I moved to Porto"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			accepted, err := a.ModifyMemory(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if !accepted {
				fmt.Println("modification rejected (result too small); use 'saline memory wipe' to clear")
				return nil
			}
			fmt.Println("memory modified")
			return nil
		},
	}
}

func memoryWipeCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "wipe",
		Short: "Erase the memory document",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to wipe without --yes")
			}
			a, _, err := loadApp()
			if err != nil {
				return err
			}
			if err := a.Memory().Wipe(); err != nil {
				return err
			}
			fmt.Println("memory wiped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "yes", false, "confirm the wipe")
	return cmd
}
