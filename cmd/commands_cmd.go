package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/luxbot/internal/commands"
	"github.com/nextlevelbuilder/luxbot/internal/dispatch"
)

func commandsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commands",
		Short: "Inspect chat commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the commands enabled by the current config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := commands.Rebuild(cfg.Commands, commands.Deps{})
			if err != nil {
				return err
			}
			printCommands(reg, cfg.Commands.Prefix)
			return nil
		},
	})
	return cmd
}

func printCommands(reg *dispatch.Registry, prefix string) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "COMMAND\tALIASES\tACCESS\tDESCRIPTION\n")
	for _, c := range reg.Commands() {
		access := "everyone"
		switch {
		case c.OwnerOnly:
			access = "owner"
		case c.GroupOnly:
			access = "groups"
		}
		fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", prefix, c.Name, strings.Join(c.Aliases, ", "), access, c.Description)
	}
	tw.Flush()
}
