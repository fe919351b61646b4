package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/display"
)

var listFormatFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees with their allocations",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listFormatFlag, "format", "f", "table", "Output format (table, json, yaml)")
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := display.ParseFormat(listFormatFlag)
	if err != nil {
		return err
	}

	mgr, err := newManager()
	if err != nil {
		return err
	}

	worktrees, err := mgr.Worktrees()
	if err != nil {
		return err
	}

	items := display.Collect(mgr.Store(), worktrees, mgr.Path)
	return display.Render(os.Stdout, items, format)
}
