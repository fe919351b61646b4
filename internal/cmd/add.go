package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/shell"
	"github.com/lexun/vibetree/internal/style"
)

var (
	addFromFlag   string
	addValuesFlag []string
	addDryRunFlag bool
	addSwitchFlag bool
)

var addCmd = &cobra.Command{
	Use:   "add <branch>",
	Short: "Add a git worktree with an isolated environment",
	Long: `Create a worktree for a new branch and allocate a fresh,
collision-free value set for it.

Custom values are positional, one per configured variable:
  vibetree add feature-x --values 3005,5440`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addFromFlag, "from", "", "Create the branch from this ref instead of HEAD")
	addCmd.Flags().StringSliceVar(&addValuesFlag, "values", nil, "Custom value assignments, in variable order")
	addCmd.Flags().BoolVar(&addDryRunFlag, "dry-run", false, "Show what would be added without making changes")
	addCmd.Flags().BoolVar(&addSwitchFlag, "switch", false, "Open a shell in the new worktree")
}

func runAdd(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	var custom []string
	if cmd.Flags().Changed("values") {
		custom = addValuesFlag
	}

	result, err := mgr.Add(args[0], addFromFlag, custom, addDryRunFlag)
	if err != nil {
		return err
	}

	if addDryRunFlag {
		fmt.Printf("%s Would add worktree %q at %s\n",
			style.Dim.Render("[dry-run]"), result.Branch, result.Path)
	} else {
		fmt.Printf("%s Added worktree %q at %s\n",
			style.Success.Render("[+]"), result.Branch, result.Path)
	}

	names := make([]string, 0, len(result.Values))
	for name := range result.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("    %s = %s\n", name, result.Values[name])
	}
	for _, warning := range result.Warnings {
		fmt.Printf("%s %s\n", style.Warning.Render("[!]"), warning)
	}

	if addSwitchFlag && !addDryRunFlag {
		return shell.Spawn(result.Path)
	}
	return nil
}
