package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lexun/vibetree/internal/style"
)

var (
	removeForceFlag      bool
	removeKeepBranchFlag bool
)

var removeCmd = &cobra.Command{
	Use:   "remove <branch>",
	Short: "Remove a git worktree and free its allocations",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolVarP(&removeForceFlag, "force", "f", false,
		"Remove even with uncommitted changes, without confirmation")
	removeCmd.Flags().BoolVar(&removeKeepBranchFlag, "keep-branch", false,
		"Remove the worktree but keep the git branch")
}

func runRemove(cmd *cobra.Command, args []string) error {
	branch := args[0]
	mgr, err := newManager()
	if err != nil {
		return err
	}

	if !removeForceFlag && !confirmRemoval(branch) {
		fmt.Println("Cancelled")
		return nil
	}

	if err := mgr.Remove(branch, removeForceFlag, removeKeepBranchFlag); err != nil {
		return err
	}
	fmt.Printf("%s Removed worktree %q\n", style.Success.Render("[-]"), branch)
	if removeKeepBranchFlag {
		fmt.Printf("    Kept git branch %q\n", branch)
	}
	return nil
}

// confirmRemoval prompts on a TTY; non-interactive callers must pass
// --force instead of silently destroying a worktree.
func confirmRemoval(branch string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, style.Warning.Render(
			"refusing to remove without confirmation; use --force in scripts"))
		return false
	}
	fmt.Printf("%s Make sure nothing is using the allocated ports.\n", style.Warning.Render("[!]"))
	fmt.Printf("Remove worktree %q? (y/N): ", branch)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
