package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/shell"
	"github.com/lexun/vibetree/internal/style"
	"github.com/lexun/vibetree/internal/worktree"
)

var switchCmd = &cobra.Command{
	Use:   "switch <branch>",
	Short: "Open a shell in a worktree directory",
	Long: `Spawn your shell inside the worktree for the given branch. Type
'exit' to return to where you came from.`,
	Args: cobra.ExactArgs(1),
	RunE: runSwitch,
}

func init() {
	rootCmd.AddCommand(switchCmd)
}

func runSwitch(cmd *cobra.Command, args []string) error {
	branch := args[0]
	mgr, err := newManager()
	if err != nil {
		return err
	}

	target := mgr.Path(branch)
	if branch != mgr.Store().Project.MainBranch {
		if _, err := os.Stat(target); err != nil {
			return fmt.Errorf("worktree %q does not exist at %s", branch, target)
		}
		attached, err := isAttachedWorktree(mgr, target)
		if err != nil {
			return err
		}
		if !attached {
			return fmt.Errorf("directory %s exists but is not a git worktree", target)
		}
	}

	if depth := shell.Depth(); depth > 0 {
		fmt.Println(style.Dim.Render(fmt.Sprintf(
			"already %d vibetree shell(s) deep; exit to unwind", depth)))
	}
	fmt.Printf("%s Entering %s (exit to return)\n", style.Success.Render("[>]"), target)
	return shell.Spawn(target)
}

func isAttachedWorktree(mgr *worktree.Manager, target string) (bool, error) {
	worktrees, err := mgr.Worktrees()
	if err != nil {
		return false, err
	}
	resolved := resolvePath(target)
	for _, wt := range worktrees {
		if resolvePath(wt.Path) == resolved {
			return true, nil
		}
	}
	return false, nil
}

func resolvePath(path string) string {
	if p, err := filepath.EvalSymlinks(path); err == nil {
		return p
	}
	return path
}
