// Package cmd implements the vibetree CLI.
package cmd

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/git"
	"github.com/lexun/vibetree/internal/worktree"
)

var verboseFlag bool

var rootCmd = &cobra.Command{
	Use:   "vibetree",
	Short: "Manage isolated development environments on git worktrees",
	Long: `vibetree gives every branch its own worktree with a private,
collision-free set of environment values (ports, counters, templated
strings) written to an env file.

Point your process orchestrator at it:
  docker compose --env-file .vibetree/env up`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose logging")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// repoRoot locates the main worktree of the enclosing repository.
func repoRoot() (string, error) {
	g := git.NewGit("")
	if !g.IsRepo() {
		return "", fmt.Errorf("not inside a git repository")
	}
	return g.MainWorktreeRoot()
}

// newManager loads state for commands that require an initialized
// project.
func newManager() (*worktree.Manager, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	store := config.NewStore(root)
	if err := store.Load(); err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, fmt.Errorf("no %s found; run 'vibetree init' first", config.ConfigFileName)
		}
		return nil, err
	}
	return worktree.NewManager(store, allocator.New(nil), git.NewGit(root), logrus.StandardLogger(), nil), nil
}
