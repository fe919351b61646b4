package cmd

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/git"
	"github.com/lexun/vibetree/internal/style"
	"github.com/lexun/vibetree/internal/worktree"
)

var initVariablesFlag []string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize vibetree configuration",
	Long: `Initialize vibetree in the current repository.

Variables are given as name or name:port; bare names get default base
ports spaced 100 apart starting at 8000.

Examples:
  vibetree init --variables api:3000,db:5432
  vibetree init --variables web,worker`,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringSliceVar(&initVariablesFlag, "variables", nil,
		"Variables needing isolation (name[:port], comma-separated)")
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}

	store := config.NewStore(root)
	if err := store.Load(); err != nil {
		if !errors.Is(err, config.ErrNotFound) {
			return err
		}
		mainBranch, branchErr := git.NewGit(root).CurrentBranch()
		if branchErr != nil || mainBranch == "" {
			mainBranch = "main"
		}
		store.Project = config.NewProjectConfig(mainBranch)
		store.State = config.NewBranchesState()
	}

	specs, err := worktree.ParseVariableFlags(initVariablesFlag)
	if err != nil {
		return err
	}

	mgr := worktree.NewManager(store, allocator.New(nil), git.NewGit(root),
		logrus.StandardLogger(), nil)
	report, err := mgr.Init(specs)
	if err != nil {
		return err
	}

	fmt.Printf("%s Initialized vibetree configuration at %s\n",
		style.Success.Render("[+]"), store.ConfigPath())
	for _, spec := range store.Project.Variables {
		fmt.Printf("    %s = %v\n", spec.Name, spec.Value)
	}
	if len(store.Project.Variables) > 0 {
		fmt.Printf("%s Environment file created at %s\n",
			style.Success.Render("[+]"), store.Project.EnvFilePath)
		fmt.Println(style.Dim.Render("    Use it like: docker compose --env-file " +
			store.Project.EnvFilePath + " up"))
	}
	printReport(report)
	return reportErr(report)
}
