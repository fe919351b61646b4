package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/style"
	"github.com/lexun/vibetree/internal/sync"
)

var syncDryRunFlag bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize configuration and discover orphaned worktrees",
	Long: `Reconcile persisted state against the worktrees that actually
exist: adopt worktrees created outside vibetree, drop records whose
worktrees were deleted, reallocate branches whose variables changed,
and regenerate every env file.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncDryRunFlag, "dry-run", false,
		"Show what would be synchronized without making changes")
}

func runSync(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	report, err := mgr.Sync(syncDryRunFlag)
	if err != nil {
		return err
	}

	if report.Plan.Empty() {
		fmt.Printf("%s Configuration is synchronized\n", style.Success.Render("[ok]"))
	} else {
		printPlan(&report.Plan)
	}
	if report.DryRun {
		fmt.Println(style.Dim.Render("[dry-run] no changes made"))
		return nil
	}
	printReport(report)
	return reportErr(report)
}

func printPlan(plan *sync.Plan) {
	fmt.Printf("%s Synchronization needed:\n", style.Warning.Render("[!]"))
	if len(plan.Orphaned) > 0 {
		fmt.Println("  Orphaned worktrees to adopt:")
		for _, orphan := range plan.Orphaned {
			fmt.Printf("    %s %s\n", orphan.Branch, style.Dim.Render("("+orphan.Path+")"))
		}
	}
	if len(plan.Missing) > 0 {
		fmt.Println("  Missing worktrees to remove from state:")
		for _, branch := range plan.Missing {
			fmt.Printf("    %s\n", branch)
		}
	}
	if len(plan.Mismatched) > 0 {
		fmt.Println("  Worktrees to reallocate under changed variables:")
		for _, branch := range plan.Mismatched {
			fmt.Printf("    %s\n", branch)
		}
	}
}

// printReport shows what a pass actually did, including accumulated
// per-branch failures.
func printReport(report *sync.Report) {
	for _, branch := range report.Added {
		fmt.Printf("%s Added %s\n", style.Success.Render("[+]"), branch)
	}
	for _, branch := range report.Removed {
		fmt.Printf("%s Removed %s\n", style.Success.Render("[-]"), branch)
	}
	for _, branch := range report.Updated {
		fmt.Printf("%s Updated %s\n", style.Success.Render("[~]"), branch)
	}
	for _, branch := range report.Regenerated {
		fmt.Printf("%s Regenerated env file for %s\n", style.Dim.Render("[e]"), branch)
	}
	for _, warning := range report.Warnings {
		fmt.Printf("%s %s\n", style.Warning.Render("[!]"), warning)
	}
	for _, itemErr := range report.Errors {
		fmt.Printf("%s %s\n", style.Error.Render("[x]"), itemErr)
	}
}

func reportErr(report *sync.Report) error {
	if report.Clean() {
		return nil
	}
	return fmt.Errorf("completed with %d errors", len(report.Errors))
}
