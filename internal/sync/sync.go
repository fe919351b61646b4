// Package sync reconciles the persisted branch state against the
// worktrees that actually exist. It detects orphaned worktrees (on
// disk, not in state), missing ones (in state, not on disk), and
// mismatched ones (state was allocated under an older variable
// specification), repairs all three, and regenerates env files.
package sync

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/envfile"
	"github.com/lexun/vibetree/internal/git"
)

// Discoverer reports the worktrees currently attached to the
// repository. *git.Git satisfies it.
type Discoverer interface {
	Worktrees() ([]git.Worktree, error)
}

// Orphan is a worktree on disk with no state record.
type Orphan struct {
	Branch string
	Path   string
}

// Plan is the diff between state and reality: three disjoint sets.
type Plan struct {
	Orphaned   []Orphan
	Missing    []string
	Mismatched []string
}

// Empty reports whether the pass has nothing to repair.
func (p *Plan) Empty() bool {
	return len(p.Orphaned) == 0 && len(p.Missing) == 0 && len(p.Mismatched) == 0
}

// ItemError is one failed repair action. Item errors accumulate in the
// Report instead of aborting the pass: each branch's state is
// independent, and repairing the others is worth more than stopping.
type ItemError struct {
	Branch string
	Op     string
	Err    error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Branch, e.Err)
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Plan   Plan
	DryRun bool

	Added       []string
	Removed     []string
	Updated     []string
	Regenerated []string
	Warnings    []allocator.Warning
	Errors      []ItemError
}

// Clean reports whether the pass finished without item errors.
func (r *Report) Clean() bool { return len(r.Errors) == 0 }

// Reconciler runs reconciliation passes over one Store.
type Reconciler struct {
	store *config.Store
	alloc *allocator.Allocator
	disc  Discoverer
	log   *logrus.Logger
}

// NewReconciler wires a reconciler. A nil logger falls back to the
// logrus standard logger.
func NewReconciler(store *config.Store, alloc *allocator.Allocator, disc Discoverer, log *logrus.Logger) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{store: store, alloc: alloc, disc: disc, log: log}
}

// Reconcile runs one pass. With dryRun the plan is computed and
// returned but nothing is mutated, not even env files. State is saved
// once at the end, and only if the plan required changes, so a no-op
// pass leaves every file untouched.
func (r *Reconciler) Reconcile(dryRun bool) (*Report, error) {
	plan, err := r.analyze()
	if err != nil {
		return nil, err
	}

	report := &Report{Plan: *plan, DryRun: dryRun}
	if dryRun {
		return report, nil
	}

	if !plan.Empty() {
		r.apply(plan, report)
	}
	r.regenerate(report)

	if !plan.Empty() {
		if err := r.store.SaveState(); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (r *Reconciler) branchesDir() string {
	return filepath.Join(r.store.Root(), r.store.Project.BranchesDir)
}

// WorktreePath returns where a branch's worktree lives: the repo root
// for the main branch, the branches dir otherwise.
func (r *Reconciler) WorktreePath(branch string) string {
	if branch == r.store.Project.MainBranch {
		return r.store.Root()
	}
	return filepath.Join(r.branchesDir(), branch)
}

func (r *Reconciler) envPath(worktreePath string) string {
	return filepath.Join(worktreePath, r.store.Project.EnvFilePath)
}

func (r *Reconciler) analyze() (*Plan, error) {
	worktrees, err := r.disc.Worktrees()
	if err != nil {
		return nil, fmt.Errorf("discovering worktrees: %w", err)
	}

	plan := &Plan{}
	branchesDir := r.branchesDir()

	for _, wt := range worktrees {
		if wt.IsBare || wt.IsDetached || wt.Branch == "" {
			continue
		}
		isMain := wt.Branch == r.store.Project.MainBranch
		if !isMain && !pathWithin(branchesDir, wt.Path) {
			// A worktree elsewhere on disk is not ours to manage.
			continue
		}
		if _, known := r.store.State.Branches[wt.Branch]; !known {
			plan.Orphaned = append(plan.Orphaned, Orphan{Branch: wt.Branch, Path: wt.Path})
		}
	}

	missing := make(map[string]bool)
	for _, branch := range sortedBranches(r.store.State.Branches) {
		found := false
		for _, wt := range worktrees {
			if wt.Branch == branch {
				found = true
				break
			}
		}
		if !found {
			plan.Missing = append(plan.Missing, branch)
			missing[branch] = true
		}
	}

	for _, branch := range sortedBranches(r.store.State.Branches) {
		if missing[branch] {
			continue
		}
		expected, err := r.expectedNames(branch)
		if err != nil {
			return nil, err
		}
		if !sameKeys(r.store.State.Branches[branch].Values, expected) {
			plan.Mismatched = append(plan.Mismatched, branch)
		}
	}

	return plan, nil
}

// expectedNames is the variable name set a fully synchronized record
// for this branch must carry: first match wins per name, and only
// specs whose pattern matches the branch count.
func (r *Reconciler) expectedNames(branch string) (map[string]struct{}, error) {
	// BaseValues applies the same ordering and pattern rules as a real
	// allocation without touching ports or the used set.
	values, err := r.alloc.BaseValues(r.store.Project.Variables, branch)
	if err != nil {
		return nil, err
	}
	names := make(map[string]struct{}, len(values))
	for name := range values {
		names[name] = struct{}{}
	}
	return names, nil
}

// apply repairs the plan in a fixed order: additions, then removals,
// then updates. Additions go first so they can claim values a removal
// would otherwise appear to free mid-pass.
func (r *Reconciler) apply(plan *Plan, report *Report) {
	for _, orphan := range plan.Orphaned {
		r.log.WithField("branch", orphan.Branch).Info("adding orphaned worktree to state")
		if orphan.Branch == r.store.Project.MainBranch {
			r.installMain(report, "add")
			continue
		}
		values, warnings, err := r.allocateFor(orphan.Branch)
		if err != nil {
			report.Errors = append(report.Errors, ItemError{Branch: orphan.Branch, Op: "add", Err: err})
			continue
		}
		r.store.State.Branches[orphan.Branch] = config.WorktreeRecord{Values: values}
		report.Added = append(report.Added, orphan.Branch)
		report.Warnings = append(report.Warnings, warnings...)
	}

	for _, branch := range plan.Missing {
		r.log.WithField("branch", branch).Info("removing missing worktree from state")
		delete(r.store.State.Branches, branch)
		report.Removed = append(report.Removed, branch)
	}

	for _, branch := range plan.Mismatched {
		r.log.WithField("branch", branch).Info("reallocating under changed variables")
		if branch == r.store.Project.MainBranch {
			r.installMain(report, "update")
			continue
		}
		values, warnings, err := r.allocateFor(branch)
		if err != nil {
			report.Errors = append(report.Errors, ItemError{Branch: branch, Op: "update", Err: err})
			continue
		}
		r.store.State.Branches[branch] = config.WorktreeRecord{Values: values}
		report.Updated = append(report.Updated, branch)
		report.Warnings = append(report.Warnings, warnings...)
	}
}

// allocateFor allocates a full value set for branch against every
// other record. The branch's own old record is excluded so its freed
// values can be reused.
func (r *Reconciler) allocateFor(branch string) (map[string]string, []allocator.Warning, error) {
	existing := make(map[string]config.WorktreeRecord, len(r.store.State.Branches))
	for name, rec := range r.store.State.Branches {
		if name != branch {
			existing[name] = rec
		}
	}
	return r.alloc.AllocateAll(r.store.Project.Variables, branch, existing)
}

// installMain gives the main branch its literal base values. Any other
// branch holding a number main needs is reassigned first, against a
// view of state where main's bases are already reserved.
func (r *Reconciler) installMain(report *Report, op string) {
	main := r.store.Project.MainBranch
	base, err := r.alloc.BaseValues(r.store.Project.Variables, main)
	if err != nil {
		report.Errors = append(report.Errors, ItemError{Branch: main, Op: op, Err: err})
		return
	}

	reserved := make(map[uint16]struct{})
	for _, value := range base {
		for n := range r.alloc.ExtractReservedNumbers(value) {
			reserved[n] = struct{}{}
		}
	}

	r.store.State.Branches[main] = config.WorktreeRecord{Values: base}

	for _, branch := range sortedBranches(r.store.State.Branches) {
		if branch == main || !r.holdsAny(branch, reserved) {
			continue
		}
		r.log.WithFields(logrus.Fields{"branch": branch, "main": main}).
			Info("reassigning values that squat on main's bases")
		values, warnings, err := r.allocateFor(branch)
		if err != nil {
			report.Errors = append(report.Errors, ItemError{Branch: branch, Op: "reassign", Err: err})
			continue
		}
		r.store.State.Branches[branch] = config.WorktreeRecord{Values: values}
		report.Updated = append(report.Updated, branch)
		report.Warnings = append(report.Warnings, warnings...)
	}

	switch op {
	case "add":
		report.Added = append(report.Added, main)
	default:
		report.Updated = append(report.Updated, main)
	}
}

func (r *Reconciler) holdsAny(branch string, numbers map[uint16]struct{}) bool {
	for _, value := range r.store.State.Branches[branch].Values {
		for n := range r.alloc.ExtractReservedNumbers(value) {
			if _, hit := numbers[n]; hit {
				return true
			}
		}
	}
	return false
}

// regenerate rewrites the env file of every branch whose worktree
// directory exists, unconditionally, so env files never drift from
// state. Writes of identical content are skipped.
func (r *Reconciler) regenerate(report *Report) {
	for _, branch := range sortedBranches(r.store.State.Branches) {
		worktreePath := r.WorktreePath(branch)
		if _, err := os.Stat(worktreePath); err != nil {
			continue
		}
		wrote, err := envfile.Write(r.envPath(worktreePath), branch, r.store.State.Branches[branch].Values)
		if err != nil {
			report.Errors = append(report.Errors, ItemError{Branch: branch, Op: "env", Err: err})
			continue
		}
		if wrote {
			report.Regenerated = append(report.Regenerated, branch)
		}
	}
}

func sortedBranches(branches map[string]config.WorktreeRecord) []string {
	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameKeys(values map[string]string, expected map[string]struct{}) bool {
	if len(values) != len(expected) {
		return false
	}
	for name := range values {
		if _, ok := expected[name]; !ok {
			return false
		}
	}
	return true
}

// pathWithin reports whether path is inside dir, tolerating symlinked
// temp dirs by comparing resolved paths when possible.
func pathWithin(dir, path string) bool {
	if rd, err := filepath.EvalSymlinks(dir); err == nil {
		if rp, err := filepath.EvalSymlinks(path); err == nil {
			dir, path = rd, rp
		}
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
