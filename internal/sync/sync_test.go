package sync

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/git"
)

type fakeDisc struct {
	wts []git.Worktree
}

func (f fakeDisc) Worktrees() ([]git.Worktree, error) { return f.wts, nil }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// newFixture builds a store rooted in a temp dir with the given specs
// and already-persisted records.
func newFixture(t *testing.T, specs []config.VariableSpec, records map[string]map[string]string) *config.Store {
	t.Helper()
	store := config.NewStore(t.TempDir())
	store.Project = config.NewProjectConfig("main")
	store.Project.Variables = specs
	store.State = config.NewBranchesState()
	for branch, values := range records {
		store.State.Branches[branch] = config.WorktreeRecord{Values: values}
	}
	if err := store.SaveProject(); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveState(); err != nil {
		t.Fatal(err)
	}
	return store
}

func branchDir(t *testing.T, store *config.Store, branch string) string {
	t.Helper()
	dir := filepath.Join(store.Root(), store.Project.BranchesDir, branch)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newReconciler(store *config.Store, wts []git.Worktree) *Reconciler {
	alloc := allocator.New(func(uint16) bool { return true })
	return NewReconciler(store, alloc, fakeDisc{wts: wts}, quietLogger())
}

func TestReconcileThreeWayDiff(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, map[string]map[string]string{
		"main":      {"PORT": "3000"},
		"feature-x": {"PORT": "3001"},
	})
	featureY := branchDir(t, store, "feature-y")

	r := newReconciler(store, []git.Worktree{
		{Path: store.Root(), Branch: "main"},
		{Path: featureY, Branch: "feature-y"},
	})
	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("unexpected item errors: %v", report.Errors)
	}

	if _, ok := store.State.Branches["feature-x"]; ok {
		t.Error("feature-x should be removed from state")
	}
	rec, ok := store.State.Branches["feature-y"]
	if !ok {
		t.Fatal("feature-y should be added to state")
	}
	// Additions run before removals, so feature-x's 3001 is still
	// reserved when feature-y allocates.
	if rec.Values["PORT"] != "3002" {
		t.Errorf("feature-y PORT = %q, want 3002", rec.Values["PORT"])
	}
	if store.State.Branches["main"].Values["PORT"] != "3000" {
		t.Error("main must be left untouched")
	}

	if _, err := os.Stat(filepath.Join(featureY, ".vibetree", "env")); err != nil {
		t.Errorf("feature-y env file not generated: %v", err)
	}
}

func TestReconcileDryRunMutatesNothing(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, map[string]map[string]string{
		"gone": {"PORT": "3001"},
	})

	r := newReconciler(store, []git.Worktree{{Path: store.Root(), Branch: "main"}})
	report, err := r.Reconcile(true)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if report.Plan.Empty() {
		t.Fatal("plan should report pending changes")
	}
	if len(report.Plan.Orphaned) != 1 || report.Plan.Orphaned[0].Branch != "main" {
		t.Errorf("orphaned = %+v", report.Plan.Orphaned)
	}
	if len(report.Plan.Missing) != 1 || report.Plan.Missing[0] != "gone" {
		t.Errorf("missing = %+v", report.Plan.Missing)
	}

	if _, ok := store.State.Branches["gone"]; !ok {
		t.Error("dry run must not touch state")
	}
	if _, err := os.Stat(filepath.Join(store.Root(), ".vibetree", "env")); !os.IsNotExist(err) {
		t.Error("dry run must not write env files")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, nil)
	featureX := branchDir(t, store, "feature-x")
	wts := []git.Worktree{
		{Path: store.Root(), Branch: "main"},
		{Path: featureX, Branch: "feature-x"},
	}

	r := newReconciler(store, wts)
	if _, err := r.Reconcile(false); err != nil {
		t.Fatalf("first Reconcile failed: %v", err)
	}

	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatalf("second Reconcile failed: %v", err)
	}
	if !report.Plan.Empty() {
		t.Errorf("second pass should find nothing: %+v", report.Plan)
	}
	if len(report.Regenerated) != 0 {
		t.Errorf("second pass should rewrite no env files: %v", report.Regenerated)
	}
}

func TestReconcileMismatchedSpec(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, map[string]map[string]string{
		"feature-x": {"OLD_PORT": "3005"},
	})
	featureX := branchDir(t, store, "feature-x")

	r := newReconciler(store, []git.Worktree{{Path: featureX, Branch: "feature-x"}})
	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.Updated) != 1 || report.Updated[0] != "feature-x" {
		t.Fatalf("updated = %v", report.Updated)
	}

	rec := store.State.Branches["feature-x"]
	if _, stale := rec.Values["OLD_PORT"]; stale {
		t.Error("stale key should be gone")
	}
	if rec.Values["PORT"] != "3000" {
		t.Errorf("PORT = %q, want 3000 (old value freed)", rec.Values["PORT"])
	}
}

func TestReconcileMainGetsBaseValues(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, map[string]map[string]string{
		"feature-x": {"PORT": "3000"},
	})
	featureX := branchDir(t, store, "feature-x")

	r := newReconciler(store, []git.Worktree{
		{Path: store.Root(), Branch: "main"},
		{Path: featureX, Branch: "feature-x"},
	})
	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("unexpected item errors: %v", report.Errors)
	}

	if got := store.State.Branches["main"].Values["PORT"]; got != "3000" {
		t.Errorf("main PORT = %q, want literal base 3000", got)
	}
	if got := store.State.Branches["feature-x"].Values["PORT"]; got == "3000" {
		t.Error("feature-x still squats on main's base value")
	}
}

func TestReconcileIgnoresForeignWorktrees(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, nil)

	r := newReconciler(store, []git.Worktree{
		{Path: store.Root(), Branch: "main"},
		{Path: t.TempDir(), Branch: "elsewhere"},
		{Path: filepath.Join(store.Root(), store.Project.BranchesDir, "pinned"), IsDetached: true},
	})
	report, err := r.Reconcile(true)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.Plan.Orphaned) != 1 || report.Plan.Orphaned[0].Branch != "main" {
		t.Errorf("only main should be orphaned, got %+v", report.Plan.Orphaned)
	}
}

func TestReconcileRepairsDriftedEnvFile(t *testing.T) {
	specs := []config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}}
	store := newFixture(t, specs, nil)
	wts := []git.Worktree{{Path: store.Root(), Branch: "main"}}

	r := newReconciler(store, wts)
	if _, err := r.Reconcile(false); err != nil {
		t.Fatal(err)
	}

	envPath := filepath.Join(store.Root(), ".vibetree", "env")
	if err := os.WriteFile(envPath, []byte("PORT=9999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Regenerated) != 1 || report.Regenerated[0] != "main" {
		t.Fatalf("regenerated = %v", report.Regenerated)
	}
	data, err := os.ReadFile(envPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# Generated by vibetree for branch 'main' - do not edit\nPORT=3000\n" {
		t.Errorf("env file not repaired: %q", data)
	}
}

func TestReconcileMainBaseSkipsProbe(t *testing.T) {
	specs := []config.VariableSpec{
		{Name: "PORT", Value: int64(3000), Type: config.VarTypePort},
	}
	store := newFixture(t, specs, nil)
	okDir := branchDir(t, store, "ok")

	// 3000 is unprobeable: main must still take it as a literal base,
	// while ordinary branches search past it.
	alloc := allocator.New(func(p uint16) bool { return p != 3000 })
	r := NewReconciler(store, alloc, fakeDisc{wts: []git.Worktree{
		{Path: store.Root(), Branch: "main"},
		{Path: okDir, Branch: "ok"},
	}}, quietLogger())

	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
	if store.State.Branches["main"].Values["PORT"] != "3000" {
		t.Error("main should keep its base even when unprobeable")
	}
	if store.State.Branches["ok"].Values["PORT"] == "3000" {
		t.Error("non-main branch must search past an unprobeable base")
	}
}

func TestReconcileCollectsPerBranchErrors(t *testing.T) {
	// A broken branch pattern fails each orphan's allocation
	// individually; the pass still runs to completion and reports
	// every failure instead of aborting on the first.
	specs := []config.VariableSpec{
		{Name: "PORT", Value: int64(3000), Type: config.VarTypePort, Branch: "["},
	}
	store := newFixture(t, specs, nil)
	aDir := branchDir(t, store, "a")
	bDir := branchDir(t, store, "b")

	r := newReconciler(store, []git.Worktree{
		{Path: aDir, Branch: "a"},
		{Path: bDir, Branch: "b"},
	})
	report, err := r.Reconcile(false)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if len(report.Errors) != 2 {
		t.Fatalf("expected one error per orphan, got %v", report.Errors)
	}
	for _, itemErr := range report.Errors {
		if itemErr.Op != "add" {
			t.Errorf("unexpected op %q", itemErr.Op)
		}
	}
	if len(store.State.Branches) != 0 {
		t.Errorf("failed adds must not leave records: %+v", store.State.Branches)
	}
}
