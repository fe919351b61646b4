// Package worktree orchestrates the lifecycle of managed worktrees:
// init, add, remove, and the sync pass that keeps state honest.
package worktree

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/envfile"
	"github.com/lexun/vibetree/internal/git"
	"github.com/lexun/vibetree/internal/ports"
	"github.com/lexun/vibetree/internal/sync"
	"github.com/lexun/vibetree/internal/validate"
)

var (
	// ErrExists indicates the branch already has a record or directory.
	ErrExists = errors.New("worktree already exists")

	// ErrUnknownBranch indicates no record exists for the branch.
	ErrUnknownBranch = errors.New("worktree not found in state")

	// ErrMainBranch indicates an operation that cannot target main.
	ErrMainBranch = errors.New("operation not allowed on the main branch")

	// ErrPortsBusy indicates operator-supplied port values that cannot
	// be bound right now.
	ErrPortsBusy = errors.New("ports not available")

	// ErrUncommittedChanges indicates a removal that would lose work.
	ErrUncommittedChanges = errors.New("worktree has uncommitted changes, use --force to remove anyway")
)

// Manager ties the store, allocator and git wrapper together for one
// invocation.
type Manager struct {
	store *config.Store
	alloc *allocator.Allocator
	git   *git.Git
	log   *logrus.Logger
	probe ports.Probe
}

// NewManager wires a manager. A nil logger falls back to the logrus
// standard logger; a nil probe uses the real localhost bind check.
func NewManager(store *config.Store, alloc *allocator.Allocator, g *git.Git, log *logrus.Logger, probe ports.Probe) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if probe == nil {
		probe = ports.Available
	}
	return &Manager{store: store, alloc: alloc, git: g, log: log, probe: probe}
}

// Store exposes the underlying store for display code.
func (m *Manager) Store() *config.Store { return m.store }

// BranchesDir is where non-main worktrees live.
func (m *Manager) BranchesDir() string {
	return filepath.Join(m.store.Root(), m.store.Project.BranchesDir)
}

// Path returns the worktree directory for a branch.
func (m *Manager) Path(branch string) string {
	if branch == m.store.Project.MainBranch {
		return m.store.Root()
	}
	return filepath.Join(m.BranchesDir(), branch)
}

func (m *Manager) envPath(worktreePath string) string {
	return filepath.Join(worktreePath, m.store.Project.EnvFilePath)
}

func (m *Manager) reconciler() *sync.Reconciler {
	return sync.NewReconciler(m.store, m.alloc, m.git, m.log)
}

// Sync runs one reconciliation pass.
func (m *Manager) Sync(dryRun bool) (*sync.Report, error) {
	return m.reconciler().Reconcile(dryRun)
}

// Worktrees lists the worktrees git knows about.
func (m *Manager) Worktrees() ([]git.Worktree, error) {
	return m.git.Worktrees()
}

// ParseVariableFlags converts `--variables api:3000,db` flags into
// specs. A bare name without a port gets a default base spaced 100
// apart starting at 8000.
func ParseVariableFlags(flags []string) ([]config.VariableSpec, error) {
	specs := make([]config.VariableSpec, 0, len(flags))
	for _, flag := range flags {
		name, portStr, hasPort := strings.Cut(flag, ":")
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" {
			return nil, fmt.Errorf("empty variable name in %q", flag)
		}
		base := int64(8000 + len(specs)*100)
		if hasPort {
			n, err := strconv.ParseInt(portStr, 10, 64)
			if err != nil || n < 0 || n > 65535 {
				return nil, fmt.Errorf("invalid port %q for variable %s", portStr, name)
			}
			base = n
		}
		specs = append(specs, config.VariableSpec{
			Name:  name,
			Value: base,
			Type:  config.VarTypePort,
		})
	}
	return specs, nil
}

// Init writes a fresh project configuration, installs the main branch
// with its literal base values, points .gitignore at the state dir,
// and runs a sync pass so pre-existing worktrees get picked up.
func (m *Manager) Init(specs []config.VariableSpec) (*sync.Report, error) {
	m.store.Project.Variables = specs

	if len(specs) > 0 {
		main := m.store.Project.MainBranch
		values, err := m.alloc.BaseValues(specs, main)
		if err != nil {
			return nil, err
		}
		m.store.State.Branches[main] = config.WorktreeRecord{Values: values}
		if _, err := envfile.Write(m.envPath(m.store.Root()), main, values); err != nil {
			return nil, err
		}
	}

	if err := m.store.SaveProject(); err != nil {
		return nil, err
	}
	if err := m.store.SaveState(); err != nil {
		return nil, err
	}
	if err := m.updateGitignore(); err != nil {
		return nil, err
	}

	return m.Sync(false)
}

// updateGitignore appends the state dir rule unless already present.
func (m *Manager) updateGitignore() error {
	path := filepath.Join(m.store.Root(), ".gitignore")
	rule := config.StateDirName + "/"

	content := ""
	if data, err := os.ReadFile(path); err == nil {
		content = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading .gitignore: %w", err)
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == rule {
			return nil
		}
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += rule + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("updating .gitignore: %w", err)
	}
	m.log.WithField("rule", rule).Debug("added gitignore rule")
	return nil
}

// AddResult describes a completed (or dry-run) add.
type AddResult struct {
	Branch   string
	Path     string
	Values   map[string]string
	Warnings []allocator.Warning
}

// Add creates a worktree for a new branch with a freshly allocated
// value set. Custom values, when given, are zipped positionally with
// the variable list and validated for collisions before anything is
// created. With dryRun the result is computed and returned but no
// state, worktree, or file is touched.
func (m *Manager) Add(branch, from string, custom []string, dryRun bool) (*AddResult, error) {
	if err := validate.BranchName(branch); err != nil {
		return nil, err
	}
	if branch == m.store.Project.MainBranch {
		return nil, fmt.Errorf("%w: add %q", ErrMainBranch, branch)
	}
	if _, ok := m.store.State.Branches[branch]; ok {
		return nil, fmt.Errorf("%w: %q", ErrExists, branch)
	}

	worktreePath := m.Path(branch)
	if _, err := os.Stat(worktreePath); err == nil {
		return nil, fmt.Errorf("%w: directory %s", ErrExists, worktreePath)
	}

	var values map[string]string
	var warnings []allocator.Warning
	if custom != nil {
		var err error
		values, err = m.customValues(custom)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		values, warnings, err = m.alloc.AllocateAll(m.store.Project.Variables, branch, m.store.State.Branches)
		if err != nil {
			return nil, err
		}
	}

	result := &AddResult{Branch: branch, Path: worktreePath, Values: values, Warnings: warnings}
	if dryRun {
		return result, nil
	}

	if err := os.MkdirAll(m.BranchesDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating branches directory: %w", err)
	}
	if err := m.createWorktree(worktreePath, branch, from); err != nil {
		return nil, err
	}

	m.store.State.Branches[branch] = config.WorktreeRecord{Values: values}
	if err := m.store.SaveState(); err != nil {
		return nil, err
	}
	if _, err := envfile.Write(m.envPath(worktreePath), branch, values); err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{"branch": branch, "path": worktreePath}).Info("added worktree")
	return result, nil
}

// createWorktree attaches a worktree for branch: from an explicit
// start ref, from the branch itself when it already exists, or on a
// new branch from HEAD.
func (m *Manager) createWorktree(path, branch, from string) error {
	if from != "" {
		return m.git.WorktreeAddFromRef(path, branch, from)
	}
	exists, err := m.git.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		m.log.WithField("branch", branch).Debug("attaching worktree for existing branch")
		return m.git.WorktreeAddExisting(path, branch)
	}
	return m.git.WorktreeAdd(path, branch)
}

// customValues zips operator-supplied values with the variable list,
// then checks collisions and port availability before anything is
// persisted.
func (m *Manager) customValues(custom []string) (map[string]string, error) {
	specs := m.store.Project.Variables
	if len(custom) != len(specs) {
		names := make([]string, len(specs))
		for i, s := range specs {
			names[i] = s.Name
		}
		return nil, fmt.Errorf("expected %d values for variables: %s",
			len(specs), strings.Join(names, ", "))
	}

	values := make(map[string]string, len(specs))
	for i, spec := range specs {
		values[spec.Name] = custom[i]
	}

	if err := validate.CustomValues(m.alloc, values, m.store.State.Branches); err != nil {
		return nil, err
	}

	// Values below 1024 are assumed to be plain integers, not ports.
	var busy []string
	for _, v := range values {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil && n >= 1024 && !m.probe(uint16(n)) {
			busy = append(busy, v)
		}
	}
	if len(busy) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrPortsBusy, strings.Join(busy, ", "))
	}
	return values, nil
}

// Remove deletes a worktree, its state record, its directory, and
// (unless keepBranch) its git branch. Git-level failures are logged
// and cleanup continues: a half-removed worktree should still lose
// its allocations.
func (m *Manager) Remove(branch string, force, keepBranch bool) error {
	if branch == m.store.Project.MainBranch {
		return ErrMainBranch
	}
	if _, ok := m.store.State.Branches[branch]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBranch, branch)
	}

	worktreePath := m.Path(branch)
	if !force {
		if dirty, err := git.NewGit(worktreePath).HasUncommittedChanges(); err == nil && dirty {
			return fmt.Errorf("%w: %q", ErrUncommittedChanges, branch)
		}
	}
	if err := m.git.WorktreeRemove(worktreePath, force); err != nil {
		m.log.WithError(err).Warn("git worktree remove failed, continuing cleanup")
	}

	delete(m.store.State.Branches, branch)
	if err := m.store.SaveState(); err != nil {
		return err
	}

	if _, err := os.Stat(worktreePath); err == nil {
		if err := os.RemoveAll(worktreePath); err != nil {
			return fmt.Errorf("removing directory: %w", err)
		}
	}
	if err := m.git.WorktreePrune(); err != nil {
		m.log.WithError(err).Warn("git worktree prune failed")
	}

	if !keepBranch {
		if err := m.git.DeleteBranch(branch, true); err != nil {
			m.log.WithError(err).Warn("git branch delete failed")
		}
	}

	m.log.WithField("branch", branch).Info("removed worktree")
	return nil
}
