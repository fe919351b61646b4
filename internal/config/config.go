// Package config owns the two persisted documents: the shared project
// configuration (vibetree.toml, version-controlled) and the local
// branch state (.vibetree/branches.toml, machine-owned).
package config

import (
	"errors"
	"fmt"
)

const (
	// ConfigFileName is the operator-edited project file at the repo root.
	ConfigFileName = "vibetree.toml"

	// StateDirName holds machine-owned files inside the main worktree.
	StateDirName = ".vibetree"

	// StateFileName is the branch allocation state inside StateDirName.
	StateFileName = "branches.toml"

	// DefaultEnvFilePath is where generated env files land inside each
	// worktree unless the project overrides it.
	DefaultEnvFilePath = ".vibetree/env"

	// DefaultBranchesDir is where non-main worktrees are created,
	// relative to the repository root.
	DefaultBranchesDir = "branches"

	// CurrentVersion is the schema version both documents carry.
	CurrentVersion = 1
)

var (
	// ErrInvalidVersion indicates an unsupported schema version.
	ErrInvalidVersion = errors.New("unsupported config version")

	// ErrMissingField indicates a required field is missing.
	ErrMissingField = errors.New("missing required field")
)

// VarType is the declared allocation kind of a variable.
type VarType string

const (
	// VarTypePort allocates a bindable TCP port.
	VarTypePort VarType = "port"
	// VarTypeInt allocates a plain integer.
	VarTypeInt VarType = "int"
)

// VariableSpec is one named allocation rule. Value is either a string
// (literal or template) or an integer; TOML decoding produces string
// or int64 here. Branch, when set, is a regular expression restricting
// the rule to matching branch names. Duplicate names are allowed: the
// first spec whose pattern matches a branch wins.
type VariableSpec struct {
	Name   string  `toml:"name"`
	Value  any     `toml:"value"`
	Type   VarType `toml:"type,omitempty"`
	Branch string  `toml:"branch,omitempty"`
}

// StringValue returns the value as a string if it was declared as one.
func (v VariableSpec) StringValue() (string, bool) {
	s, ok := v.Value.(string)
	return s, ok
}

// IntValue returns the value as an integer if it was declared as one.
func (v VariableSpec) IntValue() (int64, bool) {
	switch n := v.Value.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	}
	return 0, false
}

// ProjectConfig is the shared, operator-declared specification.
type ProjectConfig struct {
	Version     int            `toml:"version"`
	MainBranch  string         `toml:"main_branch"`
	BranchesDir string         `toml:"branches_dir"`
	EnvFilePath string         `toml:"env_file_path"`
	Variables   []VariableSpec `toml:"variables,omitempty"`
}

// NewProjectConfig returns a config with defaults filled in.
func NewProjectConfig(mainBranch string) *ProjectConfig {
	return &ProjectConfig{
		Version:     CurrentVersion,
		MainBranch:  mainBranch,
		BranchesDir: DefaultBranchesDir,
		EnvFilePath: DefaultEnvFilePath,
	}
}

// WorktreeRecord is one branch's resolved values. The branch name is
// the key under which the record is stored in BranchesState.
type WorktreeRecord struct {
	Values map[string]string `toml:"values"`
}

// BranchesState maps branch names to their allocation records. It is
// the sole source of truth for what has been allocated.
type BranchesState struct {
	Version  int                       `toml:"version"`
	Branches map[string]WorktreeRecord `toml:"branches,omitempty"`
}

// NewBranchesState returns an empty state document.
func NewBranchesState() *BranchesState {
	return &BranchesState{
		Version:  CurrentVersion,
		Branches: make(map[string]WorktreeRecord),
	}
}

func validateProjectConfig(c *ProjectConfig) error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, c.Version)
	}
	if c.MainBranch == "" {
		return fmt.Errorf("%w: main_branch", ErrMissingField)
	}
	if c.BranchesDir == "" {
		return fmt.Errorf("%w: branches_dir", ErrMissingField)
	}
	if c.EnvFilePath == "" {
		return fmt.Errorf("%w: env_file_path", ErrMissingField)
	}
	for i, v := range c.Variables {
		if v.Name == "" {
			return fmt.Errorf("%w: variables[%d].name", ErrMissingField, i)
		}
	}
	return nil
}

func validateBranchesState(s *BranchesState) error {
	if s.Version != CurrentVersion {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, s.Version)
	}
	return nil
}
