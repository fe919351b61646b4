package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// ErrNotFound indicates a config file does not exist.
var ErrNotFound = errors.New("config file not found")

// Store owns the in-memory representation of both documents for one
// invocation: load once, mutate, save once. No cross-process locking
// is attempted; concurrent invocations are unsupported.
type Store struct {
	root string

	Project *ProjectConfig
	State   *BranchesState
}

// NewStore returns a Store rooted at the main worktree directory.
// Nothing is read until Load.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the main worktree directory the store reads from.
func (s *Store) Root() string { return s.root }

// ConfigPath is the location of the shared project file.
func (s *Store) ConfigPath() string {
	return filepath.Join(s.root, ConfigFileName)
}

// StatePath is the location of the local branch-state file.
func (s *Store) StatePath() string {
	return filepath.Join(s.root, StateDirName, StateFileName)
}

// Load reads both documents. A missing project file is ErrNotFound
// (the repo is not initialized); a missing state file yields an empty
// state, since state is created lazily on first allocation.
func (s *Store) Load() error {
	project, err := loadProject(s.ConfigPath())
	if err != nil {
		return err
	}
	state, err := loadState(s.StatePath())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		state = NewBranchesState()
	}
	s.Project = project
	s.State = state
	return nil
}

// SaveProject writes the shared project file.
func (s *Store) SaveProject() error {
	if err := validateProjectConfig(s.Project); err != nil {
		return err
	}
	return writeTOML(s.ConfigPath(), s.Project)
}

// SaveState writes the local branch-state file.
func (s *Store) SaveState() error {
	if err := validateBranchesState(s.State); err != nil {
		return err
	}
	return writeTOML(s.StatePath(), s.State)
}

func loadProject(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var c ProjectConfig
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validateProjectConfig(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func loadState(path string) (*BranchesState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var st BranchesState
	if err := toml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := validateBranchesState(&st); err != nil {
		return nil, err
	}
	if st.Branches == nil {
		st.Branches = make(map[string]WorktreeRecord)
	}
	return &st, nil
}

func writeTOML(path string, doc any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
