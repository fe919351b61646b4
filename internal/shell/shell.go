// Package shell spawns interactive subshells inside worktree
// directories.
package shell

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

const (
	// DepthEnv counts how many nested vibetree shells are active.
	DepthEnv = "VIBETREE_DEPTH"

	// PrevDirEnv records where the operator was before switching.
	PrevDirEnv = "VIBETREE_PREV_DIR"
)

// Depth returns the current shell nesting level, 0 outside any
// vibetree shell.
func Depth() int {
	n, err := strconv.Atoi(os.Getenv(DepthEnv))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Spawn starts the operator's shell in dir and blocks until it exits.
// The child sees an incremented depth counter and the previous
// directory in both PrevDirEnv and OLDPWD, so `cd -` works.
func Spawn(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("directory does not exist: %s", dir)
	}

	sh := os.Getenv("SHELL")
	if sh == "" {
		sh = "/bin/bash"
	}

	prev, err := os.Getwd()
	if err != nil {
		prev = dir
	}

	cmd := exec.Command(sh)
	cmd.Dir = dir
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		DepthEnv+"="+strconv.Itoa(Depth()+1),
		PrevDirEnv+"="+prev,
		"OLDPWD="+prev,
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == -1 {
			// Killed by a signal, normal when hopping between shells.
			return nil
		}
		return fmt.Errorf("shell %s: %w", sh, err)
	}
	return nil
}
