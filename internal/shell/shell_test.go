package shell

import (
	"testing"
)

func TestDepth(t *testing.T) {
	t.Setenv(DepthEnv, "")
	if Depth() != 0 {
		t.Errorf("empty env should mean depth 0")
	}
	t.Setenv(DepthEnv, "2")
	if Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", Depth())
	}
	t.Setenv(DepthEnv, "garbage")
	if Depth() != 0 {
		t.Errorf("unparseable depth should fall back to 0")
	}
}

func TestSpawnMissingDir(t *testing.T) {
	if err := Spawn("/does/not/exist"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSpawnRunsShell(t *testing.T) {
	t.Setenv("SHELL", "true")
	if err := Spawn(t.TempDir()); err != nil {
		t.Errorf("Spawn failed: %v", err)
	}
}

func TestSpawnPropagatesExitFailure(t *testing.T) {
	t.Setenv("SHELL", "false")
	if err := Spawn(t.TempDir()); err == nil {
		t.Error("expected error from failing shell")
	}
}
