package allocator

import (
	"errors"
	"testing"

	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/template"
)

// allOpen is a probe that considers every port bindable.
func allOpen(uint16) bool { return true }

// closedBelow returns a probe that rejects every port under limit.
func closedBelow(limit uint16) func(uint16) bool {
	return func(p uint16) bool { return p >= limit }
}

func record(values map[string]string) config.WorktreeRecord {
	return config.WorktreeRecord{Values: values}
}

func TestAllocatePortAtBase(t *testing.T) {
	a := New(allOpen)
	out, warnings, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}},
		"feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["PORT"] != "3000" {
		t.Errorf("PORT = %q, want 3000", out["PORT"])
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings %v", warnings)
	}
}

func TestAllocatePortSkipsUnbindable(t *testing.T) {
	a := New(closedBelow(3002))
	out, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}},
		"feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["PORT"] != "3002" {
		t.Errorf("PORT = %q, want 3002", out["PORT"])
	}
}

func TestAllocatePortSkipsReserved(t *testing.T) {
	a := New(allOpen)
	existing := map[string]config.WorktreeRecord{
		"main":      record(map[string]string{"PORT": "3000"}),
		"feature-y": record(map[string]string{"PORT": "3001"}),
	}
	out, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "PORT", Value: int64(3000), Type: config.VarTypePort}},
		"feature-x", existing)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["PORT"] != "3002" {
		t.Errorf("PORT = %q, want 3002", out["PORT"])
	}
}

func TestCollisionScanningCatchesEmbeddedNumbers(t *testing.T) {
	a := New(allOpen)
	existing := map[string]config.WorktreeRecord{
		"feature-y": record(map[string]string{"SERVER": "server_53000_v1"}),
	}
	out, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "PORT", Value: "{port:53000}"}},
		"feature-x", existing)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["PORT"] == "53000" {
		t.Error("53000 is embedded in an existing value and must not be reallocated")
	}
	if out["PORT"] != "53001" {
		t.Errorf("PORT = %q, want 53001", out["PORT"])
	}
}

func TestFirstMatchWins(t *testing.T) {
	a := New(allOpen)
	specs := []config.VariableSpec{
		{Name: "PORT", Value: int64(4000), Type: config.VarTypePort, Branch: "^release/"},
		{Name: "PORT", Value: int64(3000), Type: config.VarTypePort},
	}

	out, _, err := a.AllocateAll(specs, "release/1.2", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["PORT"] != "4000" {
		t.Errorf("release branch PORT = %q, want 4000", out["PORT"])
	}

	out, _, err = a.AllocateAll(specs, "feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["PORT"] != "3000" {
		t.Errorf("feature branch PORT = %q, want 3000", out["PORT"])
	}
}

func TestBranchPatternIsSearchNotAnchored(t *testing.T) {
	a := New(allOpen)
	specs := []config.VariableSpec{
		{Name: "N", Value: int64(10), Type: config.VarTypeInt, Branch: "feature"},
	}
	out, _, err := a.AllocateAll(specs, "my-feature-2", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["N"] != "10" {
		t.Errorf("N = %q, want 10", out["N"])
	}
}

func TestInferredKindWarns(t *testing.T) {
	a := New(allOpen)
	_, warnings, err := a.AllocateAll(
		[]config.VariableSpec{
			{Name: "WEB_PORT", Value: int64(3000)},
			{Name: "WORKER_COUNT", Value: int64(2)},
		},
		"feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", warnings)
	}
	if warnings[0].Variable != "WEB_PORT" || warnings[0].Kind != template.KindPort || !warnings[0].Inferred {
		t.Errorf("unexpected warning %+v", warnings[0])
	}
	if warnings[1].Variable != "WORKER_COUNT" || warnings[1].Kind != template.KindInt {
		t.Errorf("unexpected warning %+v", warnings[1])
	}
}

func TestInferenceIsSubstringBased(t *testing.T) {
	// Known sharp edge: "port" anywhere in the name means Port.
	a := New(allOpen)
	_, warnings, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "REPORT_COUNT", Value: int64(5)}},
		"feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if len(warnings) != 1 || warnings[0].Kind != template.KindPort {
		t.Errorf("expected inferred port kind for REPORT_COUNT, got %v", warnings)
	}
}

func TestLiteralStringPassesThrough(t *testing.T) {
	a := New(allOpen)
	existing := map[string]config.WorktreeRecord{
		"main": record(map[string]string{"ENV_NAME": "staging"}),
	}
	out, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "ENV_NAME", Value: "staging"}},
		"feature-x", existing)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["ENV_NAME"] != "staging" {
		t.Errorf("ENV_NAME = %q, want staging unchanged", out["ENV_NAME"])
	}
}

func TestTemplateWithMultipleDirectives(t *testing.T) {
	a := New(allOpen)
	out, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "URL", Value: "host:{port:9000}/db_{int:9000}"}},
		"feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	// The port takes 9000, so the int directive with the same base
	// must advance past it.
	if out["URL"] != "host:9000/db_9001" {
		t.Errorf("URL = %q, want host:9000/db_9001", out["URL"])
	}
}

func TestVariablesWithinOneBranchDoNotCollide(t *testing.T) {
	a := New(allOpen)
	out, _, err := a.AllocateAll(
		[]config.VariableSpec{
			{Name: "A", Value: int64(5000), Type: config.VarTypePort},
			{Name: "B", Value: int64(5000), Type: config.VarTypePort},
		},
		"feature-x", nil)
	if err != nil {
		t.Fatalf("AllocateAll failed: %v", err)
	}
	if out["A"] == out["B"] {
		t.Errorf("A and B both allocated %q", out["A"])
	}
}

func TestGapFillingAfterDeletion(t *testing.T) {
	a := New(allOpen)
	specs := []config.VariableSpec{{Name: "N", Value: "{int:1}"}}
	existing := map[string]config.WorktreeRecord{}

	alloc := func(branch string) string {
		t.Helper()
		out, _, err := a.AllocateAll(specs, branch, existing)
		if err != nil {
			t.Fatalf("allocating %s: %v", branch, err)
		}
		existing[branch] = record(out)
		return out["N"]
	}

	if got := alloc("a"); got != "1" {
		t.Errorf("branch a got %q, want 1", got)
	}
	if got := alloc("b"); got != "2" {
		t.Errorf("branch b got %q, want 2", got)
	}
	delete(existing, "a")
	if got := alloc("c"); got != "1" {
		t.Errorf("branch c got %q, want 1 (freed by a)", got)
	}
	if got := alloc("d"); got != "3" {
		t.Errorf("branch d got %q, want 3", got)
	}
}

func TestIntSpaceExhausted(t *testing.T) {
	a := New(allOpen)
	existing := map[string]config.WorktreeRecord{}
	for i, n := range []string{"65533", "65534", "65535"} {
		existing[string(rune('a'+i))] = record(map[string]string{"N": n})
	}
	_, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "N", Value: int64(65533), Type: config.VarTypeInt}},
		"feature-x", existing)
	if !errors.Is(err, ErrIntSpaceExhausted) {
		t.Fatalf("expected ErrIntSpaceExhausted, got %v", err)
	}
}

func TestPortSpaceExhausted(t *testing.T) {
	a := New(func(uint16) bool { return false })
	_, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "PORT", Value: int64(65530), Type: config.VarTypePort}},
		"feature-x", nil)
	if !errors.Is(err, ErrPortSpaceExhausted) {
		t.Fatalf("expected ErrPortSpaceExhausted, got %v", err)
	}
}

func TestInvalidBranchPattern(t *testing.T) {
	a := New(allOpen)
	_, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "N", Value: int64(1), Branch: "["}},
		"feature-x", nil)
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestUnsupportedValueType(t *testing.T) {
	a := New(allOpen)
	_, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "N", Value: 1.5}},
		"feature-x", nil)
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestBareIntOutOfRange(t *testing.T) {
	a := New(allOpen)
	_, _, err := a.AllocateAll(
		[]config.VariableSpec{{Name: "N", Value: int64(70000), Type: config.VarTypeInt}},
		"feature-x", nil)
	if !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestBaseValuesSkipSearch(t *testing.T) {
	a := New(func(uint16) bool { return false })
	out, err := a.BaseValues(
		[]config.VariableSpec{
			{Name: "PORT", Value: int64(3000), Type: config.VarTypePort},
			{Name: "URL", Value: "host:{port:5432}/db_{int:1}"},
			{Name: "NAME", Value: "prod"},
		},
		"main")
	if err != nil {
		t.Fatalf("BaseValues failed: %v", err)
	}
	if out["PORT"] != "3000" {
		t.Errorf("PORT = %q, want base 3000 regardless of bindability", out["PORT"])
	}
	if out["URL"] != "host:5432/db_1" {
		t.Errorf("URL = %q", out["URL"])
	}
	if out["NAME"] != "prod" {
		t.Errorf("NAME = %q", out["NAME"])
	}
}

func TestExtractReservedNumbers(t *testing.T) {
	a := New(allOpen)
	got := a.ExtractReservedNumbers("server_9001_v3")
	for _, want := range []uint16{9001, 3} {
		if _, ok := got[want]; !ok {
			t.Errorf("expected %d to be reserved, got %v", want, got)
		}
	}
	if len(got) != 2 {
		t.Errorf("expected exactly 2 reserved numbers, got %v", got)
	}

	got = a.ExtractReservedNumbers("99999")
	if len(got) != 0 {
		t.Errorf("digit runs beyond the 16-bit range are ignored, got %v", got)
	}

	got = a.ExtractReservedNumbers("3000")
	if _, ok := got[3000]; !ok || len(got) != 1 {
		t.Errorf("whole-string number should be reserved once, got %v", got)
	}
}
