// Package validate checks operator-supplied input before any state is
// written.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/ports"
)

// ErrInvalidBranchName indicates a branch name git would reject or
// that would break path construction.
var ErrInvalidBranchName = errors.New("invalid branch name")

// CollisionError reports a custom value that collides with a number
// already allocated to another branch.
type CollisionError struct {
	Variable string
	Value    string
	Number   uint16
	Holder   string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("value %q for %s collides with %d already allocated to branch %q",
		e.Value, e.Variable, e.Number, e.Holder)
}

// BranchName rejects names git cannot use or that would escape the
// branches directory.
func BranchName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidBranchName)
	case strings.HasPrefix(name, "-"):
		return fmt.Errorf("%w: %q starts with '-'", ErrInvalidBranchName, name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q contains '..'", ErrInvalidBranchName, name)
	case strings.ContainsAny(name, " \t\n~^:?*[\\"):
		return fmt.Errorf("%w: %q contains characters git rejects", ErrInvalidBranchName, name)
	case strings.HasSuffix(name, "/") || strings.HasPrefix(name, "/"):
		return fmt.Errorf("%w: %q has a leading or trailing slash", ErrInvalidBranchName, name)
	}
	return nil
}

// CustomValues checks operator-overridden values against every number
// already reserved by existing branches. All collisions are reported
// together so the operator can fix them in one pass; nothing is
// persisted when an error is returned.
func CustomValues(a *allocator.Allocator, values map[string]string, existing map[string]config.WorktreeRecord) error {
	var errs []error
	for name, value := range values {
		for n := range a.ExtractReservedNumbers(value) {
			for branch, rec := range existing {
				for _, held := range rec.Values {
					if _, taken := a.ExtractReservedNumbers(held)[n]; taken {
						errs = append(errs, &CollisionError{
							Variable: name,
							Value:    value,
							Number:   n,
							Holder:   branch,
						})
						break
					}
				}
			}
		}
	}
	return errors.Join(errs...)
}

// Result collects findings from a whole-configuration check. Errors
// are inconsistencies the tool itself would produce wrong output from;
// warnings are operator choices worth a second look.
type Result struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether no errors were found.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Config checks the whole configuration for consistency: the variable
// list against itself, every branch record against the variable list,
// and value allocations across branches against each other.
func Config(a *allocator.Allocator, project *config.ProjectConfig, state *config.BranchesState) *Result {
	result := &Result{}
	checkVariables(project.Variables, result)
	checkRecords(a, project, state, result)
	checkAllocations(a, state, result)
	return result
}

func checkVariables(specs []config.VariableSpec, result *Result) {
	reserved := ports.Reserved()
	// Duplicate names are legal across branch patterns (first match
	// wins); a duplicate under the same pattern is unreachable.
	seenNames := make(map[string]bool, len(specs))
	seenValues := make(map[string]bool, len(specs))

	for _, spec := range specs {
		value := fmt.Sprint(spec.Value)
		nameKey := spec.Name + "\x00" + spec.Branch
		if seenNames[nameKey] {
			result.errorf("variable %q is declared twice for the same branch pattern; the second is unreachable", spec.Name)
		}
		seenNames[nameKey] = true

		if spec.Branch == "" {
			if seenValues[value] {
				result.errorf("duplicate base value %s (used by %q)", value, spec.Name)
			}
			seenValues[value] = true
		}

		if value == "0" {
			result.errorf("invalid base value 0 for variable %q", spec.Name)
		}
		if n, err := strconv.ParseUint(value, 10, 16); err == nil {
			if _, hit := reserved[uint16(n)]; hit {
				result.warnf("variable %q uses system reserved port %d", spec.Name, n)
			}
		}
		if !isEnvVarName(spec.Name) {
			result.warnf("variable name %q does not follow environment variable conventions", spec.Name)
		}
	}
}

// checkRecords compares each branch record against the variable set a
// fresh allocation for that branch would produce, so pattern-scoped
// variables only count for branches their pattern matches.
func checkRecords(a *allocator.Allocator, project *config.ProjectConfig, state *config.BranchesState, result *Result) {
	for _, branch := range sortedBranches(state.Branches) {
		expected, err := a.BaseValues(project.Variables, branch)
		if err != nil {
			result.errorf("branch %q: %v", branch, err)
			continue
		}
		record := state.Branches[branch]
		for _, name := range sortedKeys(record.Values) {
			if _, ok := expected[name]; !ok {
				result.errorf("branch %q has variable %q not declared in configuration", branch, name)
			}
		}
		for _, name := range sortedKeys(expected) {
			if _, ok := record.Values[name]; !ok {
				result.warnf("branch %q is missing variable %q", branch, name)
			}
		}
	}
}

// checkAllocations flags numbers held by more than one branch, the
// conflicts a reconciliation pass is supposed to make impossible.
func checkAllocations(a *allocator.Allocator, state *config.BranchesState, result *Result) {
	holders := make(map[uint16][]string)
	for _, branch := range sortedBranches(state.Branches) {
		record := state.Branches[branch]
		for _, name := range sortedKeys(record.Values) {
			for n := range a.ExtractReservedNumbers(record.Values[name]) {
				holders[n] = append(holders[n], branch+":"+name)
			}
		}
	}

	numbers := make([]int, 0, len(holders))
	for n := range holders {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		if held := holders[uint16(n)]; len(held) > 1 {
			result.errorf("value %d is held by multiple allocations: %s", n, strings.Join(held, ", "))
		}
	}
}

// isEnvVarName reports whether name is a conventional environment
// variable identifier.
func isEnvVarName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_':
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func sortedBranches(branches map[string]config.WorktreeRecord) []string {
	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
