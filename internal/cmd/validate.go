package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lexun/vibetree/internal/allocator"
	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/ports"
	"github.com/lexun/vibetree/internal/style"
	"github.com/lexun/vibetree/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and allocations for conflicts",
	Long: `Check the variable declarations, every branch record, and the
allocated values against each other, and probe whether declared base
ports can currently be bound. Conflicts that sync would repair are
reported as errors; questionable operator choices as warnings.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}
	store := mgr.Store()
	alloc := allocator.New(nil)

	result := validate.Config(alloc, store.Project, store.State)
	for _, msg := range result.Errors {
		fmt.Printf("%s %s\n", style.Error.Render("[x]"), msg)
	}
	for _, msg := range result.Warnings {
		fmt.Printf("%s %s\n", style.Warning.Render("[!]"), msg)
	}

	printPortDiagnostics(alloc, store.Project.Variables, store.State.Branches)

	if !result.Valid() {
		return fmt.Errorf("configuration has %d errors", len(result.Errors))
	}
	fmt.Printf("%s Configuration is valid\n", style.Success.Render("[ok]"))
	return nil
}

// printPortDiagnostics probes every declared base port and suggests
// free alternatives near any base that cannot be bound right now.
func printPortDiagnostics(alloc *allocator.Allocator, specs []config.VariableSpec, branches map[string]config.WorktreeRecord) {
	bases := make(map[string]uint16)
	for _, spec := range specs {
		if spec.Type != "" && spec.Type != config.VarTypePort {
			continue
		}
		if n, err := strconv.ParseUint(fmt.Sprint(spec.Value), 10, 16); err == nil {
			bases[spec.Name] = uint16(n)
		}
	}
	if len(bases) == 0 {
		return
	}

	var all []uint16
	for _, base := range bases {
		all = append(all, base)
	}
	bindable := ports.CheckAll(ports.Available, all)

	ranges := make(map[string]ports.Range)
	for name, base := range bases {
		if bindable[base] {
			continue
		}
		end := base + 99
		if end < base {
			end = 65535
		}
		ranges[name] = ports.Range{Start: base, End: end}
	}
	if len(ranges) == 0 {
		return
	}

	suggestions := ports.SuggestAlternatives(ports.Available, alloc.UsedNumbers(branches), ranges)
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s base port %d for %s is not bindable right now\n",
			style.Warning.Render("[!]"), bases[name], name)
		if free := suggestions[name]; len(free) > 0 {
			fmt.Printf("    free nearby: %v\n", free)
		}
	}
}
