// Package display formats worktree listings for the CLI.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/git"
	"github.com/lexun/vibetree/internal/style"
)

// Format selects the list output encoding.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatTable:
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown format %q (table, json, yaml)", s)
}

// Worktree status tokens as emitted in json and yaml output.
const (
	StatusOK      = "ok"
	StatusMissing = "missing"
	StatusNotGit  = "not git"
	StatusNoEnv   = "no env"
)

// Item is one branch in the listing.
type Item struct {
	Name   string            `json:"name" yaml:"name"`
	Status string            `json:"status" yaml:"status"`
	Values map[string]string `json:"values" yaml:"values"`
}

// Collect builds display items from state, cross-checking each record
// against the filesystem and the actual git worktrees.
func Collect(store *config.Store, worktrees []git.Worktree, pathFor func(string) string) []Item {
	attached := make(map[string]bool, len(worktrees))
	for _, wt := range worktrees {
		if wt.Branch != "" {
			attached[wt.Branch] = true
		}
	}

	names := make([]string, 0, len(store.State.Branches))
	for name := range store.State.Branches {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]Item, 0, len(names))
	for _, name := range names {
		dir := pathFor(name)
		envPath := filepath.Join(dir, store.Project.EnvFilePath)

		// Machine-readable tokens; the table renderer prettifies them.
		status := StatusOK
		switch {
		case !exists(dir):
			status = StatusMissing
		case !attached[name]:
			status = StatusNotGit
		case !exists(envPath):
			status = StatusNoEnv
		}

		items = append(items, Item{
			Name:   name,
			Status: status,
			Values: store.State.Branches[name].Values,
		})
	}
	return items
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Render writes items in the chosen format.
func Render(w io.Writer, items []Item, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	case FormatYAML:
		return yaml.NewEncoder(w).Encode(items)
	default:
		renderTable(w, items)
		return nil
	}
}

func renderTable(w io.Writer, items []Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No worktrees configured")
		return
	}

	title := cases.Title(language.English)
	fmt.Fprintf(w, "%s\n", style.Header.Render(fmt.Sprintf("%-24s %-10s %s", "NAME", "STATUS", "VALUES")))
	for _, item := range items {
		fmt.Fprintf(w, "%-24s %-10s %s\n",
			item.Name,
			title.String(item.Status),
			style.Dim.Render(valuesLine(item.Values)))
	}
}

func valuesLine(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values[k])
	}
	return strings.Join(pairs, ", ")
}
