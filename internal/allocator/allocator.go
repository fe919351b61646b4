// Package allocator assigns collision-free values to variables per
// branch: free ports, free integers, and templated strings embedding
// either. Collision safety is conservative: every number appearing
// anywhere in an existing value is treated as reserved.
package allocator

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lexun/vibetree/internal/config"
	"github.com/lexun/vibetree/internal/ports"
	"github.com/lexun/vibetree/internal/template"
)

var (
	// ErrPortSpaceExhausted indicates no free bindable port exists at or
	// above the requested base.
	ErrPortSpaceExhausted = errors.New("no available port found")

	// ErrIntSpaceExhausted indicates every integer from the base through
	// 65535 is already reserved.
	ErrIntSpaceExhausted = errors.New("no available integer found")

	// ErrInvalidSpec indicates a malformed variable specification.
	ErrInvalidSpec = errors.New("invalid variable specification")
)

// Warning flags a variable whose allocation kind was inferred from its
// name rather than declared. Callers surface these so the operator can
// make the type explicit.
type Warning struct {
	Variable string
	Kind     template.Kind
	Inferred bool
}

func (w Warning) String() string {
	return fmt.Sprintf("variable %q has no declared type; inferred %q from its name - add type = %q to silence this",
		w.Variable, string(w.Kind), string(w.Kind))
}

// Allocator resolves variable specifications against the set of values
// already committed to other branches. Construct with New; the zero
// value is not usable.
type Allocator struct {
	parser *template.Parser
	probe  ports.Probe
	digits *regexp.Regexp
}

// New returns an Allocator using the given port probe. A nil probe
// falls back to the real localhost bind check.
func New(probe ports.Probe) *Allocator {
	if probe == nil {
		probe = ports.Available
	}
	return &Allocator{
		parser: template.NewParser(),
		probe:  probe,
		digits: regexp.MustCompile(`\d+`),
	}
}

// AllocateAll resolves every spec applicable to branchName, in
// declaration order with first-match-wins on duplicate names, against
// the values already held by existing records. It returns the full
// name-to-value map for the branch plus any inference warnings. Any
// specification error fails the whole batch so a branch never gets a
// partially allocated value set.
func (a *Allocator) AllocateAll(specs []config.VariableSpec, branchName string, existing map[string]config.WorktreeRecord) (map[string]string, []Warning, error) {
	used := a.UsedNumbers(existing)
	out := make(map[string]string)
	var warnings []Warning

	for _, spec := range specs {
		if _, done := out[spec.Name]; done {
			continue
		}
		ok, err := a.branchMatches(spec, branchName)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}

		value, warning, err := a.allocateValue(spec, used)
		if err != nil {
			return nil, nil, err
		}
		out[spec.Name] = value
		a.reserveFrom(value, used)
		if warning != nil {
			warnings = append(warnings, *warning)
		}
	}
	return out, warnings, nil
}

// BaseValues resolves every applicable spec to its literal base values
// with no collision search and no port probing. The main branch is
// installed this way: it always receives the configured bases, and any
// other branch holding them is reassigned first.
func (a *Allocator) BaseValues(specs []config.VariableSpec, branchName string) (map[string]string, error) {
	out := make(map[string]string)
	for _, spec := range specs {
		if _, done := out[spec.Name]; done {
			continue
		}
		ok, err := a.branchMatches(spec, branchName)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		value, err := a.baseValue(spec)
		if err != nil {
			return nil, err
		}
		out[spec.Name] = value
	}
	return out, nil
}

func (a *Allocator) branchMatches(spec config.VariableSpec, branchName string) (bool, error) {
	if spec.Branch == "" {
		return true, nil
	}
	re, err := regexp.Compile(spec.Branch)
	if err != nil {
		return false, fmt.Errorf("%w: variable %q: branch pattern %q: %v",
			ErrInvalidSpec, spec.Name, spec.Branch, err)
	}
	// Search semantics, not anchored: "feature" matches "my-feature-2".
	return re.MatchString(branchName), nil
}

func (a *Allocator) allocateValue(spec config.VariableSpec, used map[uint16]struct{}) (string, *Warning, error) {
	if s, ok := spec.StringValue(); ok {
		value, err := a.allocateTemplate(spec.Name, s, used)
		return value, nil, err
	}

	base, ok := spec.IntValue()
	if !ok {
		return "", nil, fmt.Errorf("%w: variable %q: value must be a string or an integer, got %T",
			ErrInvalidSpec, spec.Name, spec.Value)
	}
	if base < 0 || base > 65535 {
		return "", nil, fmt.Errorf("%w: variable %q: value %d outside 0-65535",
			ErrInvalidSpec, spec.Name, base)
	}

	kind, warning, err := a.resolveKind(spec)
	if err != nil {
		return "", nil, err
	}

	var n uint16
	switch kind {
	case template.KindPort:
		n, err = a.allocatePort(uint16(base), used)
	case template.KindInt:
		n, err = a.allocateInt(uint16(base), used)
	}
	if err != nil {
		return "", nil, fmt.Errorf("variable %q: %w", spec.Name, err)
	}
	return strconv.Itoa(int(n)), warning, nil
}

// resolveKind maps a bare integer spec to Port or Int. With no
// declared type the kind is guessed from the variable name, which is a
// heuristic: a name like REPORT_COUNT would be misclassified, so the
// guess always comes with a Warning.
func (a *Allocator) resolveKind(spec config.VariableSpec) (template.Kind, *Warning, error) {
	switch spec.Type {
	case config.VarTypePort:
		return template.KindPort, nil, nil
	case config.VarTypeInt:
		return template.KindInt, nil, nil
	case "":
		kind := template.KindInt
		if strings.Contains(strings.ToLower(spec.Name), "port") {
			kind = template.KindPort
		}
		return kind, &Warning{Variable: spec.Name, Kind: kind, Inferred: true}, nil
	default:
		return "", nil, fmt.Errorf("%w: variable %q: unknown type %q",
			ErrInvalidSpec, spec.Name, spec.Type)
	}
}

func (a *Allocator) allocateTemplate(name, raw string, used map[uint16]struct{}) (string, error) {
	parsed, err := a.parser.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: variable %q: %v", ErrInvalidSpec, name, err)
	}
	if !parsed.HasDirectives() {
		// Literals are the operator's explicit choice, no collision check.
		return raw, nil
	}

	values := make([]string, 0, len(parsed.Directives()))
	for _, d := range parsed.Directives() {
		var n uint16
		var err error
		switch d.Kind {
		case template.KindPort:
			n, err = a.allocatePort(d.Base, used)
		case template.KindInt:
			n, err = a.allocateInt(d.Base, used)
		}
		if err != nil {
			return "", fmt.Errorf("variable %q: %w", name, err)
		}
		used[n] = struct{}{}
		values = append(values, strconv.Itoa(int(n)))
	}
	return parsed.Resolve(values)
}

func (a *Allocator) baseValue(spec config.VariableSpec) (string, error) {
	if s, ok := spec.StringValue(); ok {
		parsed, err := a.parser.Parse(s)
		if err != nil {
			return "", fmt.Errorf("%w: variable %q: %v", ErrInvalidSpec, spec.Name, err)
		}
		if !parsed.HasDirectives() {
			return s, nil
		}
		values := make([]string, 0, len(parsed.Directives()))
		for _, d := range parsed.Directives() {
			values = append(values, strconv.Itoa(int(d.Base)))
		}
		return parsed.Resolve(values)
	}

	base, ok := spec.IntValue()
	if !ok {
		return "", fmt.Errorf("%w: variable %q: value must be a string or an integer, got %T",
			ErrInvalidSpec, spec.Name, spec.Value)
	}
	if base < 0 || base > 65535 {
		return "", fmt.Errorf("%w: variable %q: value %d outside 0-65535",
			ErrInvalidSpec, spec.Name, base)
	}
	return strconv.FormatInt(base, 10), nil
}

// allocatePort finds the first port at or above base that no branch
// has reserved and that can be bound right now. The bind check is a
// point-in-time filter, not a reservation.
func (a *Allocator) allocatePort(base uint16, used map[uint16]struct{}) (uint16, error) {
	for candidate := int(base); candidate <= 65535; candidate++ {
		p := uint16(candidate)
		if _, taken := used[p]; taken {
			continue
		}
		if a.probe(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: searched from %d", ErrPortSpaceExhausted, base)
}

// allocateInt finds the first integer at or above base that no branch
// has reserved. No OS check: integers need not be bindable.
func (a *Allocator) allocateInt(base uint16, used map[uint16]struct{}) (uint16, error) {
	for candidate := int(base); candidate <= 65535; candidate++ {
		n := uint16(candidate)
		if _, taken := used[n]; !taken {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: searched from %d", ErrIntSpaceExhausted, base)
}

// UsedNumbers collects every reserved number across all existing
// records.
func (a *Allocator) UsedNumbers(existing map[string]config.WorktreeRecord) map[uint16]struct{} {
	used := make(map[uint16]struct{})
	for _, rec := range existing {
		for _, value := range rec.Values {
			for n := range a.ExtractReservedNumbers(value) {
				used[n] = struct{}{}
			}
		}
	}
	return used
}

// ExtractReservedNumbers returns every number embedded in a value:
// the whole string if it parses as one, plus every maximal digit run
// that fits the port range. A resolved template like "server_9001_v3"
// reserves 9001 and 3. Deliberately conservative: incidental digits
// become reserved rather than risking a double allocation.
func (a *Allocator) ExtractReservedNumbers(value string) map[uint16]struct{} {
	out := make(map[uint16]struct{})
	if n, err := strconv.ParseUint(value, 10, 16); err == nil {
		out[uint16(n)] = struct{}{}
	}
	for _, run := range a.digits.FindAllString(value, -1) {
		if n, err := strconv.ParseUint(run, 10, 16); err == nil {
			out[uint16(n)] = struct{}{}
		}
	}
	return out
}

func (a *Allocator) reserveFrom(value string, used map[uint16]struct{}) {
	for n := range a.ExtractReservedNumbers(value) {
		used[n] = struct{}{}
	}
}
