// Package template parses variable templates like "{port:3000}" and
// "postgres://localhost:{port:5432}/mydb_{int:1}" into directives that
// the allocator can satisfy.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind identifies what a directive asks the allocator for.
type Kind string

const (
	// KindPort allocates a TCP port, verified bindable on this host.
	KindPort Kind = "port"
	// KindInt allocates an integer with no availability check.
	KindInt Kind = "int"
)

// ErrValueCount is returned by Resolve when the number of values does
// not match the number of directives.
var ErrValueCount = errors.New("value count does not match directive count")

// Directive is one placeholder found in a template string.
type Directive struct {
	Kind  Kind
	Base  uint16
	Start int // byte offset of '{' in the raw template
	End   int // byte offset just past '}'
}

// Parsed is a template with its directives located.
type Parsed struct {
	raw        string
	directives []Directive
}

// Parser extracts directives from template strings. The zero value is
// not usable; construct with NewParser.
type Parser struct {
	re *regexp.Regexp
}

// NewParser returns a Parser recognizing {port:N} and {int:N}
// placeholders. Any other brace content is left as literal text.
func NewParser() *Parser {
	return &Parser{re: regexp.MustCompile(`\{(port|int):(\d+)\}`)}
}

// Parse locates every directive in raw. It fails if a base value does
// not fit in 16 bits, since both kinds allocate within that range.
func (p *Parser) Parse(raw string) (*Parsed, error) {
	matches := p.re.FindAllStringSubmatchIndex(raw, -1)
	parsed := &Parsed{raw: raw}
	for _, m := range matches {
		kind := Kind(raw[m[2]:m[3]])
		baseStr := raw[m[4]:m[5]]
		base, err := strconv.ParseUint(baseStr, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("template %q: base %s out of range: %w", raw, baseStr, err)
		}
		parsed.directives = append(parsed.directives, Directive{
			Kind:  kind,
			Base:  uint16(base),
			Start: m[0],
			End:   m[1],
		})
	}
	return parsed, nil
}

// Raw returns the original template string.
func (t *Parsed) Raw() string { return t.raw }

// Directives returns the placeholders in order of appearance.
func (t *Parsed) Directives() []Directive { return t.directives }

// HasDirectives reports whether the template contains any placeholder.
func (t *Parsed) HasDirectives() bool { return len(t.directives) > 0 }

// Resolve substitutes values positionally into the template. It
// requires exactly one value per directive.
func (t *Parsed) Resolve(values []string) (string, error) {
	if len(values) != len(t.directives) {
		return "", fmt.Errorf("template %q: %d values for %d directives: %w",
			t.raw, len(values), len(t.directives), ErrValueCount)
	}
	var b strings.Builder
	last := 0
	for i, d := range t.directives {
		b.WriteString(t.raw[last:d.Start])
		b.WriteString(values[i])
		last = d.End
	}
	b.WriteString(t.raw[last:])
	return b.String(), nil
}
