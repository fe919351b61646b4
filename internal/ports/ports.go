// Package ports checks TCP port availability on the local host and
// provides port-range diagnostics for the validate command.
package ports

import (
	"fmt"
	"net"
	"sort"
	"strconv"
)

// Probe reports whether a port can be allocated on this host.
type Probe func(port uint16) bool

// Available reports whether the port can be bound on localhost right
// now. A false result means something is already listening or the
// kernel refused the bind.
func Available(port uint16) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// CheckAll probes each port once and reports bindability per port.
func CheckAll(probe Probe, ports []uint16) map[uint16]bool {
	out := make(map[uint16]bool, len(ports))
	for _, port := range ports {
		out[port] = probe(port)
	}
	return out
}

// commonDevPorts are bases so widely claimed by development tooling
// that handing them out invites conflicts.
var commonDevPorts = []uint16{3000, 3001, 8000, 8080, 8443, 8888, 9000, 9001}

// Reserved returns the system-reserved port set: every privileged port
// below 1024 plus common development ports.
func Reserved() map[uint16]struct{} {
	reserved := make(map[uint16]struct{}, 1024+len(commonDevPorts))
	for port := uint16(1); port <= 1023; port++ {
		reserved[port] = struct{}{}
	}
	for _, port := range commonDevPorts {
		reserved[port] = struct{}{}
	}
	return reserved
}

// Range is an inclusive port range claimed by one variable.
type Range struct {
	Start uint16
	End   uint16
}

// Contains reports whether port falls inside the range.
func (r Range) Contains(port uint16) bool {
	return port >= r.Start && port <= r.End
}

// ValidateRanges returns human-readable issues with per-variable port
// ranges: inverted bounds, port 0, overlap with reserved ports, and
// overlap between variables. Issues are ordered by variable name so
// output is stable.
func ValidateRanges(ranges map[string]Range) []string {
	var issues []string
	reserved := Reserved()

	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := ranges[name]
		if r.Start >= r.End {
			issues = append(issues, fmt.Sprintf(
				"variable %q: start port %d must be less than end port %d", name, r.Start, r.End))
			continue
		}
		if r.Start == 0 {
			issues = append(issues, fmt.Sprintf("variable %q: port 0 is not valid", name))
		}
		for p := int(r.Start); p <= int(r.End); p++ {
			if _, hit := reserved[uint16(p)]; hit {
				issues = append(issues, fmt.Sprintf(
					"variable %q: port range %d-%d overlaps with system reserved ports",
					name, r.Start, r.End))
				break
			}
		}
	}

	for i := 0; i < len(names); i++ {
		for j := i + 1; j < len(names); j++ {
			a, b := ranges[names[i]], ranges[names[j]]
			if a.Start <= b.End && a.End >= b.Start {
				issues = append(issues, fmt.Sprintf(
					"variables %q and %q have overlapping port ranges: %d-%d and %d-%d",
					names[i], names[j], a.Start, a.End, b.Start, b.End))
			}
		}
	}
	return issues
}

// maxSuggestions caps how many alternatives are offered per variable.
const maxSuggestions = 5

// SuggestAlternatives proposes free ports inside each variable's range,
// skipping numbers already reserved by other branches and ports that
// cannot be bound right now. Variables with no free port in range are
// omitted.
func SuggestAlternatives(probe Probe, used map[uint16]struct{}, ranges map[string]Range) map[string][]uint16 {
	suggestions := make(map[string][]uint16)
	for name, r := range ranges {
		var free []uint16
		for p := int(r.Start); p <= int(r.End); p++ {
			port := uint16(p)
			if _, taken := used[port]; taken {
				continue
			}
			if !probe(port) {
				continue
			}
			free = append(free, port)
			if len(free) >= maxSuggestions {
				break
			}
		}
		if len(free) > 0 {
			suggestions[name] = free
		}
	}
	return suggestions
}
