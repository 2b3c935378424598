// Package route implements host and path-prefix request routing with
// priority tie-breaking, the decision logic behind the edge proxy.
package route

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPrefixes rejects rules that could never match a request.
var ErrNoPrefixes = errors.New("rule has no path prefixes")

// Rule maps requests on an exact host to a backend port when the request
// path starts with one of the configured prefixes. Rules are immutable
// once constructed; validation happens in NewRule, never at resolve time.
type Rule struct {
	host       string
	prefixes   []string
	priority   int
	targetPort int
}

// NewRule validates and constructs a Rule. A rule with an empty prefix set
// is rejected rather than silently matching nothing (or, worse, being
// special-cased to match everything).
func NewRule(host string, prefixes []string, priority, targetPort int) (Rule, error) {
	if host == "" {
		return Rule{}, errors.New("rule host must not be empty")
	}
	if len(prefixes) == 0 {
		return Rule{}, ErrNoPrefixes
	}
	for _, p := range prefixes {
		if p == "" {
			return Rule{}, fmt.Errorf("rule for host %q has an empty path prefix", host)
		}
		if !strings.HasPrefix(p, "/") {
			return Rule{}, fmt.Errorf("path prefix %q must start with /", p)
		}
	}
	if targetPort <= 0 || targetPort > 65535 {
		return Rule{}, fmt.Errorf("target port %d out of range", targetPort)
	}
	cp := make([]string, len(prefixes))
	copy(cp, prefixes)
	return Rule{
		host:       host,
		prefixes:   cp,
		priority:   priority,
		targetPort: targetPort,
	}, nil
}

// Host returns the exact hostname the rule applies to.
func (r Rule) Host() string { return r.host }

// Priority returns the rule's tie-break weight; higher wins.
func (r Rule) Priority() int { return r.priority }

// TargetPort returns the backend port the rule forwards to.
func (r Rule) TargetPort() int { return r.targetPort }

// PathPrefixes returns a copy of the rule's prefixes.
func (r Rule) PathPrefixes() []string {
	cp := make([]string, len(r.prefixes))
	copy(cp, r.prefixes)
	return cp
}

// Matches reports whether the rule applies to req. Host comparison is exact
// and prefix comparison is byte-wise, so /Crawl does not match /crawl.
func (r Rule) Matches(req Request) bool {
	if req.Host != r.host {
		return false
	}
	for _, p := range r.prefixes {
		if strings.HasPrefix(req.Path, p) {
			return true
		}
	}
	return false
}

// overlaps reports whether r and other could both match some request:
// same host and one prefix a byte-wise prefix of the other.
func (r Rule) overlaps(other Rule) bool {
	if r.host != other.host {
		return false
	}
	for _, p := range r.prefixes {
		for _, q := range other.prefixes {
			if strings.HasPrefix(p, q) || strings.HasPrefix(q, p) {
				return true
			}
		}
	}
	return false
}

// Request is the routing view of an inbound HTTP request.
type Request struct {
	Host string
	Path string
}

// Decision reports where a request should be forwarded. Matched is false
// when no rule applied and TargetPort carries the table's default port.
type Decision struct {
	Matched    bool
	TargetPort int
}

// Table is an immutable, validated rule set plus the fallback port used
// when no rule matches. A Table is safe for concurrent use; reloads must
// publish a fresh Table atomically rather than mutate one in place.
type Table struct {
	rules       []Rule
	defaultPort int
}

// NewTable validates the rule set and freezes it. Two rules with equal
// priority that could match the same request are a configuration error:
// resolving between them would depend on list order, which operators
// rarely intend, so the ambiguity is rejected at load time.
func NewTable(rules []Rule, defaultPort int) (*Table, error) {
	if defaultPort <= 0 || defaultPort > 65535 {
		return nil, fmt.Errorf("default port %d out of range", defaultPort)
	}
	for i := range rules {
		for j := i + 1; j < len(rules); j++ {
			if rules[i].priority == rules[j].priority && rules[i].overlaps(rules[j]) {
				return nil, fmt.Errorf(
					"ambiguous rules for host %q: rules %d and %d share priority %d and overlapping prefixes",
					rules[i].host, i, j, rules[i].priority,
				)
			}
		}
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return &Table{rules: cp, defaultPort: defaultPort}, nil
}

// Rules returns a copy of the table's rules in input order.
func (t *Table) Rules() []Rule {
	cp := make([]Rule, len(t.rules))
	copy(cp, t.rules)
	return cp
}

// DefaultPort returns the fallback port for unmatched requests.
func (t *Table) DefaultPort() int { return t.defaultPort }

// Resolve selects the rule that should handle req. Among matching rules
// the highest priority wins; on equal priority the earliest rule in input
// order is chosen, a deterministic tie-break that NewTable's overlap check
// keeps from ever deciding a real request. When nothing matches the
// decision routes to the default port. Resolve is pure and allocation-free.
func (t *Table) Resolve(req Request) Decision {
	best := -1
	for i := range t.rules {
		if !t.rules[i].Matches(req) {
			continue
		}
		if best < 0 || t.rules[i].priority > t.rules[best].priority {
			best = i
		}
	}
	if best < 0 {
		return Decision{Matched: false, TargetPort: t.defaultPort}
	}
	return Decision{Matched: true, TargetPort: t.rules[best].targetPort}
}
