// Package toolfilter implements the broker's glob-based tool deny-list: it
// hides names from tools/list responses and blocks tools/call for names
// matching any configured pattern.
package toolfilter

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter holds the compiled regexes for a set of deny patterns. The zero
// value behaves as an empty filter (everything included). Safe for
// concurrent read-only use once built.
type Filter struct {
	patterns []*regexp.Regexp
}

// New compiles patterns (e.g. "create*", "*account", "exactName") into a
// Filter. Each pattern is split on '*', its literal segments are
// regex-escaped, and the segments are joined with ".*"; the whole pattern
// is anchored to both ends and matched case-insensitively. An empty
// pattern list yields a Filter that includes everything.
func New(patterns []string) (*Filter, error) {
	f := &Filter{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := compilePattern(p)
		if err != nil {
			return nil, fmt.Errorf("toolfilter: compile pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	segments := strings.Split(pattern, "*")
	for i, seg := range segments {
		segments[i] = regexp.QuoteMeta(seg)
	}
	return regexp.Compile("(?i)^" + strings.Join(segments, ".*") + "$")
}

// ShouldInclude reports whether name is included: true iff it matches none
// of the filter's deny patterns. A nil or empty Filter includes everything.
func (f *Filter) ShouldInclude(name string) bool {
	if f == nil {
		return true
	}
	for _, re := range f.patterns {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}

// BlockedMessage is the JSON-RPC error message sent back to the client in
// place of forwarding a blocked tools/call.
func BlockedMessage(name string) string {
	return fmt.Sprintf("Tool %q is not available", name)
}

// BlockedErrorCode is the JSON-RPC error code used for blocked tool calls,
// the generic "internal error" code repurposed for this case.
const BlockedErrorCode = -32603
