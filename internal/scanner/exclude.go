package scanner

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleSet holds compiled exclusion rules. A rule matches a directory or
// file base name by exact match, prefix match, or simple wildcard pattern
// (* and ?) translated to an anchored regular expression.
type RuleSet struct {
	plain   []string
	regexps []*regexp.Regexp
}

// NewRuleSet compiles patterns into a RuleSet.
func NewRuleSet(patterns []string) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, "*?") {
			re, err := regexp.Compile("^" + wildcardToRegexp(p) + "$")
			if err != nil {
				return nil, fmt.Errorf("scanner: exclusion pattern %q: %w", p, err)
			}
			rs.regexps = append(rs.regexps, re)
			continue
		}
		rs.plain = append(rs.plain, p)
	}
	return rs, nil
}

// Match reports whether the base name is excluded.
func (rs *RuleSet) Match(name string) bool {
	if rs == nil {
		return false
	}
	for _, p := range rs.plain {
		if name == p || strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, re := range rs.regexps {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// wildcardToRegexp escapes pattern and rewrites * and ? into their
// regular-expression equivalents.
func wildcardToRegexp(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}
