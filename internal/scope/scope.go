// Package scope decides which discovered URLs enter the frontier.
package scope

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Config bounds a crawl.
type Config struct {
	// MaxDepth is the deepest task depth accepted. Zero or less means unlimited.
	MaxDepth int `mapstructure:"max_depth"`
	// Include patterns; when non-empty a URL must match at least one.
	Include []string `mapstructure:"include"`
	// Exclude patterns; a matching URL is rejected.
	Exclude []string `mapstructure:"exclude"`
	// BlockedDomains lists hosts, "*.suffix" or ".suffix" entries that are never fetched.
	BlockedDomains []string `mapstructure:"blocked_domains"`
	// Schemes accepted; empty means http, https and file.
	Schemes []string `mapstructure:"schemes"`
}

// Reason explains a rejection.
type Reason string

// Rejection reasons.
const (
	Accepted      Reason = ""
	TooDeep       Reason = "too_deep"
	BadScheme     Reason = "scheme"
	BlockedDomain Reason = "blocked_domain"
	NotIncluded   Reason = "not_included"
	Excluded      Reason = "excluded"
)

// Filter holds compiled scope rules. It is safe for concurrent use.
type Filter struct {
	maxDepth int
	include  []*regexp.Regexp
	exclude  []*regexp.Regexp
	blocked  *domainBlocklist
	schemes  map[string]struct{}
}

// New compiles cfg.
func New(cfg Config) (*Filter, error) {
	include, err := compileAll(cfg.Include)
	if err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	exclude, err := compileAll(cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	schemes := cfg.Schemes
	if len(schemes) == 0 {
		schemes = []string{"http", "https", "file"}
	}
	set := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		set[strings.ToLower(s)] = struct{}{}
	}
	return &Filter{
		maxDepth: cfg.MaxDepth,
		include:  include,
		exclude:  exclude,
		blocked:  newDomainBlocklist(cfg.BlockedDomains),
		schemes:  set,
	}, nil
}

// Check reports why a normalized URL at depth would be rejected, or Accepted.
func (f *Filter) Check(normalized string, depth int) Reason {
	if f.maxDepth > 0 && depth > f.maxDepth {
		return TooDeep
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return BadScheme
	}
	if _, ok := f.schemes[u.Scheme]; !ok {
		return BadScheme
	}
	if f.blocked.blocked(u.Hostname()) {
		return BlockedDomain
	}
	if len(f.include) > 0 && !matchAny(f.include, normalized) {
		return NotIncluded
	}
	if matchAny(f.exclude, normalized) {
		return Excluded
	}
	return Accepted
}

// Allow is Check(...) == Accepted.
func (f *Filter) Allow(normalized string, depth int) bool {
	return f.Check(normalized, depth) == Accepted
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
