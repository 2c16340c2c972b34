// Package router selects the content handler for a fetched response.
package router

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Predicate decides whether a rule applies to a response.
type Predicate interface {
	Match(resp *crawler.Response) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(resp *crawler.Response) bool

// Match calls f.
func (f PredicateFunc) Match(resp *crawler.Response) bool { return f(resp) }

// Rule maps a predicate to a handler id.
type Rule struct {
	Name      string
	Predicate Predicate
	HandlerID string
}

// Router evaluates rules in order and stops at the first match.
type Router struct {
	rules []Rule
}

// New builds a Router. Rules keep the order given.
func New(rules ...Rule) *Router {
	return &Router{rules: append([]Rule(nil), rules...)}
}

// Route returns the handler id of the first matching rule, or
// crawler.ErrNoMatchingRule when none matches.
func (r *Router) Route(resp *crawler.Response) (string, error) {
	for _, rule := range r.rules {
		if rule.Predicate != nil && rule.Predicate.Match(resp) {
			return rule.HandlerID, nil
		}
	}
	url := ""
	if resp != nil {
		url = resp.URL
	}
	return "", fmt.Errorf("route %s: %w", url, crawler.ErrNoMatchingRule)
}

// Rules returns a copy of the configured rules.
func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// MatchAll matches every response; use it for the catch-all rule.
func MatchAll() Predicate {
	return PredicateFunc(func(*crawler.Response) bool { return true })
}

// MatchMIME matches responses whose media type equals one of types. A type
// ending in "/*" matches the whole family.
func MatchMIME(types ...string) Predicate {
	exact := make(map[string]struct{}, len(types))
	var families []string
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if family, ok := strings.CutSuffix(t, "/*"); ok {
			families = append(families, family+"/")
			continue
		}
		exact[t] = struct{}{}
	}
	return PredicateFunc(func(resp *crawler.Response) bool {
		mt := resp.MimeType()
		if _, ok := exact[mt]; ok {
			return true
		}
		for _, f := range families {
			if strings.HasPrefix(mt, f) {
				return true
			}
		}
		return false
	})
}

// MatchURL matches responses whose URL matches pattern. The pattern is
// compiled once, here.
func MatchURL(pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern %q: %w", pattern, err)
	}
	return PredicateFunc(func(resp *crawler.Response) bool {
		return resp != nil && re.MatchString(resp.URL)
	}), nil
}

// MatchStatus matches responses with one of the given status codes.
func MatchStatus(codes ...int) Predicate {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return PredicateFunc(func(resp *crawler.Response) bool {
		if resp == nil {
			return false
		}
		_, ok := set[resp.StatusCode]
		return ok
	})
}

// AllOf matches when every predicate matches.
func AllOf(preds ...Predicate) Predicate {
	return PredicateFunc(func(resp *crawler.Response) bool {
		for _, p := range preds {
			if !p.Match(resp) {
				return false
			}
		}
		return true
	})
}

// RuleSpec is the declarative form of a rule, as read from configuration.
// Empty fields are unconstrained.
type RuleSpec struct {
	Name       string   `mapstructure:"name"`
	Handler    string   `mapstructure:"handler"`
	MIMETypes  []string `mapstructure:"mime_types"`
	URLPattern string   `mapstructure:"url_pattern"`
	Statuses   []int    `mapstructure:"statuses"`
}

// Build turns a spec into a Rule.
func (s RuleSpec) Build() (Rule, error) {
	if s.Handler == "" {
		return Rule{}, fmt.Errorf("rule %q: handler is required", s.Name)
	}
	var preds []Predicate
	if len(s.MIMETypes) > 0 {
		preds = append(preds, MatchMIME(s.MIMETypes...))
	}
	if s.URLPattern != "" {
		p, err := MatchURL(s.URLPattern)
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", s.Name, err)
		}
		preds = append(preds, p)
	}
	if len(s.Statuses) > 0 {
		preds = append(preds, MatchStatus(s.Statuses...))
	}
	pred := MatchAll()
	if len(preds) > 0 {
		pred = AllOf(preds...)
	}
	return Rule{Name: s.Name, Predicate: pred, HandlerID: s.Handler}, nil
}

// FromSpecs builds a Router from declarative rules.
func FromSpecs(specs []RuleSpec) (*Router, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		rule, err := s.Build()
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return New(rules...), nil
}
