// Package robots parses robots.txt policies and answers allow/crawl-delay
// queries per user agent, caching one policy per origin.
package robots

import (
	"strings"
	"time"
)

// wildcardAgent is the bucket applied when no specific agent matches.
const wildcardAgent = "*"

// Bucket holds the rules declared for one user-agent token.
type Bucket struct {
	Disallow   []string
	Allow      []string
	crawlDelay int
	hasDelay   bool
}

// CrawlDelay returns the declared delay in seconds, if any.
func (b *Bucket) CrawlDelay() (int, bool) {
	return b.crawlDelay, b.hasDelay
}

// Directives is the parsed policy of one origin.
type Directives struct {
	buckets map[string]*Bucket
	agents  []string

	// Sitemaps lists the sitemap URLs the origin advertises.
	Sitemaps []string
}

func newDirectives() *Directives {
	return &Directives{buckets: make(map[string]*Bucket)}
}

// AllowAll returns a policy without any rule.
func AllowAll() *Directives {
	return newDirectives()
}

// DisallowAll returns a policy forbidding every path for every agent.
func DisallowAll() *Directives {
	d := newDirectives()
	d.bucket(wildcardAgent).Disallow = []string{"/"}
	return d
}

// bucket returns the bucket for agent, creating it on first use.
func (d *Directives) bucket(agent string) *Bucket {
	if b, ok := d.buckets[agent]; ok {
		return b
	}
	b := &Bucket{}
	d.buckets[agent] = b
	d.agents = append(d.agents, agent)
	return b
}

// Len returns the number of directive buckets.
func (d *Directives) Len() int {
	if d == nil {
		return 0
	}
	return len(d.buckets)
}

// Agents returns the declared agent tokens in declaration order.
func (d *Directives) Agents() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.agents...)
}

// Bucket returns the bucket declared for the exact (case-insensitive) token.
func (d *Directives) Bucket(agent string) (*Bucket, bool) {
	if d == nil {
		return nil, false
	}
	b, ok := d.buckets[strings.ToLower(agent)]
	return b, ok
}

// lookup selects the bucket governing userAgent: the exact token, then the
// longest declared token contained in the agent string, then the wildcard.
func (d *Directives) lookup(userAgent string) *Bucket {
	if d == nil || len(d.buckets) == 0 {
		return nil
	}
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if b, ok := d.buckets[ua]; ok {
		return b
	}
	var (
		best    *Bucket
		bestLen int
	)
	for _, agent := range d.agents {
		if agent == wildcardAgent {
			continue
		}
		if len(agent) > bestLen && strings.Contains(ua, agent) {
			best = d.buckets[agent]
			bestLen = len(agent)
		}
	}
	if best != nil {
		return best
	}
	return d.buckets[wildcardAgent]
}

// IsAllowed reports whether userAgent may fetch path. The longest matching
// prefix decides; Allow wins a tie; no matching rule means allowed.
func (d *Directives) IsAllowed(userAgent, path string) bool {
	b := d.lookup(userAgent)
	if b == nil {
		return true
	}
	if path == "" {
		path = "/"
	}
	allowLen := longestPrefix(b.Allow, path)
	disallowLen := longestPrefix(b.Disallow, path)
	if disallowLen < 0 {
		return true
	}
	return allowLen >= disallowLen
}

// CrawlDelay returns the delay declared for userAgent.
func (d *Directives) CrawlDelay(userAgent string) (time.Duration, bool) {
	b := d.lookup(userAgent)
	if b == nil || !b.hasDelay {
		return 0, false
	}
	return time.Duration(b.crawlDelay) * time.Second, true
}

// longestPrefix returns the length of the longest rule prefixing path, or -1.
func longestPrefix(rules []string, path string) int {
	best := -1
	for _, rule := range rules {
		if len(rule) > best && strings.HasPrefix(path, rule) {
			best = len(rule)
		}
	}
	return best
}
