// Package auth maps request paths to the credentials configured for them.
package auth

import (
	"encoding/base64"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// Scope narrows where a credential may be sent. Empty fields match anything.
type Scope struct {
	Host  string `mapstructure:"host"`
	Port  string `mapstructure:"port"`
	Realm string `mapstructure:"realm"`
}

// Matches reports whether u lies inside the scope.
func (s Scope) Matches(u *url.URL) bool {
	if s.Host != "" && !strings.EqualFold(s.Host, u.Hostname()) {
		return false
	}
	if s.Port != "" && s.Port != effectivePort(u) {
		return false
	}
	return true
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// Entry binds a path prefix to a credential.
type Entry struct {
	PathPrefix string             `mapstructure:"path_prefix"`
	Scope      Scope              `mapstructure:"scope"`
	Credential crawler.Credential `mapstructure:"credential"`
}

// Resolver returns the first registered entry whose prefix matches a path.
// Entries are consulted in registration order, so a broad prefix registered
// before a narrower one masks it within the same scope.
type Resolver struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewResolver registers entries in the given order.
func NewResolver(entries ...Entry) *Resolver {
	r := &Resolver{}
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

// Register appends e. An entry with the same prefix and scope is replaced in place.
func (r *Resolver) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].PathPrefix == e.PathPrefix && sameScope(r.entries[i].Scope, e.Scope) {
			r.entries[i] = e
			return
		}
	}
	r.entries = append(r.entries, e)
}

func sameScope(a, b Scope) bool {
	return strings.EqualFold(a.Host, b.Host) && a.Port == b.Port && a.Realm == b.Realm
}

// Resolve returns the entry for path, ignoring scopes. An empty path never matches.
func (r *Resolver) Resolve(path string) (Entry, bool) {
	return r.lookup(path, nil)
}

// CredentialFor returns the credential of the first entry whose prefix
// matches rawURL's path and whose scope admits its host and port.
func (r *Resolver) CredentialFor(rawURL string) (*crawler.Credential, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	e, ok := r.lookup(path, u)
	if !ok {
		return nil, false
	}
	cred := e.Credential
	return &cred, true
}

// lookup walks entries in registration order. A nil u skips the scope check.
func (r *Resolver) lookup(path string, u *url.URL) (Entry, bool) {
	if r == nil || path == "" {
		return Entry{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if !strings.HasPrefix(path, e.PathPrefix) {
			continue
		}
		if u != nil && !e.Scope.Matches(u) {
			continue
		}
		return e, true
	}
	return Entry{}, false
}

// Len returns the number of registered entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Header renders cred as an Authorization header value.
func Header(cred *crawler.Credential) (string, bool) {
	if cred == nil {
		return "", false
	}
	switch strings.ToLower(cred.Scheme) {
	case crawler.SchemeBasic:
		user := cred.Username
		if cred.Domain != "" {
			user = cred.Domain + `\` + user
		}
		token := base64.StdEncoding.EncodeToString([]byte(user + ":" + cred.Password))
		return "Basic " + token, true
	case crawler.SchemeBearer:
		if cred.Token == "" {
			return "", false
		}
		return "Bearer " + cred.Token, true
	}
	return "", false
}
