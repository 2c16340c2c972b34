package auth

import (
	"testing"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
	"github.com/stretchr/testify/require"
)

func basic(user string) crawler.Credential {
	return crawler.Credential{Scheme: crawler.SchemeBasic, Username: user, Password: "pw"}
}

func TestResolveFirstRegisteredPrefixWins(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		Entry{PathPrefix: "/a", Credential: basic("x")},
		Entry{PathPrefix: "/a/b", Credential: basic("y")},
	)

	e, ok := r.Resolve("/a/b/c")
	require.True(t, ok)
	require.Equal(t, "x", e.Credential.Username)
}

func TestResolveNoMatch(t *testing.T) {
	t.Parallel()

	r := NewResolver(Entry{PathPrefix: "/secure", Credential: basic("x")})

	_, ok := r.Resolve("")
	require.False(t, ok)
	_, ok = r.Resolve("/public")
	require.False(t, ok)

	var nilResolver *Resolver
	_, ok = nilResolver.Resolve("/secure")
	require.False(t, ok)
}

func TestRegisterReplacesSamePrefix(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		Entry{PathPrefix: "/a", Credential: basic("old")},
		Entry{PathPrefix: "/b", Credential: basic("b")},
	)
	r.Register(Entry{PathPrefix: "/a", Credential: basic("new")})

	require.Equal(t, 2, r.Len())
	e, ok := r.Resolve("/a/x")
	require.True(t, ok)
	require.Equal(t, "new", e.Credential.Username)
}

func TestCredentialForChecksScope(t *testing.T) {
	t.Parallel()

	r := NewResolver(Entry{
		PathPrefix: "/",
		Scope:      Scope{Host: "intranet.example", Port: "443"},
		Credential: crawler.Credential{Scheme: crawler.SchemeBearer, Token: "t0k"},
	})

	cred, ok := r.CredentialFor("https://INTRANET.example/docs")
	require.True(t, ok)
	require.Equal(t, "t0k", cred.Token)

	_, ok = r.CredentialFor("http://intranet.example/docs")
	require.False(t, ok, "port 80 is outside the scope")

	_, ok = r.CredentialFor("https://other.example/docs")
	require.False(t, ok)
}

func TestCredentialForKeepsHostsApart(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		Entry{PathPrefix: "/", Scope: Scope{Host: "a.example"}, Credential: basic("alice")},
		Entry{PathPrefix: "/", Scope: Scope{Host: "b.example"}, Credential: basic("bob")},
	)
	require.Equal(t, 2, r.Len())

	cred, ok := r.CredentialFor("https://a.example/x")
	require.True(t, ok)
	require.Equal(t, "alice", cred.Username)
	cred, ok = r.CredentialFor("https://b.example/x")
	require.True(t, ok)
	require.Equal(t, "bob", cred.Username)

	r.Register(Entry{PathPrefix: "/", Scope: Scope{Host: "B.example"}, Credential: basic("carol")})
	require.Equal(t, 2, r.Len())
	cred, ok = r.CredentialFor("https://b.example/x")
	require.True(t, ok)
	require.Equal(t, "carol", cred.Username)
}

func TestCredentialForSkipsOutOfScopeMatches(t *testing.T) {
	t.Parallel()

	r := NewResolver(
		Entry{PathPrefix: "/", Scope: Scope{Host: "a.example"}, Credential: basic("alice")},
		Entry{PathPrefix: "/docs", Scope: Scope{Host: "b.example"}, Credential: basic("bob")},
	)

	cred, ok := r.CredentialFor("https://b.example/docs/1")
	require.True(t, ok)
	require.Equal(t, "bob", cred.Username)

	_, ok = r.CredentialFor("https://b.example/other")
	require.False(t, ok)

	e, ok := r.Resolve("/docs/1")
	require.True(t, ok)
	require.Equal(t, "alice", e.Credential.Username, "Resolve is path-only")
}

func TestHeader(t *testing.T) {
	t.Parallel()

	h, ok := Header(&crawler.Credential{Scheme: "Basic", Username: "user", Password: "pass"})
	require.True(t, ok)
	require.Equal(t, "Basic dXNlcjpwYXNz", h)

	h, ok = Header(&crawler.Credential{Scheme: crawler.SchemeBearer, Token: "abc"})
	require.True(t, ok)
	require.Equal(t, "Bearer abc", h)

	_, ok = Header(&crawler.Credential{Scheme: crawler.SchemeBearer})
	require.False(t, ok)
	_, ok = Header(&crawler.Credential{Scheme: "ntlm"})
	require.False(t, ok)
	_, ok = Header(nil)
	require.False(t, ok)
}
