package headless

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

type plainTransport struct {
	got  crawler.Request
	body string
}

func (p *plainTransport) Fetch(_ context.Context, req crawler.Request) (crawler.FetchResult, error) {
	p.got = req
	return crawler.FetchResult{Response: &crawler.Response{
		URL:        req.URL,
		Method:     req.Method,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(p.body),
	}}, nil
}

func newTransport(t *testing.T, cfg Config, head crawler.Transport) *Transport {
	t.Helper()
	tr, err := New(cfg, head)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxParallel: -1}, nil)
	require.Error(t, err)
	_, err = New(Config{Auto: true}, nil)
	require.Error(t, err)

	tr := newTransport(t, Config{MaxParallel: 2, RetryableStatuses: []int{http.StatusServiceUnavailable}}, nil)
	require.Equal(t, 2, cap(tr.limiter))
	require.Equal(t, defaultNavigationTimeout, tr.cfg.NavigationTimeout)
	require.Equal(t, defaultSettle, tr.cfg.Settle)
	require.Contains(t, tr.retryable, http.StatusServiceUnavailable)

	tr = newTransport(t, Config{Settle: -1}, nil)
	require.Zero(t, tr.cfg.Settle)
}

func TestFetchDelegatesHead(t *testing.T) {
	t.Parallel()

	head := &plainTransport{}
	tr := newTransport(t, Config{}, head)
	res, err := tr.Fetch(context.Background(), crawler.Request{Method: crawler.MethodHead, URL: "https://a.test/"})
	require.NoError(t, err)
	require.Equal(t, crawler.MethodHead, res.Response.Method)
	require.Equal(t, "https://a.test/", head.got.URL)

	_, err = newTransport(t, Config{}, nil).Fetch(context.Background(), crawler.Request{Method: crawler.MethodHead, URL: "https://a.test/"})
	require.Error(t, err)
}

func TestFetchAutoKeepsStaticPages(t *testing.T) {
	t.Parallel()

	body := "<html><body>" + strings.Repeat("<p>static</p>", 200) + "</body></html>"
	plain := &plainTransport{body: body}
	tr := newTransport(t, Config{Auto: true}, plain)
	res, err := tr.Fetch(context.Background(), crawler.Request{URL: "https://a.test/"})
	require.NoError(t, err)
	require.Equal(t, body, string(res.Response.Body))
	require.Equal(t, "https://a.test/", plain.got.URL)
}

func TestAcquireRespectsCancellation(t *testing.T) {
	t.Parallel()

	tr := newTransport(t, Config{MaxParallel: 1}, nil)
	require.NoError(t, tr.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tr.acquire(ctx), context.DeadlineExceeded)

	tr.release()
	require.NoError(t, tr.acquire(context.Background()))
}

func TestDocumentMeta(t *testing.T) {
	t.Parallel()

	meta := &documentMeta{}
	status, header, url := meta.snapshot("https://a.test/", "")
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, header)
	require.Equal(t, "https://a.test/", url)

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{URL: "https://a.test/app.js", Status: 200},
	})
	_, _, url = meta.snapshot("https://a.test/", "https://a.test/home")
	require.Equal(t, "https://a.test/home", url, "sub-resources are ignored")

	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			URL:    "https://a.test/home",
			Status: 503,
			Headers: network.Headers{
				"Content-Type": "text/html; charset=iso-8859-1",
				"Vary":         []any{"Accept", "Cookie"},
			},
		},
	})
	status, header, url = meta.snapshot("https://a.test/", "")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "https://a.test/home", url)
	require.Equal(t, []string{"Accept", "Cookie"}, header.Values("Vary"))
}

func TestBuildResponse(t *testing.T) {
	t.Parallel()

	header := http.Header{}
	header.Set("Content-Type", "text/html; charset=iso-8859-1")
	header.Set("Content-Length", "3")
	header.Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")

	res := buildResponse("https://a.test/", http.StatusOK, header, "<html></html>", time.Second)
	require.Equal(t, "text/html", res.MimeType())
	require.Equal(t, "utf-8", res.Charset)
	require.Empty(t, res.Header.Get("Content-Length"))
	require.Equal(t, time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC), res.LastModified)
	require.Equal(t, "<html></html>", string(res.Body))

	res = buildResponse("https://a.test/", http.StatusOK, nil, "", 0)
	require.Equal(t, "text/html", res.MimeType())
}

func TestRequestHeader(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Trace": {"a"}}
	got := requestHeader(crawler.Request{
		Header:     src,
		Credential: &crawler.Credential{Scheme: crawler.SchemeBearer, Token: "tok"},
	})
	require.Equal(t, "Bearer tok", got.Get("Authorization"))
	require.Empty(t, src.Get("Authorization"))
	require.Nil(t, requestHeader(crawler.Request{}))

	netHeaders := toNetworkHeaders(http.Header{"X-Multi": {"a", "b"}, "X-One": {"c"}, "X-None": {}})
	require.Equal(t, []string{"a", "b"}, netHeaders["X-Multi"])
	require.Equal(t, "c", netHeaders["X-One"])
	require.NotContains(t, netHeaders, "X-None")
}
