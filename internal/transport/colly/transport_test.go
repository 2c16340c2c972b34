package collytransport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

func TestFetchGet(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{UserAgent: "frontier-test", Header: http.Header{"X-Trace": {"base"}}})
	res, err := tr.Fetch(context.Background(), crawler.Request{
		Method:     crawler.MethodGet,
		URL:        srv.URL + "/page",
		Credential: &crawler.Credential{Scheme: crawler.SchemeBearer, Token: "tok"},
		Header:     http.Header{"X-Trace": {"req"}},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	require.False(t, res.HasChildURLs())

	resp := res.Response
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>ok</html>", string(resp.Body))
	require.Equal(t, "ISO-8859-1", resp.Charset)
	require.Equal(t, "text/html", resp.MimeType())
	require.Equal(t, time.Date(2015, 10, 21, 7, 28, 0, 0, time.UTC), resp.LastModified)
	require.Equal(t, srv.URL+"/page", resp.URL)
	got := <-seen
	require.Equal(t, "Bearer tok", got.Get("Authorization"))
	require.Equal(t, "frontier-test", got.Get("User-Agent"))
	require.Equal(t, "req", got.Get("X-Trace"))
}

func TestFetchHead(t *testing.T) {
	t.Parallel()

	methods := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods <- r.Method
		w.Header().Set("Last-Modified", "Wed, 21 Oct 2015 07:28:00 GMT")
	}))
	t.Cleanup(srv.Close)

	res, err := New(Config{}).Fetch(context.Background(), crawler.Request{Method: crawler.MethodHead, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.MethodHead, <-methods)
	require.Equal(t, crawler.MethodHead, res.Response.Method)
	require.Empty(t, res.Response.Body)
	require.False(t, res.Response.LastModified.IsZero())
}

func TestFetchStatuses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{})

	_, err := tr.Fetch(context.Background(), crawler.Request{URL: srv.URL + "/busy"})
	var statusErr *crawler.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)

	res, err := tr.Fetch(context.Background(), crawler.Request{URL: srv.URL + "/missing"})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.Response.StatusCode)

	custom := New(Config{RetryableStatuses: []int{http.StatusTeapot}})
	_, err = custom.Fetch(context.Background(), crawler.Request{URL: srv.URL + "/teapot"})
	require.True(t, errors.As(err, &statusErr))
	_, err = custom.Fetch(context.Background(), crawler.Request{URL: srv.URL + "/busy"})
	require.NoError(t, err)
}

func TestFetchSizeLimit(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/chunked" {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	tr := New(Config{MaxBodySize: 16})
	for _, path := range []string{"/sized", "/chunked"} {
		_, err := tr.Fetch(context.Background(), crawler.Request{URL: srv.URL + path})
		require.ErrorIs(t, err, crawler.ErrSizeLimitExceeded, path)
	}

	res, err := New(Config{MaxBodySize: 64}).Fetch(context.Background(), crawler.Request{URL: srv.URL + "/sized"})
	require.NoError(t, err)
	require.Len(t, res.Response.Body, 64)
}

func TestFetchRejectsUnsupportedMethod(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}).Fetch(context.Background(), crawler.Request{Method: "POST", URL: "http://a.test/"})
	require.Error(t, err)
}

func TestFetchConnectionError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Fetch(context.Background(), crawler.Request{URL: url})
	require.Error(t, err)
	require.NotErrorIs(t, err, crawler.ErrSizeLimitExceeded)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Fetch(ctx, crawler.Request{URL: srv.URL})
	require.Error(t, err)
}

func TestRunCollector(t *testing.T) {
	t.Parallel()

	finished, err := runCollector(context.Background(), func() error { return colly.ErrAbortedAfterHeaders })
	require.True(t, finished)
	require.NoError(t, err)

	boom := errors.New("boom")
	finished, err = runCollector(context.Background(), func() error { return boom })
	require.True(t, finished)
	require.ErrorIs(t, err, boom)
}
