package headless

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

func htmlResponse(status int, body string) *crawler.Response {
	return &crawler.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func TestDetectorNeedsRender(t *testing.T) {
	t.Parallel()

	d := NewDetector(1000)
	tests := []struct {
		name string
		resp *crawler.Response
		want bool
	}{
		{name: "nil", resp: nil, want: false},
		{name: "empty body", resp: htmlResponse(http.StatusOK, ""), want: true},
		{name: "spa marker", resp: htmlResponse(http.StatusOK, `<div id="__next"></div>`), want: true},
		{name: "script shell", resp: htmlResponse(http.StatusOK, `<html><script>var a=1;</script><p>t</p></html>`), want: true},
		{name: "unclosed script", resp: htmlResponse(http.StatusOK, `<p>x</p><script src="a.js"`), want: true},
		{name: "static page", resp: htmlResponse(http.StatusOK, "<html><body>"+strings.Repeat("<p>text</p>", 20)+"</body></html>"), want: false},
		{name: "error status", resp: htmlResponse(http.StatusNotFound, ""), want: false},
		{
			name: "not html",
			resp: &crawler.Response{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": {"application/pdf"}}},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, d.NeedsRender(tt.resp))
		})
	}
}

func TestNewDetectorDefault(t *testing.T) {
	t.Parallel()
	require.Equal(t, defaultMinBodyLength, NewDetector(0).MinBodyLength)
}
