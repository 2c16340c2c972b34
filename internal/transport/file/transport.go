// Package file implements crawler.Transport for file:// URLs. Directories
// short-circuit with their entries as child URLs.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

// ErrNotFileURL is returned for URLs whose scheme is not file.
var ErrNotFileURL = errors.New("not a file url")

// Config controls the file transport.
type Config struct {
	// MaxBodySize caps file reads in bytes. Zero disables the cap.
	MaxBodySize int64
}

// Transport reads local files.
type Transport struct {
	cfg Config
}

// New creates a file transport.
func New(cfg Config) *Transport {
	return &Transport{cfg: cfg}
}

// Fetch stats the file behind req.URL and reads it for GET requests.
func (t *Transport) Fetch(ctx context.Context, req crawler.Request) (crawler.FetchResult, error) {
	if err := ctx.Err(); err != nil {
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "file" {
		return crawler.FetchResult{}, fmt.Errorf("%w: %s", ErrNotFileURL, req.URL)
	}
	name := filepath.FromSlash(u.Path)

	start := time.Now()
	info, err := os.Stat(name)
	if err != nil {
		return crawler.FetchResult{}, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		children, err := listChildren(u, name)
		if err != nil {
			return crawler.FetchResult{}, err
		}
		return crawler.FetchResult{ChildURLs: children}, nil
	}
	if limit := t.cfg.MaxBodySize; limit > 0 && info.Size() > limit {
		return crawler.FetchResult{}, &crawler.SizeLimitError{URL: req.URL, Limit: limit, Size: info.Size()}
	}

	method := req.Method
	if method == "" {
		method = crawler.MethodGet
	}
	var body []byte
	if method == crawler.MethodGet {
		body, err = readFile(name, info.Size())
		if err != nil {
			return crawler.FetchResult{}, err
		}
	}

	modified := info.ModTime().UTC().Truncate(time.Second)
	header := http.Header{}
	header.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	header.Set("Last-Modified", modified.Format(http.TimeFormat))
	if ct := contentType(name, body); ct != "" {
		header.Set("Content-Type", ct)
	}

	return crawler.FetchResult{Response: &crawler.Response{
		URL:          req.URL,
		Method:       method,
		StatusCode:   http.StatusOK,
		Header:       header,
		Body:         body,
		LastModified: modified,
		Duration:     time.Since(start),
	}}, nil
}

func listChildren(dirURL *url.URL, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	children := make([]string, 0, len(entries))
	for _, entry := range entries {
		child := *dirURL
		child.RawQuery = ""
		child.Fragment = ""
		child.RawPath = ""
		child.Path = path.Join(dirURL.Path, entry.Name())
		if entry.IsDir() {
			child.Path += "/"
		}
		children = append(children, child.String())
	}
	return children, nil
}

func readFile(name string, size int64) ([]byte, error) {
	f, err := os.Open(name) // #nosec G304 -- crawling local paths is the point of this transport.
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = f.Close() }()

	// The file may grow between stat and read.
	body, err := io.ReadAll(io.LimitReader(f, size))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return body, nil
}

func contentType(name string, body []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	if len(body) == 0 {
		return ""
	}
	return http.DetectContentType(body)
}
