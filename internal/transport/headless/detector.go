package headless

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/frontier-crawler/internal/crawler"
)

const defaultMinBodyLength = 2048

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// Detector decides whether a plainly fetched page needs a browser to produce
// its real content.
type Detector struct {
	// MinBodyLength is the size under which a script-heavy page is assumed to be a shell.
	MinBodyLength int
}

// NewDetector creates a Detector. Zero selects the default threshold.
func NewDetector(minBodyLength int) *Detector {
	if minBodyLength <= 0 {
		minBodyLength = defaultMinBodyLength
	}
	return &Detector{MinBodyLength: minBodyLength}
}

// NeedsRender reports whether resp looks like a client-rendered HTML page.
func (d *Detector) NeedsRender(resp *crawler.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if mt := resp.MimeType(); mt != "" && mt != "text/html" {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < d.MinBodyLength && scriptHeavy(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptHeavy reports whether script elements cover at least a quarter of body.
func scriptHeavy(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered, pos := 0, 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered > 0 && covered*100/total >= 25
}
