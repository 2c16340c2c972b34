package robots

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxLineLength bounds a single policy line. Longer lines are dropped.
const maxLineLength = 64 * 1024

// Parse reads a robots.txt document. Malformed lines are skipped; only a
// failure of the underlying reader is returned as an error.
func Parse(r io.Reader) (*Directives, error) {
	d := newDirectives()
	var current *Bucket

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	scanner.Split(boundedLines(maxLineLength))
	for scanner.Scan() {
		key, value, ok := directiveLine(scanner.Text())
		if !ok {
			continue
		}
		switch key {
		case "user-agent":
			if value == "" {
				continue
			}
			current = d.bucket(strings.ToLower(value))
		case "disallow":
			if current == nil || value == "" {
				continue
			}
			current.Disallow = append(current.Disallow, value)
		case "allow":
			if current == nil || value == "" {
				continue
			}
			current.Allow = append(current.Allow, value)
		case "crawl-delay":
			if current == nil {
				continue
			}
			seconds, err := strconv.Atoi(value)
			if err != nil || seconds < 0 {
				continue
			}
			current.crawlDelay = seconds
			current.hasDelay = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read robots policy: %w", err)
	}
	return d, nil
}

// ParseString parses an in-memory policy; it cannot fail.
func ParseString(s string) *Directives {
	d, err := Parse(strings.NewReader(s))
	if err != nil {
		return AllowAll()
	}
	return d
}

// directiveLine strips comments and splits "Key: value".
func directiveLine(line string) (string, string, bool) {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	key, value, found := strings.Cut(line, ":")
	if !found {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value), true
}

// boundedLines wraps splitLines so a line of limit bytes or more is discarded
// up to its terminator instead of failing the scan with bufio.ErrTooLong.
func boundedLines(limit int) bufio.SplitFunc {
	discarding := false
	return func(data []byte, atEOF bool) (int, []byte, error) {
		if atEOF && len(data) == 0 {
			return 0, nil, nil
		}
		if discarding {
			i := bytes.IndexAny(data, "\r\n")
			if i < 0 {
				if atEOF {
					discarding = false
				}
				return len(data), nil, nil
			}
			discarding = false
			// A "\r\n" split across reads leaves an empty line behind, which the parser ignores.
			return i + 1, nil, nil
		}
		advance, token, err := splitLines(data, atEOF)
		if advance == 0 && token == nil && err == nil && len(data) >= limit {
			discarding = true
			return len(data), nil, nil
		}
		return advance, token, err
	}
}

// splitLines is bufio.ScanLines extended to accept a lone '\r' as a line end.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\r' {
			if i+1 < len(data) {
				if data[i+1] == '\n' {
					return i + 2, data[:i], nil
				}
				return i + 1, data[:i], nil
			}
			if !atEOF {
				// need one more byte to tell "\r" from "\r\n"
				return 0, nil, nil
			}
		}
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
