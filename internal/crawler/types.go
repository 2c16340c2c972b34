// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Method is the request verb a task is fetched with.
type Method string

// Supported fetch methods.
const (
	MethodGet  Method = http.MethodGet
	MethodHead Method = http.MethodHead
)

// Valid reports whether m is a supported fetch method.
func (m Method) Valid() bool {
	return m == MethodGet || m == MethodHead
}

// CrawlTask is a frontier entry. Within one session no two live tasks share a URL.
type CrawlTask struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Method     Method    `json:"method"`
	URL        string    `json:"url"`
	ParentURL  string    `json:"parent_url,omitempty"`
	Depth      int       `json:"depth"`
	Encoding   string    `json:"encoding,omitempty"`
	CreateTime time.Time `json:"create_time"`
	ClaimedBy  string    `json:"claimed_by,omitempty"`
	ClaimedAt  time.Time `json:"claimed_at,omitempty"`
}

// Claimed reports whether a worker currently holds the task.
func (t CrawlTask) Claimed() bool {
	return t.ClaimedBy != ""
}

// AccessStatus classifies a ledger entry.
type AccessStatus string

// Access ledger status values.
const (
	AccessCompleted   AccessStatus = "completed"
	AccessNotModified AccessStatus = "not_modified"
	AccessAbandoned   AccessStatus = "abandoned"
)

// Final reports whether the status blocks re-enqueueing the URL within its session.
func (s AccessStatus) Final() bool {
	return s == AccessCompleted || s == AccessNotModified
}

// AccessResult is an immutable entry of the access-history ledger.
type AccessResult struct {
	SessionID     string        `json:"session_id"`
	URL           string        `json:"url"`
	ParentURL     string        `json:"parent_url,omitempty"`
	Method        Method        `json:"method"`
	Status        AccessStatus  `json:"status"`
	HTTPStatus    int           `json:"http_status"`
	ContentHash   string        `json:"content_hash,omitempty"`
	LastModified  time.Time     `json:"last_modified,omitempty"`
	MimeType      string        `json:"mime_type,omitempty"`
	ContentLength int64         `json:"content_length"`
	FetchTime     time.Time     `json:"fetch_time"`
	ExecutionTime time.Duration `json:"execution_time"`
	Error         string        `json:"error,omitempty"`
}

// Credential is a scheme-specific secret attached to a request.
type Credential struct {
	Scheme   string `json:"scheme" mapstructure:"scheme"`
	Username string `json:"username,omitempty" mapstructure:"username"`
	Password string `json:"-" mapstructure:"password"`
	Token    string `json:"-" mapstructure:"token"`
	Domain   string `json:"domain,omitempty" mapstructure:"domain"`
}

// Credential schemes understood by the transports.
const (
	SchemeBasic  = "basic"
	SchemeBearer = "bearer"
)

// Request captures everything a Transport needs for one logical fetch.
type Request struct {
	Method     Method
	URL        string
	Credential *Credential
	Header     http.Header
}

// Response is the result of a successful transport call.
type Response struct {
	URL          string
	Method       Method
	StatusCode   int
	Header       http.Header
	Body         []byte
	Charset      string
	LastModified time.Time
	Duration     time.Duration
}

// MimeType returns the media type of the response without parameters.
func (r *Response) MimeType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	ct := r.Header.Get("Content-Type")
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// FetchResult is the tagged outcome of a successful transport call: either a
// Response or the child URLs of a listing resource (directory, share).
type FetchResult struct {
	Response  *Response
	ChildURLs []string
}

// HasChildURLs reports whether the transport short-circuited with discovered links.
func (r FetchResult) HasChildURLs() bool {
	return r.Response == nil && r.ChildURLs != nil
}

// SessionStatus is the lifecycle state of a crawl session.
type SessionStatus string

// Session lifecycle values.
const (
	SessionRunning  SessionStatus = "running"
	SessionFinished SessionStatus = "finished"
	SessionCanceled SessionStatus = "canceled"
	SessionFailed   SessionStatus = "failed"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionFinished || s == SessionCanceled || s == SessionFailed
}

// Session is the bookkeeping record of one crawl run.
type Session struct {
	ID                string        `json:"id"`
	Status            SessionStatus `json:"status"`
	Seeds             []string      `json:"seeds"`
	PreviousSessionID string        `json:"previous_session_id,omitempty"`
	Created           time.Time     `json:"created"`
	Finished          *time.Time    `json:"finished,omitempty"`
	ErrorText         string        `json:"error,omitempty"`
}
