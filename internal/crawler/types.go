package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Request methods understood by the frontier and protocol clients.
const (
	MethodGet  = http.MethodGet
	MethodHead = http.MethodHead
)

// UTF8 is the fallback encoding name used across the pipeline.
const UTF8 = "UTF-8"

// AccessStatus summarizes how a fetch attempt ended.
type AccessStatus string

// Access status values persisted with every access result.
const (
	AccessStatusOK          AccessStatus = "ok"
	AccessStatusNotModified AccessStatus = "not_modified"
	AccessStatusForbidden   AccessStatus = "forbidden"
	AccessStatusNotFound    AccessStatus = "not_found"
	AccessStatusError       AccessStatus = "error"
)

// StatusFromHTTP maps a protocol status code onto an AccessStatus.
func StatusFromHTTP(code int) AccessStatus {
	switch {
	case code == http.StatusNotModified:
		return AccessStatusNotModified
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return AccessStatusForbidden
	case code == http.StatusNotFound || code == http.StatusGone:
		return AccessStatusNotFound
	case code >= 200 && code < 400:
		return AccessStatusOK
	default:
		return AccessStatusError
	}
}

// RequestData describes an address to visit before the frontier assigns it an entry.
type RequestData struct {
	Method   string            `json:"method"`
	URL      string            `json:"url"`
	MetaData map[string]string `json:"meta_data,omitempty"`
	Encoding string            `json:"encoding,omitempty"`
}

// NewGetRequest is shorthand for a GET request to url.
func NewGetRequest(url string) RequestData {
	return RequestData{Method: MethodGet, URL: url}
}

// QueueEntry is a pending fetch owned by exactly one session.
type QueueEntry struct {
	ID           int64             `json:"id"`
	SessionID    string            `json:"session_id"`
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	MetaData     map[string]string `json:"meta_data,omitempty"`
	Encoding     string            `json:"encoding,omitempty"`
	ParentURL    string            `json:"parent_url,omitempty"`
	Depth        int               `json:"depth"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
	CreateTime   time.Time         `json:"create_time"`
}

// NewQueueEntry builds the entry a store persists for req. Seeds (nil parent)
// start at depth 0; discovered URLs sit one level below their parent.
func NewQueueEntry(sessionID string, req RequestData, parent *QueueEntry, now time.Time) (QueueEntry, error) {
	if strings.TrimSpace(sessionID) == "" {
		return QueueEntry{}, fmt.Errorf("%w: session id is empty", ErrConfiguration)
	}
	if strings.TrimSpace(req.URL) == "" {
		return QueueEntry{}, fmt.Errorf("%w: url is empty", ErrConfiguration)
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = MethodGet
	}
	if method != MethodGet && method != MethodHead {
		return QueueEntry{}, fmt.Errorf("%w: unsupported method %q", ErrConfiguration, req.Method)
	}
	entry := QueueEntry{
		SessionID:  sessionID,
		Method:     method,
		URL:        req.URL,
		MetaData:   cloneMeta(req.MetaData),
		Encoding:   req.Encoding,
		CreateTime: now,
	}
	if parent != nil {
		entry.ParentURL = parent.URL
		entry.Depth = parent.Depth + 1
	}
	return entry, nil
}

// Request converts the entry back into the request it was created from.
func (e QueueEntry) Request() RequestData {
	return RequestData{Method: e.Method, URL: e.URL, MetaData: cloneMeta(e.MetaData), Encoding: e.Encoding}
}

// DedupKey identifies the entry for duplicate suppression within a session.
func DedupKey(method, url string) string {
	if method == "" {
		method = MethodGet
	}
	return strings.ToUpper(method) + " " + url
}

// ResponseData is the transient, per-fetch view of a resource.
type ResponseData struct {
	SessionID      string
	RuleID         string
	Method         string
	URL            string
	ParentURL      string
	Depth          int
	HTTPStatusCode int
	CharSet        string
	MimeType       string
	ContentLength  int64
	LastModified   *time.Time
	ExecutionTime  time.Duration
	MetaData       map[string]string

	body     []byte
	bodyFile string
}

// SetBody stores content fully in memory.
func (r *ResponseData) SetBody(data []byte) {
	r.body = data
	r.bodyFile = ""
}

// SetBodyFile references content on disk without reading it.
func (r *ResponseData) SetBodyFile(path string) {
	r.body = nil
	r.bodyFile = path
}

// HasBody reports whether any content is attached.
func (r *ResponseData) HasBody() bool {
	return r != nil && (r.body != nil || r.bodyFile != "")
}

// BodyFile returns the referenced file path, if the body is file-backed.
func (r *ResponseData) BodyFile() string {
	return r.bodyFile
}

// OpenBody returns a fresh reader over the content. Each call starts at the first byte.
func (r *ResponseData) OpenBody() (io.ReadCloser, error) {
	switch {
	case r == nil:
		return nil, ErrNoBody
	case r.bodyFile != "":
		f, err := os.Open(r.bodyFile)
		if err != nil {
			return nil, fmt.Errorf("open body file: %w", err)
		}
		return f, nil
	case r.body != nil:
		return io.NopCloser(bytes.NewReader(r.body)), nil
	default:
		return nil, ErrNoBody
	}
}

// ErrNoBody is returned when a response carries no content.
var ErrNoBody = errors.New("response has no body")

// ResultData is what a transformer hands back for storage plus the links it found.
type ResultData struct {
	TransformerName string
	Data            []byte
	Encoding        string
	ChildURLs       []RequestData
}

// AddURL appends a discovered address.
func (r *ResultData) AddURL(req RequestData) {
	if strings.TrimSpace(req.URL) == "" {
		return
	}
	if req.Method == "" {
		req.Method = MethodGet
	}
	r.ChildURLs = append(r.ChildURLs, req)
}

// RemoveURL drops every discovered address equal to url.
func (r *ResultData) RemoveURL(url string) {
	kept := r.ChildURLs[:0]
	for _, child := range r.ChildURLs {
		if child.URL != url {
			kept = append(kept, child)
		}
	}
	r.ChildURLs = kept
}

// AccessResultData is the stored payload owned by a single AccessResult.
type AccessResultData struct {
	TransformerName string `json:"transformer_name"`
	Data            []byte `json:"-"`
	Encoding        string `json:"encoding"`
}

// AccessResult records one completed fetch. It is never updated after insert.
type AccessResult struct {
	ID             int64            `json:"id"`
	SessionID      string           `json:"session_id"`
	RuleID         string           `json:"rule_id"`
	URL            string           `json:"url"`
	ParentURL      string           `json:"parent_url,omitempty"`
	Status         AccessStatus     `json:"status"`
	HTTPStatusCode int              `json:"http_status_code"`
	Method         string           `json:"method"`
	MimeType       string           `json:"mime_type"`
	CharSet        string           `json:"charset"`
	ContentLength  int64            `json:"content_length"`
	ExecutionTime  time.Duration    `json:"execution_time"`
	LastModified   *time.Time       `json:"last_modified,omitempty"`
	CreateTime     time.Time        `json:"create_time"`
	Data           AccessResultData `json:"data"`
}

// NewAccessResult copies the response metadata and wraps the transformer output.
func NewAccessResult(resp *ResponseData, result *ResultData, now time.Time) *AccessResult {
	ar := &AccessResult{
		SessionID:      resp.SessionID,
		RuleID:         resp.RuleID,
		URL:            resp.URL,
		ParentURL:      resp.ParentURL,
		Status:         StatusFromHTTP(resp.HTTPStatusCode),
		HTTPStatusCode: resp.HTTPStatusCode,
		Method:         resp.Method,
		MimeType:       resp.MimeType,
		CharSet:        resp.CharSet,
		ContentLength:  resp.ContentLength,
		ExecutionTime:  resp.ExecutionTime,
		LastModified:   resp.LastModified,
		CreateTime:     now,
	}
	if result != nil {
		ar.Data = AccessResultData{
			TransformerName: result.TransformerName,
			Data:            append([]byte(nil), result.Data...),
			Encoding:        result.Encoding,
		}
	}
	return ar
}

func cloneMeta(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
