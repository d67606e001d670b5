package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks input rejected at the boundary (empty address, bad pattern, bad option).
	ErrConfiguration = errors.New("configuration error")
	// ErrCrawlAccess marks a fetch or transform that failed for one URL only.
	ErrCrawlAccess = errors.New("crawl access error")
	// ErrStoreUnavailable marks a frontier or result store that could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTransformerMismatch is returned when stored data was produced by another transformer.
	ErrTransformerMismatch = errors.New("transformer mismatch")
)

// MaxLengthExceededError reports content larger than the configured limit.
type MaxLengthExceededError struct {
	URL    string
	Length int64
	Max    int64
}

func (e *MaxLengthExceededError) Error() string {
	return fmt.Sprintf("content length %d bytes exceeds %d bytes: %s", e.Length, e.Max, e.URL)
}

// CrawlAccessError wraps an I/O or decoding failure for a single URL.
type CrawlAccessError struct {
	URL string
	Err error
}

// NewCrawlAccessError wraps err for url.
func NewCrawlAccessError(url string, err error) *CrawlAccessError {
	return &CrawlAccessError{URL: url, Err: err}
}

func (e *CrawlAccessError) Error() string {
	return fmt.Sprintf("access %s: %v", e.URL, e.Err)
}

func (e *CrawlAccessError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCrawlAccess) match any CrawlAccessError.
func (e *CrawlAccessError) Is(target error) bool { return target == ErrCrawlAccess }

// ChildURLsError is not a failure: it signals a container resource whose
// children must be enqueued instead of treating the address as content.
type ChildURLsError struct {
	URL       string
	ChildURLs []RequestData
}

func (e *ChildURLsError) Error() string {
	return fmt.Sprintf("%s is a container with %d children", e.URL, len(e.ChildURLs))
}

// StoreError wraps a backend failure so callers can test for ErrStoreUnavailable.
func StoreError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
