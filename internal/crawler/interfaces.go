package crawler

import (
	"context"
	"io"
	"time"
)

// URLQueueStore is the session-scoped frontier.
type URLQueueStore interface {
	// Push enqueues req for the session. It returns false without error when the
	// (method, url) pair is already pending or was already handed out.
	Push(ctx context.Context, sessionID string, req RequestData, parent *QueueEntry) (bool, error)
	// Pop removes and returns one pending entry; ok is false once the session is drained.
	Pop(ctx context.Context, sessionID string) (entry QueueEntry, ok bool, err error)
	Count(ctx context.Context, sessionID string) (int64, error)
	DeleteBySession(ctx context.Context, sessionID string) error
	DeleteAll(ctx context.Context) error
}

// AccessResultStore persists completed fetches. Results are append-only.
type AccessResultStore interface {
	Insert(ctx context.Context, result *AccessResult) error
	Count(ctx context.Context, sessionID string) (int64, error)
	DeleteBySession(ctx context.Context, sessionID string) error
	DeleteAll(ctx context.Context) error
}

// FilterKind distinguishes include from exclude patterns.
type FilterKind string

// Filter kinds stored per session.
const (
	FilterInclude FilterKind = "include"
	FilterExclude FilterKind = "exclude"
)

// URLFilterStore keeps the raw include/exclude patterns of each session in insertion order.
type URLFilterStore interface {
	AddPatterns(ctx context.Context, sessionID string, kind FilterKind, patterns []string) error
	Patterns(ctx context.Context, sessionID string, kind FilterKind) ([]string, error)
	DeleteBySession(ctx context.Context, sessionID string) error
	DeleteAll(ctx context.Context) error
}

// URLFilter decides whether an address is in scope for the current session.
type URLFilter interface {
	Match(ctx context.Context, url string) (bool, error)
}

// Client fetches a resource by address.
type Client interface {
	// Fetch resolves address. Container resources return *ChildURLsError.
	Fetch(ctx context.Context, address string, includeContent bool) (*ResponseData, error)
	// FetchHead returns metadata only; a nil response means there is nothing to report.
	FetchHead(ctx context.Context, address string) (*ResponseData, error)
}

// Transformer turns a response into storable data plus discovered addresses.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, resp *ResponseData) (*ResultData, error)
	RenderStored(data *AccessResultData) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes result notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs.
type IDGenerator interface {
	NewID() (string, error)
}
