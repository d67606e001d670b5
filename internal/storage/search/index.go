// Package search keeps access results in a document index. Stores depend on
// the narrow Index interface only; Elastic adapts go-elasticsearch to it.
package search

import (
	"context"
	"encoding/json"
)

// Query is a query clause in the index's DSL, e.g. {"term": {"session_id": "s"}}.
type Query map[string]any

// MatchAll selects every document.
func MatchAll() Query {
	return Query{"match_all": map[string]any{}}
}

// Term selects documents whose keyword field equals value.
func Term(field string, value any) Query {
	return Query{"term": map[string]any{field: value}}
}

// Index is the document-index surface the result store relies on.
type Index interface {
	// Put stores doc under id, replacing any previous version.
	Put(ctx context.Context, id string, doc any) error
	// Get returns the raw source of id; ok is false when it does not exist.
	Get(ctx context.Context, id string) (src json.RawMessage, ok bool, err error)
	// Count returns the number of documents matching q.
	Count(ctx context.Context, q Query) (int64, error)
	// DeleteByQuery removes every document matching q and reports how many went.
	DeleteByQuery(ctx context.Context, q Query) (int64, error)
}
