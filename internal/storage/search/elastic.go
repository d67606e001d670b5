package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// DefaultIndex is the index access results are written to.
const DefaultIndex = "access_results"

const resultMapping = `{
  "mappings": {
    "properties": {
      "session_id":  {"type": "keyword"},
      "url":         {"type": "keyword"},
      "parent_url":  {"type": "keyword"},
      "status":      {"type": "keyword"},
      "method":      {"type": "keyword"},
      "mime_type":   {"type": "keyword"},
      "create_time": {"type": "date"},
      "payload":     {"type": "binary"}
    }
  }
}`

// ElasticConfig locates the cluster.
type ElasticConfig struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Refresh is passed to index calls: "true", "false" or "wait_for".
	Refresh string
}

// Elastic implements Index on one Elasticsearch index.
type Elastic struct {
	es      *elasticsearch.Client
	index   string
	refresh string
}

// NewElastic builds a client for cfg. No request is made until first use.
func NewElastic(cfg ElasticConfig) (*Elastic, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: elasticsearch addresses are required", crawler.ErrConfiguration)
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: elasticsearch client: %w", crawler.ErrConfiguration, err)
	}
	e := &Elastic{es: es, index: cfg.Index, refresh: cfg.Refresh}
	if e.index == "" {
		e.index = DefaultIndex
	}
	if e.refresh == "" {
		e.refresh = "wait_for"
	}
	return e, nil
}

// EnsureIndex creates the index with the result mapping when it is missing.
func (e *Elastic) EnsureIndex(ctx context.Context) error {
	res, err := e.es.Indices.Exists([]string{e.index}, e.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return crawler.StoreError("check index "+e.index, err)
	}
	drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return crawler.StoreError("check index "+e.index, fmt.Errorf("status %s", res.Status()))
	}

	res, err = e.es.Indices.Create(e.index,
		e.es.Indices.Create.WithBody(strings.NewReader(resultMapping)),
		e.es.Indices.Create.WithContext(ctx))
	if err != nil {
		return crawler.StoreError("create index "+e.index, err)
	}
	defer drain(res)
	if res.IsError() && !alreadyExists(res) {
		return crawler.StoreError("create index "+e.index, responseError(res))
	}
	return nil
}

// Ping checks that the cluster answers.
func (e *Elastic) Ping(ctx context.Context) error {
	res, err := e.es.Ping(e.es.Ping.WithContext(ctx))
	if err != nil {
		return crawler.StoreError("ping elasticsearch", err)
	}
	defer drain(res)
	if res.IsError() {
		return crawler.StoreError("ping elasticsearch", responseError(res))
	}
	return nil
}

// Put implements Index.
func (e *Elastic) Put(ctx context.Context, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	res, err := e.es.Index(e.index, bytes.NewReader(body),
		e.es.Index.WithDocumentID(id),
		e.es.Index.WithRefresh(e.refresh),
		e.es.Index.WithContext(ctx))
	if err != nil {
		return crawler.StoreError("index document "+id, err)
	}
	defer drain(res)
	if res.IsError() {
		return crawler.StoreError("index document "+id, responseError(res))
	}
	return nil
}

// Get implements Index.
func (e *Elastic) Get(ctx context.Context, id string) (json.RawMessage, bool, error) {
	res, err := e.es.Get(e.index, id, e.es.Get.WithContext(ctx))
	if err != nil {
		return nil, false, crawler.StoreError("get document "+id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if res.IsError() {
		return nil, false, crawler.StoreError("get document "+id, responseError(res))
	}
	var hit struct {
		Found  bool            `json:"found"`
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&hit); err != nil {
		return nil, false, fmt.Errorf("decode document %s: %w", id, err)
	}
	return hit.Source, hit.Found, nil
}

// Count implements Index.
func (e *Elastic) Count(ctx context.Context, q Query) (int64, error) {
	body, err := queryBody(q)
	if err != nil {
		return 0, err
	}
	res, err := e.es.Count(
		e.es.Count.WithIndex(e.index),
		e.es.Count.WithBody(body),
		e.es.Count.WithContext(ctx))
	if err != nil {
		return 0, crawler.StoreError("count documents", err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, crawler.StoreError("count documents", responseError(res))
	}
	var out struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return out.Count, nil
}

// DeleteByQuery implements Index. Version conflicts with concurrent writers
// are skipped rather than failing the call.
func (e *Elastic) DeleteByQuery(ctx context.Context, q Query) (int64, error) {
	body, err := queryBody(q)
	if err != nil {
		return 0, err
	}
	res, err := e.es.DeleteByQuery([]string{e.index}, body,
		e.es.DeleteByQuery.WithConflicts("proceed"),
		e.es.DeleteByQuery.WithRefresh(true),
		e.es.DeleteByQuery.WithContext(ctx))
	if err != nil {
		return 0, crawler.StoreError("delete documents", err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, crawler.StoreError("delete documents", responseError(res))
	}
	var out struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return out.Deleted, nil
}

func queryBody(q Query) (io.Reader, error) {
	body, err := json.Marshal(map[string]any{"query": q})
	if err != nil {
		return nil, fmt.Errorf("%w: encode query: %w", crawler.ErrConfiguration, err)
	}
	return bytes.NewReader(body), nil
}

type errorBody struct {
	Error struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func responseError(res *esapi.Response) error {
	var body errorBody
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Error.Type == "" {
		return fmt.Errorf("status %s", res.Status())
	}
	return fmt.Errorf("status %s: %s: %s", res.Status(), body.Error.Type, body.Error.Reason)
}

func alreadyExists(res *esapi.Response) bool {
	if res.StatusCode != http.StatusBadRequest {
		return false
	}
	var body errorBody
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return false
	}
	return body.Error.Type == "resource_already_exists_exception"
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

var _ Index = (*Elastic)(nil)
