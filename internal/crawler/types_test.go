package crawler

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueEntry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0).UTC()
	seed, err := NewQueueEntry("s1", RequestData{URL: "http://a.com/"}, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 0, seed.Depth)
	assert.Equal(t, MethodGet, seed.Method)
	assert.Equal(t, now, seed.CreateTime)
	assert.Empty(t, seed.ParentURL)

	seed.Depth = 2
	child, err := NewQueueEntry("s1", RequestData{Method: "head", URL: "http://a.com/x"}, &seed, now)
	require.NoError(t, err)
	assert.Equal(t, 3, child.Depth)
	assert.Equal(t, MethodHead, child.Method)
	assert.Equal(t, "http://a.com/", child.ParentURL)
}

func TestNewQueueEntryRejectsBadInput(t *testing.T) {
	t.Parallel()

	now := time.Now()
	_, err := NewQueueEntry("s1", RequestData{URL: " "}, nil, now)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewQueueEntry("", RequestData{URL: "http://a.com"}, nil, now)
	require.ErrorIs(t, err, ErrConfiguration)
	_, err = NewQueueEntry("s1", RequestData{Method: "POST", URL: "http://a.com"}, nil, now)
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestResponseDataOpenBody(t *testing.T) {
	t.Parallel()

	resp := &ResponseData{}
	_, err := resp.OpenBody()
	require.ErrorIs(t, err, ErrNoBody)

	resp.SetBody([]byte("hello"))
	for i := 0; i < 2; i++ {
		rc, err := resp.OpenBody()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "hello", string(data))
	}

	path := filepath.Join(t.TempDir(), "body.txt")
	require.NoError(t, os.WriteFile(path, []byte("from disk"), 0o600))
	resp.SetBodyFile(path)
	rc, err := resp.OpenBody()
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(data))
}

func TestResultDataURLs(t *testing.T) {
	t.Parallel()

	var rd ResultData
	rd.AddURL(RequestData{URL: "http://a.com/"})
	rd.AddURL(RequestData{URL: ""})
	rd.AddURL(NewGetRequest("http://a.com/x"))
	rd.AddURL(NewGetRequest("http://a.com/"))
	require.Len(t, rd.ChildURLs, 3)
	assert.Equal(t, MethodGet, rd.ChildURLs[0].Method)

	rd.RemoveURL("http://a.com/")
	require.Len(t, rd.ChildURLs, 1)
	assert.Equal(t, "http://a.com/x", rd.ChildURLs[0].URL)
}

func TestNewAccessResultCopiesData(t *testing.T) {
	t.Parallel()

	resp := &ResponseData{
		SessionID:      "s1",
		RuleID:         "html",
		Method:         MethodGet,
		URL:            "http://a.com/",
		HTTPStatusCode: 404,
		MimeType:       "text/html",
		CharSet:        "UTF-8",
		ContentLength:  12,
	}
	result := &ResultData{TransformerName: "html", Data: []byte("body"), Encoding: "UTF-8"}
	now := time.Unix(10, 0)

	ar := NewAccessResult(resp, result, now)
	result.Data[0] = 'X'

	assert.Equal(t, AccessStatusNotFound, ar.Status)
	assert.Equal(t, "body", string(ar.Data.Data))
	assert.Equal(t, "html", ar.Data.TransformerName)
	assert.Equal(t, now, ar.CreateTime)
	assert.Equal(t, int64(12), ar.ContentLength)
}

func TestErrorTaxonomy(t *testing.T) {
	t.Parallel()

	access := NewCrawlAccessError("http://a.com", io.ErrUnexpectedEOF)
	assert.ErrorIs(t, access, ErrCrawlAccess)
	assert.ErrorIs(t, access, io.ErrUnexpectedEOF)

	store := StoreError("pop url queue", errors.New("connection refused"))
	assert.ErrorIs(t, store, ErrStoreUnavailable)
	assert.Contains(t, store.Error(), "connection refused")

	var child error = &ChildURLsError{URL: "file:///tmp/", ChildURLs: []RequestData{{URL: "file:///tmp/a"}}}
	var target *ChildURLsError
	require.ErrorAs(t, child, &target)
	assert.Len(t, target.ChildURLs, 1)
}

func TestContentLengthLimits(t *testing.T) {
	t.Parallel()

	limits := ContentLengthLimits{Default: 100, ByMIME: map[string]int64{"text/html": 10}}
	assert.Equal(t, int64(10), limits.MaxLength("text/html; charset=utf-8"))
	assert.Equal(t, int64(100), limits.MaxLength("application/pdf"))
	assert.Equal(t, DefaultMaxContentLength, ContentLengthLimits{}.MaxLength("x/y"))

	assert.Equal(t, int64(100), limits.Largest())
	assert.Equal(t, int64(500), ContentLengthLimits{Default: 100, ByMIME: map[string]int64{"video/mp4": 500}}.Largest())
	assert.Equal(t, DefaultMaxContentLength, ContentLengthLimits{}.Largest())
}

func TestStatusFromHTTP(t *testing.T) {
	t.Parallel()

	assert.Equal(t, AccessStatusOK, StatusFromHTTP(200))
	assert.Equal(t, AccessStatusOK, StatusFromHTTP(301))
	assert.Equal(t, AccessStatusNotModified, StatusFromHTTP(304))
	assert.Equal(t, AccessStatusForbidden, StatusFromHTTP(403))
	assert.Equal(t, AccessStatusNotFound, StatusFromHTTP(404))
	assert.Equal(t, AccessStatusError, StatusFromHTTP(500))
}
