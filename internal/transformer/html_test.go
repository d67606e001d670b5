package transformer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/text/encoding/japanese"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

func newHTML(t *testing.T, cfg Config) *HTML {
	t.Helper()
	if cfg.TempDir == "" {
		cfg.TempDir = t.TempDir()
	}
	h, err := NewHTML(cfg, zap.NewNop())
	require.NoError(t, err)
	return h
}

func htmlResponse(url, body string) *crawler.ResponseData {
	resp := &crawler.ResponseData{
		Method:         crawler.MethodGet,
		URL:            url,
		HTTPStatusCode: 200,
		MimeType:       "text/html",
	}
	resp.SetBody([]byte(body))
	return resp
}

func childURLs(r *crawler.ResultData) []string {
	out := make([]string, 0, len(r.ChildURLs))
	for _, c := range r.ChildURLs {
		out = append(out, c.URL)
	}
	sort.Strings(out)
	return out
}

func assertSpoolEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "spooled body must be removed")
}

func TestTransformBaseHrefWithWWWPrefix(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{})

	body := `<html><head><base href="www.example.com/"></head>
<body><a href="/p?q=1">p</a></body></html>`
	result, err := h.Transform(context.Background(), htmlResponse("http://orig.com/dir/page.html", body))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://www.example.com/p?q=1"}, childURLs(result))
}

func TestTransformExtractsAndNormalizesLinks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	h := newHTML(t, Config{TempDir: dir})

	body := `<html><body>
<a href="a/../b.html#frag">b</a>
<a href="?page=2">next</a>
<a href="javascript:void(0)">js</a>
<a href="MAILTO:me@example.com">mail</a>
<a href="has space.html">space</a>
<a href="http://other.com//x//y">other</a>
<img src="img/logo.png">
<a href="/dir/page.html">self</a>
<a href="/dir/page.html/">self variant</a>
<a>no href</a>
</body></html>`
	result, err := h.Transform(context.Background(), htmlResponse("http://x.com/dir/page.html", body))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"http://other.com/x/y",
		"http://x.com/dir/b.html",
		"http://x.com/dir/img/logo.png",
		"http://x.com/dir/page.html?page=2",
	}, childURLs(result))
	assert.Equal(t, DefaultName, result.TransformerName)
	assert.Equal(t, body, string(result.Data))
	assertSpoolEmpty(t, dir)
}

func TestTransformKeepDuplicateVariant(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{KeepDuplicateVariant: true})

	body := `<a href="/dir/">self</a><a href="/dir">variant</a>`
	result, err := h.Transform(context.Background(), htmlResponse("http://x.com/dir/", body))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x.com/dir"}, childURLs(result))
}

func TestTransformDetectsShiftJIS(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{})

	page := `<html><head><meta http-equiv="Content-Type" content="text/html; charset=Shift_JIS"></head>` +
		`<body><a href="/日本.html">日本</a></body></html>`
	encoded, err := japanese.ShiftJIS.NewEncoder().String(page)
	require.NoError(t, err)

	resp := htmlResponse("http://x.com/", encoded)
	result, err := h.Transform(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, "Shift_JIS", resp.CharSet)
	assert.Equal(t, "Shift_JIS", result.Encoding)
	assert.Equal(t, []string{"http://x.com/%93%FA%96%7B.html"}, childURLs(result))

	rendered, err := h.RenderStored(&crawler.AccessResultData{
		TransformerName: result.TransformerName,
		Data:            result.Data,
		Encoding:        result.Encoding,
	})
	require.NoError(t, err)
	assert.Equal(t, page, rendered)
}

func TestTransformCharsetFallbacks(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		cfg      Config
		preset   string
		body     string
		expected string
	}{
		{"garbled token", Config{}, "", `<meta content="text/html; charset=x-garbled-zz">`, "UTF-8"},
		{"no token no default", Config{}, "ISO-8859-1", `<p>plain</p>`, "UTF-8"},
		{"default applied", Config{DefaultEncoding: "EUC-JP"}, "", `<p>plain</p>`, "EUC-JP"},
		{"response charset kept", Config{DefaultEncoding: "EUC-JP"}, "ISO-8859-1", `<p>plain</p>`, "ISO-8859-1"},
		{"unsupported default", Config{DefaultEncoding: "nope"}, "", `<p>plain</p>`, "UTF-8"},
		{"alias", Config{CharsetAliases: map[string]string{"x-sjis": "Shift_JIS"}}, "", `; charset=x-sjis`, "Shift_JIS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHTML(t, tc.cfg)
			resp := htmlResponse("http://x.com/", tc.body)
			resp.CharSet = tc.preset
			_, err := h.Transform(context.Background(), resp)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, resp.CharSet)
		})
	}
}

func TestTransformCharsetTokenBeyondPreloadIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{PreloadSize: 16})

	resp := htmlResponse("http://x.com/", `<p>0123456789abcdef</p><meta content="text/html; charset=Shift_JIS">`)
	_, err := h.Transform(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, "UTF-8", resp.CharSet)
}

func TestTransformRedirectLocation(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{URLConvertRules: []ConvertRule{
		{Pattern: `^http://old\.com/`, Replacement: "http://new.com/"},
	}})

	resp := &crawler.ResponseData{
		URL:            "http://old.com/a",
		HTTPStatusCode: 301,
		MimeType:       "application/octet-stream",
		MetaData:       map[string]string{"Location": "http://old.com/b"},
	}
	resp.SetBody([]byte{})
	result, err := h.Transform(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://new.com/b"}, childURLs(result))
}

func TestTransformConvertRulesApplyToChildren(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{URLConvertRules: []ConvertRule{
		{Pattern: `;sid=[0-9]+`, Replacement: ""},
	}})

	result, err := h.Transform(context.Background(), htmlResponse("http://x.com/", `<a href="/a;sid=42">a</a>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x.com/a"}, childURLs(result))
}

func TestTransformSkipsLinksForNonHTML(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{})

	resp := htmlResponse("http://x.com/", `<a href="/a">a</a>`)
	resp.MimeType = "text/plain"
	result, err := h.Transform(context.Background(), resp)
	require.NoError(t, err)
	assert.Empty(t, result.ChildURLs)
	assert.Equal(t, `<a href="/a">a</a>`, string(result.Data))
}

func TestTransformCustomRulesAndInvalidRuleLogged(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	h, err := NewHTML(Config{
		TempDir: t.TempDir(),
		ChildURLRules: []ChildURLRule{
			{Selector: "div.link", Attr: "data-href"},
			{Selector: "a[", Attr: "href"},
		},
	}, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("invalid child url rule dropped").Len())

	body := `<div class="link" data-href="/d"></div><a href="/ignored">x</a>`
	result, err := h.Transform(context.Background(), htmlResponse("http://x.com/", body))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x.com/d"}, childURLs(result))
}

func TestTransformFileBackedBody(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(src, []byte(`<a href="b.html">b</a>`), 0o600))

	spoolDir := t.TempDir()
	h := newHTML(t, Config{TempDir: spoolDir})
	resp := &crawler.ResponseData{URL: "file://" + filepath.ToSlash(src), MimeType: "text/html"}
	resp.SetBodyFile(src)

	result, err := h.Transform(context.Background(), resp)
	require.NoError(t, err)
	assert.Equal(t, []string{"file://" + filepath.ToSlash(dir) + "/b.html"}, childURLs(result))
	assertSpoolEmpty(t, spoolDir)
	_, err = os.Stat(src)
	require.NoError(t, err, "source file is untouched")
}

func TestTransformWithoutBodyIsAccessError(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{})

	_, err := h.Transform(context.Background(), &crawler.ResponseData{URL: "http://x.com/"})
	require.ErrorIs(t, err, crawler.ErrCrawlAccess)
	_, err = h.Transform(context.Background(), nil)
	require.ErrorIs(t, err, crawler.ErrCrawlAccess)
}

func TestTransformUnreadableBodyRemovesSpool(t *testing.T) {
	t.Parallel()
	spoolDir := t.TempDir()
	h := newHTML(t, Config{TempDir: spoolDir})

	resp := &crawler.ResponseData{URL: "file:///missing"}
	resp.SetBodyFile(filepath.Join(t.TempDir(), "missing.html"))
	_, err := h.Transform(context.Background(), resp)
	require.ErrorIs(t, err, crawler.ErrCrawlAccess)
	assertSpoolEmpty(t, spoolDir)
}

func TestRenderStored(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{})

	text, err := h.RenderStored(&crawler.AccessResultData{TransformerName: DefaultName, Data: []byte("héllo"), Encoding: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, "héllo", text, "unknown encodings fall back to UTF-8")

	_, err = h.RenderStored(&crawler.AccessResultData{TransformerName: "other"})
	require.True(t, errors.Is(err, crawler.ErrTransformerMismatch))

	_, err = h.RenderStored(nil)
	require.Error(t, err)
}

func TestRegistryRender(t *testing.T) {
	t.Parallel()
	h := newHTML(t, Config{})
	reg := NewRegistry(h)

	got, ok := reg.Get(DefaultName)
	require.True(t, ok)
	assert.Same(t, h, got)

	text, err := reg.Render(&crawler.AccessResultData{TransformerName: DefaultName, Data: []byte("x"), Encoding: "UTF-8"})
	require.NoError(t, err)
	assert.Equal(t, "x", text)

	_, err = reg.Render(&crawler.AccessResultData{TransformerName: "missing"})
	require.ErrorIs(t, err, crawler.ErrTransformerMismatch)
}

func TestNewHTMLRejectsInvalidConvertRule(t *testing.T) {
	t.Parallel()
	_, err := NewHTML(Config{URLConvertRules: []ConvertRule{{Pattern: "("}}}, nil)
	require.ErrorIs(t, err, crawler.ErrConfiguration)
}
