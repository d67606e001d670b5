package charset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
)

func TestLookup(t *testing.T) {
	t.Parallel()

	_, name, ok := Lookup("shift_jis")
	require.True(t, ok)
	assert.Equal(t, "Shift_JIS", name)

	_, name, ok = Lookup("utf8")
	require.True(t, ok)
	assert.Equal(t, UTF8, name)

	_, _, ok = Lookup("no-such-charset")
	assert.False(t, ok)
	_, _, ok = Lookup("")
	assert.False(t, ok)
}

func TestNormalizerAliases(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(map[string]string{"X-SJIS": "Shift_JIS"})
	assert.Equal(t, "Shift_JIS", n.Normalize("x-sjis"))
	assert.Equal(t, "Shift_JIS", n.Normalize("Shift_JIS"))
	assert.Empty(t, n.Normalize("garbled!!"))
}

func TestDecode(t *testing.T) {
	t.Parallel()

	sjis, err := japanese.ShiftJIS.NewEncoder().String("日本")
	require.NoError(t, err)
	got, err := Decode([]byte(sjis), "Shift_JIS")
	require.NoError(t, err)
	assert.Equal(t, "日本", got)

	_, err = Decode([]byte("x"), "bogus")
	require.Error(t, err)
}

func TestPercentEncode(t *testing.T) {
	t.Parallel()

	ascii := func(r rune) bool { return r < 0x80 && r != ' ' }
	assert.Equal(t, "/a%20b/%E6%97%A5", PercentEncode("/a b/日", ascii, nil))
	assert.Equal(t, "/%93%FA", PercentEncode("/日", ascii, japanese.ShiftJIS))
	assert.Equal(t, "plain", PercentEncode("plain", ascii, Encoding("UTF-8")))
}
