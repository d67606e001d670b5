// Package charset resolves character set names to encodings and converts
// between them.
package charset

import (
	"fmt"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// UTF8 is the canonical name used whenever nothing better is known.
const UTF8 = "UTF-8"

// Lookup resolves name through the IANA registry first and the WHATWG label
// table second. ok is false when no implementation exists for name.
func Lookup(name string) (enc encoding.Encoding, canonical string, ok bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", false
	}
	if e, err := ianaindex.IANA.Encoding(name); err == nil && e != nil {
		if n, err := ianaindex.IANA.Name(e); err == nil && n != "" {
			return e, n, true
		}
		return e, name, true
	}
	if e, whatwg := charset.Lookup(name); e != nil {
		if n, err := ianaindex.IANA.Name(e); err == nil && n != "" {
			return e, n, true
		}
		return e, whatwg, true
	}
	return nil, "", false
}

// Normalizer maps raw charset tokens (from headers or meta tags) to canonical names.
type Normalizer struct {
	aliases map[string]string
}

// NewNormalizer builds a Normalizer. Alias keys are matched case-insensitively.
func NewNormalizer(aliases map[string]string) *Normalizer {
	m := make(map[string]string, len(aliases))
	for k, v := range aliases {
		m[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Normalizer{aliases: m}
}

// Normalize returns the canonical name for token, or "" when unsupported.
func (n *Normalizer) Normalize(token string) string {
	token = strings.TrimSpace(token)
	if alias, ok := n.aliases[strings.ToLower(token)]; ok {
		token = alias
	}
	if _, canonical, ok := Lookup(token); ok {
		return canonical
	}
	return ""
}

// Encoding returns the encoding for name, falling back to UTF-8.
func Encoding(name string) encoding.Encoding {
	if e, _, ok := Lookup(name); ok {
		return e
	}
	return unicode.UTF8
}

// Decode converts data in the named charset to a UTF-8 string.
func Decode(data []byte, name string) (string, error) {
	e, _, ok := Lookup(name)
	if !ok {
		return "", fmt.Errorf("unsupported charset %q", name)
	}
	out, err := e.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", name, err)
	}
	return string(out), nil
}

// PercentEncode escapes every rune for which keep returns false, using the
// byte sequence of that rune in enc. Runes enc cannot represent are escaped as UTF-8.
func PercentEncode(s string, keep func(rune) bool, enc encoding.Encoding) string {
	if enc == nil {
		enc = unicode.UTF8
	}
	var (
		b       strings.Builder
		encoder = enc.NewEncoder()
	)
	b.Grow(len(s))
	for _, r := range s {
		if keep(r) {
			b.WriteRune(r)
			continue
		}
		raw, err := encoder.String(string(r))
		if err != nil {
			raw = string(r)
		}
		for i := 0; i < len(raw); i++ {
			fmt.Fprintf(&b, "%%%02X", raw[i])
		}
	}
	return b.String()
}
