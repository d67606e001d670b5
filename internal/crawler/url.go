package crawler

import (
	"regexp"
	"strings"
)

var (
	jsessionIDPattern = regexp.MustCompile(`;jsessionid=[a-zA-Z0-9.]*`)
	parentDirPattern  = regexp.MustCompile(`/[^/]+/\.\./`)
)

// NormalizeURL cleans a discovered address so equivalent spellings collapse.
// It strips the fragment and any ;jsessionid, collapses /./ and /segment/../,
// and squeezes repeated slashes outside the scheme separator. An address that
// contains a literal space is rejected and the empty string is returned.
// The result is a fixed point: NormalizeURL(NormalizeURL(u)) == NormalizeURL(u).
func NormalizeURL(raw string) string {
	current := strings.TrimSpace(raw)
	// Every pass that changes the address shortens it, so the loop ends.
	for {
		next := normalizeOnce(current)
		if next == current || next == "" {
			return next
		}
		current = next
	}
}

func normalizeOnce(u string) string {
	if idx := strings.IndexByte(u, '#'); idx >= 0 {
		u = u[:idx]
	}
	for strings.Contains(u, "/./") {
		u = strings.ReplaceAll(u, "/./", "/")
	}
	if strings.Contains(u, ";jsessionid") {
		if loc := jsessionIDPattern.FindStringIndex(u); loc != nil {
			u = u[:loc[0]] + u[loc[1]:]
		}
	}
	if strings.ContainsRune(u, ' ') {
		return ""
	}
	old := ""
	for strings.Contains(u, "/../") && u != old {
		old = u
		if loc := parentDirPattern.FindStringIndex(u); loc != nil {
			u = u[:loc[0]] + "/" + u[loc[1]:]
		}
	}
	return squeezeSlashes(u)
}

// squeezeSlashes collapses runs of '/' to one, except a run right after ':'
// or at the start of u.
func squeezeSlashes(u string) string {
	var b strings.Builder
	b.Grow(len(u))
	for i := 0; i < len(u); i++ {
		c := u[i]
		if c != '/' {
			b.WriteByte(c)
			continue
		}
		j := i
		for j < len(u) && u[j] == '/' {
			j++
		}
		if i == 0 || u[i-1] == ':' {
			b.WriteString(u[i:j])
		} else {
			b.WriteByte('/')
		}
		i = j - 1
	}
	return b.String()
}

// DuplicateVariant toggles the trailing slash of url.
func DuplicateVariant(url string) string {
	if strings.HasSuffix(url, "/") {
		return strings.TrimSuffix(url, "/")
	}
	return url + "/"
}

// IsURLChar reports whether c may appear unescaped in a child URL.
func IsURLChar(c rune) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.ContainsRune(".-*_:/+%=&?#[]@~!$'(),;", c)
}
