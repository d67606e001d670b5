package crawler

import "strings"

// DefaultMaxContentLength caps content when no per-type limit applies.
const DefaultMaxContentLength int64 = 10 * 1024 * 1024

// ContentLengthLimits resolves the maximum accepted size for a MIME type.
type ContentLengthLimits struct {
	Default int64
	ByMIME  map[string]int64
}

// MaxLength returns the limit for mimeType, falling back to Default.
func (l ContentLengthLimits) MaxLength(mimeType string) int64 {
	key := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.IndexByte(key, ';'); idx >= 0 {
		key = strings.TrimSpace(key[:idx])
	}
	if limit, ok := l.ByMIME[key]; ok && limit > 0 {
		return limit
	}
	if l.Default > 0 {
		return l.Default
	}
	return DefaultMaxContentLength
}

// Largest returns the highest limit any MIME type can reach.
func (l ContentLengthLimits) Largest() int64 {
	largest := l.MaxLength("")
	for _, limit := range l.ByMIME {
		largest = max(largest, limit)
	}
	return largest
}
