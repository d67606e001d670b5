// Package filter implements the per-session include/exclude URL filter.
//
// Patterns are regular expressions matched against the whole URL. Before a
// session is attached they accumulate locally; Init flushes them to the
// session's URLFilterStore, and every Match re-reads the store so patterns
// added mid-crawl apply to URLs that are already queued. Compiled expressions
// are cached by pattern text.
package filter
