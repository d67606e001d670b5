// Package crawler defines the session-scoped crawl model shared by every
// subsystem: queue entries, fetch responses, transformer results and stored
// access results, plus the store, client and transformer contracts the
// adapters implement.
package crawler
