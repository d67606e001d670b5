// Package api hosts the admin HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions to start a crawl session in the background.
//   - GET /v1/sessions/{session_id} for frontier and result counts.
//   - POST /v1/sessions/{session_id}/cancel to stop a running session.
//   - DELETE /v1/sessions/{session_id} to remove a finished session's records.
package api
