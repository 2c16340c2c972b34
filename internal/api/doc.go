// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sessions to start or resume a crawl session.
//   - GET /v1/sessions and /v1/sessions/{id} for session state and frontier
//     counters.
//   - POST /v1/sessions/{id}/cancel to stop a running session.
package api
