// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/tasks for enqueueing crawl work.
//   - GET /v1/content/{urlKey} for stored versions and labels.
//   - PUT/DELETE /v1/blocklist/{host} for host suppression.
package api
