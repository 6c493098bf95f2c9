// Package api hosts the HTTP server, middleware, and REST handlers that expose
// the acquisition pipeline. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/documents/acquire and GET /v1/documents/content for fetching.
//   - POST /v1/readability/... and /v1/failures/... for the pure evaluators.
//   - POST /v1/verify for the end-to-end row check.
//   - /v1/cache/... for cache administration via the CacheAdmin interface.
//   - GET /v1/proxy for the server-side intermediary when it is enabled.
package api
