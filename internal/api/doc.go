// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET / renders the notice page.
//   - GET /api/notices returns the same list as JSON.
//   - GET /update-data refreshes the mirror (store variant only).
//   - GET /api-docs and /api-docs/openapi.json describe the API.
//   - GET /healthz / readyz for health checks and /metrics for Prometheus scraping.
package api
