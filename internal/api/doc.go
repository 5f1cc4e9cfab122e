// Package api hosts the HTTP server, middleware, and REST handlers for the
// allotment checker. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/allotment/check to run one registrar lookup.
//   - GET /api/ipo/live and /api/ipo/{slug} for the IPO catalog.
//   - GET /api/admin/registrars and /api/admin/checks/summary behind the
//     X-API-Key header when auth is enabled.
package api
