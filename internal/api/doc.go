// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readiness follows the
//     portal prober.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/search for keyword-set searches against the decision portal.
package api
