// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access to the crawl controller. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/run/{start,pause,resume,toggle,cancel} to drive the run.
//   - GET /v1/run/status for counters, outcome and the live run log.
package api
