// Package api hosts the HTTP server, middleware, and REST handlers that
// drive the scan controller. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sites to register a site before scanning it.
//   - /v1/scans/... to start, inspect and control scans.
package api
