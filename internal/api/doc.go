// Package api hosts the operator HTTP surface of a fetch run. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/run for the latest run snapshot.
package api
