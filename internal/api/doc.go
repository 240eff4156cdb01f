// Package api hosts the ops HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the latest poll cycle.
//   - GET /v1/alerts?hours=N for recently delivered alerts.
package api
