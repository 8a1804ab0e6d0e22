// Package api hosts the HTTP server used in watch mode. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/targets, /v1/state, /v1/queue and /v1/runs for inspection.
//   - POST /v1/runs/{mode} to trigger a check, light or confirm run.
package api
