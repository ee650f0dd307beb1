// Package api hosts the HTTP trigger for scheduled runs. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to execute one pipeline run synchronously.
package api
