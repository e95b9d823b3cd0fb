// Package api hosts the status server of a running crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for per-phase item counts.
//   - GET /v1/items?state=pending|downloaded|failed&limit=N for item records.
package api
