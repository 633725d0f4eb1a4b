// Package api hosts the HTTP server, middleware, and handlers of the
// dashboard. Notable routes:
//   - GET / and /indicateurs for the map and indicator pages.
//   - GET /map.png for a headless export of the map.
//   - GET /api/v1/... for indicators, zones, reference layers and history.
//   - POST /api/v1/refresh and /api/v1/upload, behind the API key when enabled.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
