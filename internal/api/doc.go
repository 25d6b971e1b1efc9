// Package api hosts the HTTP server, middleware, and handlers for the
// ingestion service. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET|POST /v1/cron/fetch-updates to poll feeds and ingest, guarded by the cron secret.
//   - POST /v1/webhooks/telegram to queue Telegram updates.
//   - /v1/drafts for the moderation queue and /v1/runs for run history,
//     both behind the API key.
package api
