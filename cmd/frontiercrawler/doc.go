// Package main hosts the frontiercrawler entrypoint.
//
// Architecture overview:
//   - Frontier: internal/frontier.Manager owns one session's task pool over a
//     frontier.Store (memory, Postgres via pgx, or a local SQLite file). Tasks are
//     claimed under a lease; a sweeper returns expired leases to the pool, and
//     every finished task leaves an AccessResult in the session ledger.
//   - Workers: internal/worker claims a task, checks robots directives, waits out
//     the origin's crawl delay, attaches credentials, and fetches through the
//     retrying fetch.Executor. Responses are routed to a content handler; HTML
//     pages feed new links back into the frontier.
//   - Transports: colly serves http/https, a file transport serves file:// and
//     lists directories as child URLs.
//   - Sessions: internal/session.Runner creates or resumes sessions and drives
//     the worker pool through internal/dispatcher until the frontier is empty.
//   - Persistence & fanout: bodies are written to the configured BlobStore
//     (memory/local/GCS) and, when a topic is set, announced on Pub/Sub.
//
// Commands:
//   - serve: HTTP API (POST /v1/sessions, GET /v1/sessions/{id},
//     POST /v1/sessions/{id}/cancel) plus /healthz, /readyz and /metrics.
//   - crawl: one session in the foreground. SIGINT cancels it; rerun with
//     --session to resume from the persisted frontier.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_SERVER_PORT, CRAWLER_CRAWLER_WORKERS,
//     CRAWLER_FRONTIER_BACKEND (memory|postgres|sqlite), CRAWLER_DATABASE_DSN,
//     CRAWLER_SQLITE_PATH, CRAWLER_STORAGE_PROVIDER, CRAWLER_PUBSUB_PROVIDER.
//   - Run locally: go run ./cmd/frontiercrawler crawl --config config.yaml https://example.com/
package main
