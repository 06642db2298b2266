// Package main hosts the bulkfetch entrypoint.
//
// Architecture overview:
//   - Input: a newline-delimited URL list is read from -input (or input.path, or stdin). Blank lines and lines
//     starting with '#' are skipped; order and duplicates are kept.
//   - Fetch pipeline: internal/fetch runs passes over the pending URLs. Each pass dispatches operations in input order
//     while fewer than fetch.target_concurrency are in flight, and stops dispatching once more than
//     fetch.forbidden_threshold operations have come back 403 or failed in transport. Every in-flight operation is
//     drained before the pass returns. URLs still pending are retried after fetch.inter_pass_backoff.
//   - HTTP: one Colly collector (and one connection pool) is shared by every operation of the run. Optional per-host
//     pacing comes from rate_limit.requests_per_second.
//   - Export: resolved results are written as JSONL plus a summary to the configured BlobStore (local files under
//     data/runs by default, or memory/GCS), optionally inserted into Postgres, and announced on Pub/Sub when a topic is configured.
//   - Observability: zap logs carry run IDs, passes and URLs; the progress hub feeds Prometheus and a run snapshot.
//     With server.enabled the ops API serves /healthz, /readyz, /metrics and /v1/run while the run is active.
//
// Operational notes:
//   - By default retries are unbounded; set fetch.max_passes to give up and report the remaining URLs.
//   - SIGINT/SIGTERM cancels the run. In-flight operations are reset, and everything resolved so far is exported
//     before the process exits non-zero.
//
// Quick checklist:
//   - Configure env vars: FETCHER_FETCH_TARGET_CONCURRENCY, FETCHER_FETCH_FORBIDDEN_THRESHOLD,
//     FETCHER_HTTP_TIMEOUT_SECONDS, storage (FETCHER_STORAGE_*), pubsub and db DSN when persistence beyond local files is
//     required.
//   - Run locally: go run ./cmd/bulkfetch -config config.yaml -input urls.txt
package main
