// Package main hosts the allotment checker entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the allotment check endpoint, the IPO catalog and
//     admin-only registrar and analytics views. Requests carry investor identifiers only as far as the fetch engine.
//   - Check flow: internal/allotment.Service consults the per-client rate governor (in-memory sliding windows or
//     Redis), validates identifiers, resolves the IPO and its registrar from the record store, then runs exactly one
//     registrar request through internal/engine.
//   - Fetch pipeline: the engine builds the registrar URL from the endpoint pattern, paces it per registrar host,
//     fetches it through Colly (or headless Chrome for render: true registrars), looks for captcha challenges and
//     normalizes the body with goquery selectors or gjson paths.
//   - Persistence & fanout: an anonymized audit row (IPO id, registrar id, status, error type) goes to the record
//     store (memory or Postgres) and a matching event is published to Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler; OpenTelemetry spans wrap every fetch.
//
// Operational notes:
//   - PAN, application number, DP id and client id are never logged, recorded or published. Client addresses are
//     logged as salted SHA-256 tokens.
//   - Cloud Run: the HTTP server listens on the configured port (overridable via PORT) and drains on SIGTERM.
//
// Quick checklist:
//   - Configure env vars: ALLOTMENT_SERVER_PORT or PORT, ALLOTMENT_FETCH_TIMEOUT_SECONDS, ALLOTMENT_RATELIMIT_*,
//     ALLOTMENT_REDIS_URL, ALLOTMENT_DATABASE_DSN, ALLOTMENT_PUBSUB_PROJECT_ID/TOPIC_NAME, ALLOTMENT_AUTH_API_KEY.
//   - Run locally: go run ./cmd/allotmentd serve --config config.yaml
//   - One-off check: go run ./cmd/allotmentd check --config config.yaml --ipo acme-ltd --pan ABCDE1234F
package main
