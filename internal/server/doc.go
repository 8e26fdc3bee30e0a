// Package server implements the HTTP surface of the hooky GitHub App webhook
// receiver.
//
// Routes:
//   - GET/HEAD /             info page with the deployed commit
//   - POST /                 primary webhook, handed to the event processor
//   - GET/HEAD /favicon.ico  static icon
//   - POST /marketplace/     marketplace webhook, logged for audit
//   - GET /metrics           Prometheus metrics, when enabled
//
// Both webhook endpoints authenticate the raw body against the
// X-Hub-Signature-256 header (HMAC-SHA256, constant-time comparison). The
// header shape is checked first and a malformed or missing header gets a 422
// with a structured body; a wrong signature gets a 403. Nothing reaches the
// processor or the audit log before the signature checks out.
//
// Every webhook delivery is recorded in the SQLite delivery log (outcomes
// only, never payloads) when one is configured.
package server
