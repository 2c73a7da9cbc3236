// Package api is the REST client for the chat backend.
//
// # Overview
//
// Client is the contract the session components depend on. HTTPClient
// implements it over net/http: every request carries the bearer token from
// a TokenSource, is bounded by a timeout, and idempotent GETs are retried
// with exponential backoff when the failure is transient.
//
// Responses are validated before they leave the package, so callers only
// ever see well-formed models.
//
// # Error Handling
//
// HTTP statuses and transport failures are mapped to sentinels matched with
// errors.Is:
//
//   - ErrUnavailable: 5xx, 429, timeouts, connection failures. Always
//     wrapped in a *RetryableError.
//   - ErrUnauthorized: 401, 403, or an expired token.
//   - ErrNotFound: 404.
//   - ErrMalformedPayload: a body that does not decode or validate.
package api
