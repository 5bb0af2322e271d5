// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are mapped to HTTP responses via fail() and give clients a stable,
// machine-readable taxonomy next to the human-readable message. Middleware
// that answers before a handler runs (rate limiting, panic recovery,
// idempotency key checks) emits its own codes in the same body shape.
//
// Conventions:
//   - Codes are lowercase snake_case.
//   - Generic codes mirror HTTP status semantics.
//   - Operation codes (create_failed, update_failed, list_failed) mark
//     unexpected server-side failures of a specific endpoint.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "validation_failed",
//	  "message": "request validation failed",
//	  "fields": {"productId": "productId is mandatory"}
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeValidation       = "validation_failed"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Operation-specific:
	ErrCodeCreateFailed = "create_failed"
	ErrCodeUpdateFailed = "update_failed"
	ErrCodeListFailed   = "list_failed"
)
