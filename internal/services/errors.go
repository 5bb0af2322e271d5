// Package services defines the business logic for complaints.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Complaint-related errors.
var (
	// ErrComplaintNotFound indicates that no complaint exists with the
	// requested id.
	ErrComplaintNotFound = errors.New("complaint not found")

	// ErrInvalidComplaint is returned when a required field (product id,
	// content or complainant) is blank.
	ErrInvalidComplaint = errors.New("invalid complaint")
)
