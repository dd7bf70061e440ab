// Package errors provides structured error handling with error codes for the portal.
//
// Every service returns *Error values for the expected failure modes so the
// HTTP layer can render a precise message:
//
//	errors.NotFound("impersonation session", id)   // 404
//	errors.Conflict("session is not active")        // 409
//	errors.MissingRequired("session_id")            // 400
//	errors.OutOfRange("duration_minutes", 0, 1, 480) // 400
//
// Unexpected failures are wrapped with InternalWrap. WriteJSON never leaks the
// wrapped error of an internal failure to the caller; it logs it and returns
// the request id as correlation_id instead.
//
// # Error Inspection
//
//	if errors.IsCode(err, errors.ErrCodeConflict) {
//		// a concurrent end or sweep already moved the session out of active
//	}
//
//	status := errors.MapErrorCodeToHTTPStatus(errors.GetCode(err))
package errors
