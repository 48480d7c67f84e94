package errors

// Error codes for categorizing errors.
// These codes map to HTTP status codes where applicable.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// Domain-specific error codes

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeServiceUnavailable indicates a downstream service is unavailable.
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// CodeInvalidAnnounce indicates a mesh announce failed decoding or validation.
	CodeInvalidAnnounce = "INVALID_ANNOUNCE"

	// CodeDatabaseError indicates a database operation failed.
	CodeDatabaseError = "DATABASE_ERROR"
)
