package errors

import "errors"

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsInvalidAnnounce checks if an error is a rejected mesh announce.
func IsInvalidAnnounce(err error) bool {
	return GetErrorCode(err) == CodeInvalidAnnounce
}

// IsNoPropagationNode checks if an error signals an empty relay selection.
func IsNoPropagationNode(err error) bool {
	return errors.Is(err, ErrNoPropagationNode)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	return CodeInternal
}
