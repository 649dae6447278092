package visa

import "errors"

// Sentinel errors for visa operations.
var (
	ErrApplicantNotFound = errors.New("applicant not found")
	ErrInvalidApplicant  = errors.New("invalid applicant")
	ErrInvalidSettings   = errors.New("invalid settings")
)
