package service

import (
	"errors"

	"github.com/restolabs/possync/internal/models"
	"github.com/restolabs/possync/internal/repository"
	"github.com/restolabs/possync/internal/toast"
	"github.com/restolabs/possync/internal/vault"
)

// Retryable reports whether a job-level error is worth another attempt.
// Bad credentials, undecryptable secrets, and requests the vendor rejects
// outright will not get better on retry; everything else (network, 5xx,
// store outages) might.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, toast.ErrAuthenticationFailed),
		errors.Is(err, toast.ErrInvalidRequest),
		errors.Is(err, vault.ErrDecryptionFailed),
		errors.Is(err, repository.ErrCredentialsNotFound):
		return false
	}
	return true
}

// ErrorCode maps a job-level error to the code stored on the job record.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, toast.ErrAuthenticationFailed):
		return models.ErrCodeAuthFailed
	case errors.Is(err, vault.ErrDecryptionFailed):
		return models.ErrCodeDecrypt
	case errors.Is(err, ErrStoreUnavailable):
		return models.ErrCodeStore
	default:
		return models.ErrCodeVendor
	}
}
