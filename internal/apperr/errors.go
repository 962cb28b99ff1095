// Package apperr is the error taxonomy shared by every service. Handlers
// translate these sentinels to HTTP status codes exactly once, at the
// boundary, via errors.Is — the same check AuthService applies to
// gorm.ErrRecordNotFound.
package apperr

import "errors"

var (
	ErrAuthInvalid          = errors.New("authentication invalid")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrAmbiguousIdentifier  = errors.New("identifier is ambiguous")
	ErrValidation           = errors.New("validation error")
	ErrChunkHashMismatch    = errors.New("chunk hash mismatch")
	ErrOverallHashMismatch  = errors.New("overall hash mismatch")
	ErrStaleState           = errors.New("stale state")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrConversionFailed     = errors.New("conversion failed")
)
