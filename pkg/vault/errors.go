package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates malformed caller input: both or neither of
	// file/url, an oversize payload, or an encrypt flag without a password.
	ErrInvalidRequest = errors.New("vault: invalid request")

	// ErrForbidden indicates the uploader's address is on the block list.
	ErrForbidden = errors.New("vault: uploader ip is blocked")

	// ErrNotFound indicates an unknown or expired token or id.
	ErrNotFound = errors.New("vault: entry not found")

	// ErrPasswordRequired indicates a protected entry was fetched without a password.
	ErrPasswordRequired = errors.New("vault: entry requires a password")

	// ErrIncorrectPassword indicates the supplied password did not verify.
	ErrIncorrectPassword = errors.New("vault: password is incorrect")

	// ErrScanUnavailable indicates the antivirus gate could not deliver a
	// verdict; the upload is rejected rather than silently passed.
	ErrScanUnavailable = errors.New("vault: antivirus scan unavailable")

	// ErrInternal indicates token-space exhaustion, storage I/O failure or
	// another fault the caller cannot correct.
	ErrInternal = errors.New("vault: internal error")
)

// ScanRejectedError is returned when the antivirus gate fails an upload.
// Reason carries the scanner's exit status and message verbatim.
type ScanRejectedError struct {
	Reason string
}

func (e *ScanRejectedError) Error() string {
	return fmt.Sprintf("vault: upload rejected by antivirus scan: %s", e.Reason)
}
