package customer

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the sync engine. Adapters wrap these with %w so
// callers can classify failures with errors.Is.
var (
	// ErrTransientNetwork covers timeouts, 5xx responses and connection resets.
	ErrTransientNetwork = errors.New("customer: transient network error")
	// ErrMalformedResponse is returned when a payload is not the expected shape.
	ErrMalformedResponse = errors.New("customer: malformed response")
	// ErrValidation aborts processing of a single record.
	ErrValidation = errors.New("customer: validation failed")
	// ErrSoftBusiness is a CRM rejection of a single field value.
	ErrSoftBusiness = errors.New("customer: field rejected by CRM")
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("customer: invalid configuration")
	// ErrCRMRequestFailed is any other CRM failure.
	ErrCRMRequestFailed = errors.New("customer: CRM request failed")
	// ErrNotFound is returned when a cached customer does not exist.
	ErrNotFound = errors.New("customer: not found")
	// ErrUnavailable means a downstream is refusing all calls. It ends a batch.
	ErrUnavailable = errors.New("customer: downstream unavailable")
)

// ErrInvalidEmail is the soft failure raised when the CRM rejects the email field.
var ErrInvalidEmail = fmt.Errorf("%w: invalid email", ErrSoftBusiness)

// ErrAlreadySynced is returned when a customer is marked synced a second time.
var ErrAlreadySynced = fmt.Errorf("%w: already synced", ErrValidation)

// ErrMissingIdentity is returned when none of the identity aliases is present.
var ErrMissingIdentity = fmt.Errorf("%w: identity field missing", ErrValidation)

// IsRecordLevel reports whether err should only abort the current record.
func IsRecordLevel(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrSoftBusiness) || errors.Is(err, ErrCRMRequestFailed)
}
