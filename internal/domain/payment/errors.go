package payment

import "errors"

var (
	// ErrVendorNotWhitelisted matches any NotWhitelistedError via errors.Is.
	ErrVendorNotWhitelisted    = errors.New("payment: vendor is not whitelisted")
	ErrMalformedCredential     = errors.New("payment: malformed buyer credential")
	ErrMalformedAddress        = errors.New("payment: malformed vendor address")
	ErrSubmissionFailed        = errors.New("payment: transfer submission failed")
	ErrConfirmationCheckFailed = errors.New("payment: confirmation check failed")
	ErrConfirmationTimeout     = errors.New("payment: confirmation timed out")
)

// NotWhitelistedError carries the rejected vendor id while keeping the
// wire-visible message stable.
type NotWhitelistedError struct {
	Vendor string
}

func (e *NotWhitelistedError) Error() string { return e.Vendor + " is not whitelisted" }

func (e *NotWhitelistedError) Is(target error) bool { return target == ErrVendorNotWhitelisted }
