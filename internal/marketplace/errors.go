package marketplace

import "errors"

var (
	ErrNotAuthorized         = errors.New("not authorized")
	ErrCommitmentMismatch    = errors.New("commitment mismatch")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidState          = errors.New("invalid state")
	ErrNothingToSettle       = errors.New("nothing to settle")
	ErrInvalidTerms          = errors.New("invalid terms")
	ErrInvalidCloseout       = errors.New("unknown closeout type")
	ErrListingNotFound       = errors.New("listing not found")
)
