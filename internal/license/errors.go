package license

import "errors"

// Rejection codes returned to agents in the verify response body.
// Business rejections are not transport errors; the agent retries on
// a schedule and needs a stable machine-readable reason.
const (
	CodeInvalidKey         = "INVALID_KEY"
	CodeExpired            = "EXPIRED"
	CodeSuspended          = "SUSPENDED"
	CodeCancelled          = "CANCELLED"
	CodeMaxAccountsReached = "MAX_ACCOUNTS_REACHED"
	CodeMalformedPayload   = "MALFORMED_PAYLOAD"
)

var (
	// ErrNotFound is returned by admin operations targeting a
	// license that does not exist
	ErrNotFound = errors.New("license not found")

	// ErrStateMismatch is returned when an admin transition is not
	// legal from the license's current status, such as reactivating
	// a cancelled license
	ErrStateMismatch = errors.New("operation not allowed in current license state")

	// ErrPlanNotFound is returned when issuing against an unknown
	// or inactive plan
	ErrPlanNotFound = errors.New("subscription plan not found")
)
