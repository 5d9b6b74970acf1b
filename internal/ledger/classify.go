package ledger

import "strings"

// ErrorClass decides whether a failed submission is worth another attempt
type ErrorClass string

const (
	Transient ErrorClass = "transient"
	Permanent ErrorClass = "permanent"
)

const (
	DetailSelfPayment   = "Cannot send payment to yourself"
	DetailNoCredential  = "No secret key found for this account"
	DetailBadSequence   = "Bad sequence number. Try again."
	DetailBadAuth       = "Authentication failed. The signing key may be incorrect."
	detailFailedPrefix  = "Transaction failed: "
	detailBuildFailed   = "failed to build transaction: "
	detailUnknownReason = "unknown reason"
)

var permanentMarkers = []string{
	DetailSelfPayment,
	"No secret key found",
	// the same fields build the same invalid envelope every time
	detailBuildFailed,
}

// Classify maps a failure detail to its class. Anything not known to be
// permanent is retried.
func Classify(detail string) ErrorClass {
	for _, marker := range permanentMarkers {
		if strings.Contains(detail, marker) {
			return Permanent
		}
	}
	return Transient
}
