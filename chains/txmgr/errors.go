package txmgr

import (
	"errors"
	"strings"
)

// ErrMissingHash is reported via OnFailed when a transaction is marked submitted but has no
// hash, which means the broadcast step failed without recording its error.
var ErrMissingHash = errors.New("we had an error while submitting this transaction, please try again")

const (
	warningMessageReconcile = "There was a problem loading this transaction."
	warningMessageResubmit  = "There was an error when resubmitting this transaction."
)

// ignorableResubmitErrors are returned by nodes when a competing broadcast of the same
// transaction is already in flight or already accepted.
var ignorableResubmitErrors = []string{
	"replacement transaction underpriced",
	"known transaction",
	"gas price too low to replace",
	"transaction with the same hash was already imported",
	"gateway timeout",
	"nonce too low",
}

// IsIgnorableResubmitError reports whether a rebroadcast error can be safely ignored.
func IsIgnorableResubmitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range ignorableResubmitErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
