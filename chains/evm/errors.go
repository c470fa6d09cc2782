package evm

import (
	"strings"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr"
)

// fatalSendErrors are geth rejections for transactions that no node will ever accept.
var fatalSendErrors = []string{
	"invalid sender",
	"intrinsic gas too low",
	"exceeds block gas limit",
	"oversized data",
	"max fee per gas less than block base fee",
	"transaction type not supported",
	"invalid chain id",
}

// geth reports a transaction it already holds in its pool as "already known".
const errAlreadyKnown = "already known"

// ClassifySendError extends txmgr.ClassifySendError with geth's fatal rejections.
func ClassifySendError(err error) txmgr.SendResultCode {
	if err == nil {
		return txmgr.SendSuccessful
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, errAlreadyKnown) {
		return txmgr.SendAlreadyKnown
	}
	for _, s := range fatalSendErrors {
		if strings.Contains(msg, s) {
			return txmgr.SendFatal
		}
	}
	return txmgr.ClassifySendError(err)
}
