package txmgr

import (
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

const (
	TxUnapproved = types.TxState("unapproved")
	TxApproved   = types.TxState("approved")
	TxSigned     = types.TxState("signed")
	TxSubmitted  = types.TxState("submitted")
	TxConfirmed  = types.TxState("confirmed")
	TxDropped    = types.TxState("dropped")
	TxFailed     = types.TxState("failed")
)

// IsFinal reports whether no further notification is expected for a transaction in state.
func IsFinal(state types.TxState) bool {
	switch state {
	case TxConfirmed, TxDropped, TxFailed:
		return true
	default:
		return false
	}
}
