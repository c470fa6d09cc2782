package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/guregu/null.v4"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// TxState is the lifecycle state of a tracked transaction as recorded by the store.
type TxState string

// TxWarning is the last non-terminal problem observed for a transaction.
type TxWarning struct {
	Err     error
	Message string
}

func (w *TxWarning) String() string {
	if w == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %v", w.Message, w.Err)
}

// Tx is a submitted-but-unconfirmed transaction. It is owned by the TxStore; the pending tracker
// only reads it and annotates Warning, FirstRetryBlockNum.
type Tx[ADDR chains.Hashable, THASH chains.Hashable, SEQ chains.Sequence] struct {
	ID          uuid.UUID
	FromAddress ADDR
	// Sequence is nil until a nonce has been assigned.
	Sequence *SEQ
	// SignedRawTx is nil until the transaction has been signed.
	SignedRawTx []byte
	State       TxState
	// Hash is the hash the network reported when the transaction was broadcast.
	Hash    *THASH
	Warning *TxWarning
	// FirstRetryBlockNum is the block at which resubmission was first considered.
	FirstRetryBlockNum null.Int
	RetryCount         int
	Error              null.String
}

// GetError returns the terminal error recorded for the transaction, if any.
func (tx *Tx[ADDR, THASH, SEQ]) GetError() error {
	if tx == nil || !tx.Error.Valid {
		return nil
	}
	return errors.New(tx.Error.String)
}

// HasSequence reports whether tx has a nonce equal to seq.
func (tx *Tx[ADDR, THASH, SEQ]) HasSequence(seq *SEQ) bool {
	if tx.Sequence == nil || seq == nil {
		return false
	}
	return (*tx.Sequence).Int64() == (*seq).Int64()
}

func (tx Tx[ADDR, THASH, SEQ]) String() string {
	hash, seq := "<nil>", "<nil>"
	if tx.Hash != nil {
		hash = (*tx.Hash).String()
	}
	if tx.Sequence != nil {
		seq = (*tx.Sequence).String()
	}
	return fmt.Sprintf("Tx{ID: %s, FromAddress: %s, Sequence: %s, State: %s, Hash: %s, RetryCount: %d}",
		tx.ID, tx.FromAddress, seq, tx.State, hash, tx.RetryCount)
}
