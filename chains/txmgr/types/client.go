package types

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains"
)

// TrackerClient contains the ledger queries needed by the pending tracker.
// Every method may fail with a transient error; callers treat such errors as non-terminal.
type TrackerClient[
	ADDR chains.Hashable,
	TX_HASH chains.Hashable,
	BLOCK_HASH chains.Hashable,
	R ChainReceipt[TX_HASH, BLOCK_HASH],
	SEQ chains.Sequence,
] interface {
	// TransactionReceipt returns the receipt for hash. A receipt that is not (yet) available
	// is reported as a zero receipt (IsZero() == true) and a nil error.
	TransactionReceipt(ctx context.Context, hash TX_HASH) (R, error)
	// BlockByHash returns the block containing a receipt, used for base fee context.
	BlockByHash(ctx context.Context, hash BLOCK_HASH) (Block, error)
	// SequenceAt returns the number of txes from addr included in the latest block, i.e. the
	// lowest sequence not yet consumed on chain. Txes waiting in the mempool are not counted.
	SequenceAt(ctx context.Context, addr ADDR) (SEQ, error)
}

// TxPublisher broadcasts an already signed transaction.
type TxPublisher[TX_HASH chains.Hashable] interface {
	// SendRawTransaction broadcasts raw and returns the hash the network observed.
	SendRawTransaction(ctx context.Context, raw []byte) (TX_HASH, error)
}

// TxApprover (re)signs a transaction that has no signed payload yet.
type TxApprover interface {
	ApproveTx(ctx context.Context, id uuid.UUID) error
}

// Block is the subset of block data the tracker reports alongside a confirmation.
type Block struct {
	Number *big.Int
	// BaseFeePerGas is nil on chains or blocks without a base fee.
	BaseFeePerGas *big.Int
	Timestamp     time.Time
}

type ChainReceipt[THASH, BHASH chains.Hashable] interface {
	GetStatus() uint64
	GetTxHash() THASH
	GetBlockNumber() *big.Int
	IsZero() bool
	GetFeeUsed() uint64
	GetTransactionIndex() uint
	GetBlockHash() BHASH
}
