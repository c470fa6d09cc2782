package evm

import (
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains/heads"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

// Nonce is an account nonce.
type Nonce int64

func (n Nonce) Int64() int64 {
	return int64(n)
}

func (n Nonce) String() string {
	return strconv.FormatInt(int64(n), 10)
}

// Tx is a transaction sent from an EVM account.
type Tx = types.Tx[common.Address, common.Hash, Nonce]

// Receipt wraps a go-ethereum receipt. The zero Receipt stands for a receipt that does not exist
// yet.
type Receipt struct {
	*gethtypes.Receipt
}

var _ types.ChainReceipt[common.Hash, common.Hash] = (*Receipt)(nil)

func (r *Receipt) IsZero() bool {
	return r == nil || r.Receipt == nil
}

func (r *Receipt) GetStatus() uint64 {
	if r.IsZero() {
		return 0
	}
	return r.Status
}

func (r *Receipt) GetTxHash() common.Hash {
	if r.IsZero() {
		return common.Hash{}
	}
	return r.TxHash
}

func (r *Receipt) GetBlockNumber() *big.Int {
	if r.IsZero() {
		return nil
	}
	return r.BlockNumber
}

func (r *Receipt) GetFeeUsed() uint64 {
	if r.IsZero() {
		return 0
	}
	return r.GasUsed
}

func (r *Receipt) GetTransactionIndex() uint {
	if r.IsZero() {
		return 0
	}
	return r.TransactionIndex
}

func (r *Receipt) GetBlockHash() common.Hash {
	if r.IsZero() {
		return common.Hash{}
	}
	return r.BlockHash
}

// Head is a block header tagged with the chain it came from.
type Head struct {
	Number        int64
	Hash          common.Hash
	ParentHash    common.Hash
	BaseFeePerGas *big.Int
	Timestamp     time.Time
	EVMChainID    *big.Int
}

var _ heads.Head[common.Hash, *big.Int] = (*Head)(nil)

// NewHead converts a go-ethereum header. A nil header returns nil.
func NewHead(h *gethtypes.Header, chainID *big.Int) *Head {
	if h == nil {
		return nil
	}
	return &Head{
		Number:        h.Number.Int64(),
		Hash:          h.Hash(),
		ParentHash:    h.ParentHash,
		BaseFeePerGas: h.BaseFee,
		Timestamp:     time.Unix(int64(h.Time), 0).UTC(),
		EVMChainID:    chainID,
	}
}

func (h *Head) BlockNumber() int64 {
	return h.Number
}

func (h *Head) BlockHash() common.Hash {
	return h.Hash
}

func (h *Head) ChainID() *big.Int {
	return h.EVMChainID
}

func (h *Head) HasChainID() bool {
	return h != nil && h.EVMChainID != nil
}

func (h *Head) IsValid() bool {
	return h != nil
}

func (h *Head) String() string {
	if h == nil {
		return "Head{<nil>}"
	}
	return "Head{Number: " + strconv.FormatInt(h.Number, 10) + ", Hash: " + h.Hash.Hex() + "}"
}
