package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains/heads"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/nonce"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
)

// RPCClient is the subset of *ethclient.Client used by Client.
type RPCClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
	HeaderByHash(ctx context.Context, hash common.Hash) (*gethtypes.Header, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	SubscribeNewHead(ctx context.Context, ch chan<- *gethtypes.Header) (ethereum.Subscription, error)
}

var (
	_ RPCClient                                                                      = (*ethclient.Client)(nil)
	_ types.TrackerClient[common.Address, common.Hash, common.Hash, *Receipt, Nonce] = (*Client)(nil)
	_ types.TxPublisher[common.Hash]                                                 = (*Client)(nil)
	_ nonce.SequenceClient[common.Address, Nonce]                                    = (*Client)(nil)
	_ heads.Client[*Head, *HeadSubscription, *big.Int, common.Hash]                  = (*Client)(nil)
)

// Client adapts an Ethereum JSON-RPC client to the pending tracker, nonce tracker and head
// listener. Every call is timed and counted per chain.
type Client struct {
	lggr    logger.SugaredLogger
	rpc     RPCClient
	chainID *big.Int
}

func NewClient(lggr logger.Logger, rpc RPCClient, chainID *big.Int) *Client {
	return &Client{
		lggr:    logger.Sugared(logger.Named(lggr, "EVMClient")).With("chainID", chainID.String()),
		rpc:     rpc,
		chainID: chainID,
	}
}

// Dial connects to rawURL and reads the chain ID from the node.
func Dial(ctx context.Context, lggr logger.Logger, rawURL string) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rawURL, err)
	}
	chainID, err := rpc.ChainID(ctx)
	if err != nil {
		rpc.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return NewClient(lggr, rpc, chainID), nil
}

func (c *Client) ConfiguredChainID() *big.Int {
	return c.chainID
}

// TransactionReceipt returns a zero Receipt if the node does not know the receipt.
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	return WithObservedQuery(c.chainID.String(), "TransactionReceipt", func() (*Receipt, error) {
		r, err := c.rpc.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return &Receipt{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash, err)
		}
		return &Receipt{Receipt: r}, nil
	})
}

func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (types.Block, error) {
	return WithObservedQuery(c.chainID.String(), "HeaderByHash", func() (types.Block, error) {
		h, err := c.rpc.HeaderByHash(ctx, hash)
		if err != nil {
			return types.Block{}, fmt.Errorf("failed to get block %s: %w", hash, err)
		}
		return types.Block{
			Number:        h.Number,
			BaseFeePerGas: h.BaseFee,
			Timestamp:     time.Unix(int64(h.Time), 0).UTC(),
		}, nil
	})
}

// SequenceAt returns the account nonce at the latest block. Txes still in the mempool are not
// counted, so a mempool tx never looks consumed.
func (c *Client) SequenceAt(ctx context.Context, addr common.Address) (Nonce, error) {
	return WithObservedQuery(c.chainID.String(), "NonceAt", func() (Nonce, error) {
		n, err := c.rpc.NonceAt(ctx, addr, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to get nonce for %s: %w", addr, err)
		}
		return Nonce(n), nil
	})
}

// PendingSequenceAt returns the account nonce including mempool txes. It is used to hand out
// new nonces.
func (c *Client) PendingSequenceAt(ctx context.Context, addr common.Address) (Nonce, error) {
	return WithObservedQuery(c.chainID.String(), "PendingNonceAt", func() (Nonce, error) {
		n, err := c.rpc.PendingNonceAt(ctx, addr)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce for %s: %w", addr, err)
		}
		return Nonce(n), nil
	})
}

// SendRawTransaction decodes a signed transaction in its binary encoding and broadcasts it.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(gethtypes.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("failed to decode signed tx: %w", err)
	}
	err := WithObservedExec(c.chainID.String(), "SendTransaction", func() error {
		return c.rpc.SendTransaction(ctx, tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	c.lggr.Debugw("Sent transaction", "txHash", tx.Hash(), "nonce", tx.Nonce())
	return tx.Hash(), nil
}

// SubscribeToHeads converts every header the node pushes into a Head for this chain.
func (c *Client) SubscribeToHeads(ctx context.Context) (<-chan *Head, *HeadSubscription, error) {
	headers := make(chan *gethtypes.Header)
	sub, err := c.rpc.SubscribeNewHead(ctx, headers)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}
	out := make(chan *Head)
	s := &HeadSubscription{
		sub:   sub,
		errCh: make(chan error, 1),
		quit:  make(chan struct{}),
	}
	go s.forward(headers, out, c.chainID)
	return out, s, nil
}

// HeadSubscription forwards headers from a go-ethereum subscription as Heads.
type HeadSubscription struct {
	sub   ethereum.Subscription
	errCh chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *HeadSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.sub.Unsubscribe()
	})
}

func (s *HeadSubscription) Err() <-chan error {
	return s.errCh
}

func (s *HeadSubscription) forward(headers <-chan *gethtypes.Header, out chan<- *Head, chainID *big.Int) {
	defer close(s.errCh)
	for {
		select {
		case <-s.quit:
			return
		case err := <-s.sub.Err():
			if err != nil {
				s.errCh <- err
			}
			return
		case h := <-headers:
			select {
			case out <- NewHead(h, chainID):
			case <-s.quit:
				return
			}
		}
	}
}
