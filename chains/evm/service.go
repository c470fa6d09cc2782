package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"

	"github.com/smartcontractkit/chainlink-pending-tracker/chains/heads"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/nonce"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr"
	"github.com/smartcontractkit/chainlink-pending-tracker/chains/txmgr/types"
	"github.com/smartcontractkit/chainlink-pending-tracker/config"
	"github.com/smartcontractkit/chainlink-pending-tracker/metrics"
)

type (
	TxStore  = types.TxStore[common.Address, common.Hash, Nonce]
	Notifier = types.Notifier[common.Address, common.Hash, Nonce, *Receipt]
	Txm      = txmgr.Txm[*Head, common.Address, common.Hash, common.Hash, *Receipt, Nonce]
)

// Service runs the pending tracker for one EVM chain: heads from the primary client drive
// resubmission, and rebroadcasts go to the primary and every send-only client.
type Service struct {
	services.Service
	eng *services.Engine

	Nonces *nonce.Tracker[common.Address, common.Hash, Nonce]

	txm         *Txm
	broadcaster heads.Broadcaster[*Head, common.Hash]
	unsubscribe func()
}

func NewService(
	lggr logger.Logger,
	cfg *config.PendingTrackerConfig,
	client *Client,
	sendOnly []*Client,
	txStore TxStore,
	approver types.TxApprover,
	notifier Notifier,
) (*Service, error) {
	if err := cfg.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	chainID := client.ConfiguredChainID().String()

	publishers := []types.TxPublisher[common.Hash]{client}
	for _, c := range sendOnly {
		publishers = append(publishers, c)
	}
	publisher := txmgr.NewMultiPublisher[common.Hash](lggr, chainID, ClassifySendError, 0, publishers...)

	m, err := metrics.NewGenericPendingTrackerMetrics(chainID)
	if err != nil {
		return nil, err
	}

	nonces := nonce.NewTracker[common.Address, common.Hash, Nonce](lggr, client, txStore)
	tracker, err := txmgr.NewPendingTracker[common.Address, common.Hash, common.Hash, *Receipt, Nonce](
		lggr, cfg, client, nonces, txStore, approver, publisher, notifier, m)
	if err != nil {
		return nil, err
	}

	s := &Service{
		Nonces:      nonces,
		txm:         txmgr.NewTxm[*Head](lggr, cfg, tracker),
		broadcaster: heads.NewBroadcaster[*Head, common.Hash](lggr),
	}
	listener := heads.NewListener[*Head, *HeadSubscription, *big.Int, common.Hash](lggr, client, cfg, heads.AsHandler(s.broadcaster))
	s.Service, s.eng = services.Config{
		Name: "EVMPendingTracker",
		NewSubServices: func(logger.Logger) []services.Service {
			return []services.Service{publisher, s.broadcaster, s.txm, listener}
		},
		Start: s.start,
		Close: s.close,
	}.NewServiceEngine(logger.With(lggr, "chainID", chainID))
	return s, nil
}

func (s *Service) start(context.Context) error {
	latest, unsubscribe := s.broadcaster.Subscribe(s.txm)
	s.unsubscribe = unsubscribe
	if latest != nil {
		s.eng.Debugw("Starting from latest head", "blockNum", latest.BlockNumber())
	}
	return nil
}

func (s *Service) close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return nil
}
