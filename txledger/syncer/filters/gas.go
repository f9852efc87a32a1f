package filters

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/syncer"
	"github.com/pushchain/txledger/txledger/task"
)

// GasFilter resumes transactions waiting for gas once a refill to their
// sender is mined
type GasFilter struct {
	chain  *common.Context
	queue  *queue.Queue
	sender *sender.Sender
	pool   *task.Pool
	logger zerolog.Logger
}

// NewGasFilter creates a GasFilter
func NewGasFilter(chain *common.Context, q *queue.Queue, s *sender.Sender, pool *task.Pool, logger zerolog.Logger) *GasFilter {
	return &GasFilter{
		chain:  chain,
		queue:  q,
		sender: s,
		pool:   pool,
		logger: logger.With().Str("component", "gas_filter").Logger(),
	}
}

func (f *GasFilter) Name() string { return NameGas }

func (f *GasFilter) Apply(_ context.Context, tx *syncer.Tx) (*task.Future, error) {
	if tx.From != f.chain.GasProvider || tx.Tx.To() == nil || tx.Tx.Value().Sign() == 0 {
		return nil, nil
	}
	if tx.Receipt.Status != types.ReceiptStatusSuccessful {
		return nil, nil
	}

	ok, cache, err := f.queue.IsRefill(tx.Tx.Hash().Hex(), f.chain.GasProvider.Hex())
	if errors.Is(err, lerrors.ErrIntegrity) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	recipient := cache.Recipient
	f.logger.Info().
		Str("tx_hash", tx.Tx.Hash().Hex()).
		Str("recipient", recipient).
		Msg("refill mined, resuming waiting transactions")
	return f.pool.Submit("resume_waiting", func(ctx context.Context) (any, error) {
		return nil, f.sender.ResumeWaiting(ctx, recipient)
	}), nil
}
