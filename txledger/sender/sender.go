// Package sender implements the gas check, send and resend pipeline.
//
// A transaction enters the ledger through Enqueue, then flows through
// Process: CheckGas marks it READYSEND (or WAITFORGAS and issues a refill),
// and Send submits it. Follow-on work (the tail of a send batch, background
// refills, resends) runs on the task pool.
package sender

import (
	"context"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/chains/evm"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/metrics"
	"github.com/pushchain/txledger/txledger/nonce"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/store"
	"github.com/pushchain/txledger/txledger/task"
)

// Config holds the pipeline parameters
type Config struct {
	// MinBalance is the safety threshold below which a background refill is
	// requested
	MinBalance *big.Int
	// RefillAmount is the value of a refill transaction
	RefillAmount *big.Int
	// MaxResendAttempts bounds automatic resends per (sender, nonce)
	MaxResendAttempts int
	// ResendGasFactor is the default price multiplier on resend
	ResendGasFactor float64
	// MaxGasPrice caps resend prices; nil means no cap
	MaxGasPrice *big.Int
}

// Sender runs the pipeline for every custodial address of one chain
type Sender struct {
	chain        *common.Context
	queue        *queue.Queue
	reservations *nonce.Reservations
	locks        *lock.Locker
	builder      *evm.TxBuilder
	pool         *task.Pool
	metrics      *metrics.Metrics
	cfg          Config
	logger       zerolog.Logger
}

// New creates a Sender
func New(
	chain *common.Context,
	q *queue.Queue,
	reservations *nonce.Reservations,
	locks *lock.Locker,
	builder *evm.TxBuilder,
	pool *task.Pool,
	m *metrics.Metrics,
	cfg Config,
	logger zerolog.Logger,
) *Sender {
	if cfg.MinBalance == nil {
		cfg.MinBalance = new(big.Int)
	}
	if cfg.RefillAmount == nil {
		cfg.RefillAmount = new(big.Int)
	}
	if cfg.ResendGasFactor < 1 {
		cfg.ResendGasFactor = 1
	}
	return &Sender{
		chain:        chain,
		queue:        q,
		reservations: reservations,
		locks:        locks,
		builder:      builder,
		pool:         pool,
		metrics:      m,
		cfg:          cfg,
		logger:       logger.With().Str("component", "sender").Logger(),
	}
}

// Builder returns the transaction builder used for signing
func (s *Sender) Builder() *evm.TxBuilder { return s.builder }

// Enqueue records a signed transaction and its metadata in one database
// transaction
func (s *Sender) Enqueue(signed *evm.Signed, entry queue.CacheEntry) (*store.Otx, error) {
	var row *store.Otx
	err := s.queue.Transaction(func(q *queue.Queue) error {
		var err error
		row, err = q.Create(queue.NewOtx{
			Sender:   signed.From.Hex(),
			Nonce:    signed.Tx.Nonce(),
			TxHash:   signed.Hash,
			SignedTx: signed.Raw,
		})
		if err != nil {
			return err
		}
		_, err = q.CacheTx(signed.Hash, entry)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Process runs CheckGas then Send for hashes, which must share a sender and
// be in nonce order. An out of gas condition is not an error here: the rows
// wait for the refill and are resumed by the block syncer.
func (s *Sender) Process(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	head, err := s.queue.Get(hashes[0])
	if err != nil {
		return err
	}
	required, err := s.requiredGas(hashes)
	if err != nil {
		return err
	}

	err = s.CheckGas(ctx, head.Sender, hashes, required)
	if isOutOfGas(err) {
		s.logger.Info().
			Str("sender", head.Sender).
			Int("count", len(hashes)).
			Msg("transactions waiting for gas")
		return nil
	}
	if err != nil {
		return err
	}
	return s.Send(ctx, hashes)
}

// Submit runs Process on the task pool and returns its future
func (s *Sender) Submit(name string, hashes []string) *task.Future {
	return s.pool.Submit(name, func(ctx context.Context) (any, error) {
		return hashes, s.Process(ctx, hashes)
	})
}

// requiredGas sums the fee and value of the stored transactions
func (s *Sender) requiredGas(hashes []string) (*big.Int, error) {
	total := new(big.Int)
	for _, h := range hashes {
		row, err := s.queue.Get(h)
		if err != nil {
			return nil, err
		}
		tx, err := evm.DecodeSigned(row.SignedTx)
		if err != nil {
			return nil, err
		}
		total.Add(total, tx.Cost())
	}
	return total, nil
}
