// Package syncer walks blocks and hands every transaction to an ordered list
// of filters. The head syncer follows the chain tip; history syncers replay a
// fixed range and stop at its end. Cursors are persisted after every
// transaction so a restart resumes at the next unprocessed one.
package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/metrics"
	"github.com/pushchain/txledger/txledger/task"
)

// maxBlocksPerTick bounds how far the head syncer catches up before sleeping
const maxBlocksPerTick = 100

// Tx is a mined transaction handed to filters
type Tx struct {
	Block   *types.Block
	Tx      *types.Transaction
	Index   uint
	From    ethcommon.Address
	Receipt *types.Receipt
}

// Filter inspects a mined transaction. A non-nil future claims the
// transaction and stops the remaining filters.
type Filter interface {
	Name() string
	Apply(ctx context.Context, tx *Tx) (*task.Future, error)
}

// Syncer processes blocks chosen by a Driver
type Syncer struct {
	role     string
	chain    *common.Context
	driver   Driver
	cursors  *CursorStore
	filters  []Filter
	interval time.Duration
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a Syncer. The cursor of role must exist.
func New(
	role string,
	chain *common.Context,
	driver Driver,
	cursors *CursorStore,
	filters []Filter,
	interval time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Syncer {
	return &Syncer{
		role:     role,
		chain:    chain,
		driver:   driver,
		cursors:  cursors,
		filters:  filters,
		interval: interval,
		metrics:  m,
		logger:   logger.With().Str("component", "syncer").Str("role", role).Logger(),
	}
}

// Role is the cursor role of the syncer
func (s *Syncer) Role() string { return s.role }

// Start runs the syncer loop until Stop, ctx cancellation or, for history
// syncers, the end of the range
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	s.logger.Info().Str("interval", s.interval.String()).Msg("starting syncer")
	go s.loop(ctx)
	return nil
}

func (s *Syncer) loop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		progressed, err := s.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrSyncDone):
			s.logger.Info().Msg("history sync complete")
			return
		case err != nil:
			s.logger.Warn().Err(err).Msg("sync tick failed")
		}

		wait := s.interval
		if progressed > 0 && err == nil {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-time.After(wait):
		}
	}
}

// Stop halts the loop and waits for it to exit
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
	s.logger.Info().Msg("syncer stopped")
}

// Done is closed when the loop has exited
func (s *Syncer) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

// RunOnce asks the driver for blocks and processes them. It returns the
// number of completed blocks. A history syncer at its target returns
// ErrSyncDone after marking its cursor done.
func (s *Syncer) RunOnce(ctx context.Context) (int, error) {
	processed := 0
	for processed < maxBlocksPerTick {
		cursor, err := s.cursors.Load(ctx, s.role)
		if err != nil {
			return processed, err
		}
		if cursor == nil {
			return processed, pkgerrors.Errorf("%s cursor does not exist", s.role)
		}

		blocks, err := s.driver.Next(ctx, cursor)
		if errors.Is(err, ErrSyncDone) {
			if !cursor.Done {
				if err := s.cursors.MarkDone(ctx, s.role); err != nil {
					return processed, err
				}
			}
			return processed, ErrSyncDone
		}
		if err != nil {
			return processed, err
		}

		for _, n := range blocks {
			mined, err := s.processBlock(ctx, cursor, n)
			if err != nil {
				return processed, err
			}
			if !mined {
				return processed, nil
			}
			processed++
			cursor = &Cursor{Role: s.role, Block: n + 1}
		}

		if _, history := s.driver.(*HistoryDriver); history {
			// one batch per tick
			return processed, nil
		}
	}
	return processed, nil
}

// processBlock runs the filters over block n starting at the cursor tx
// index. It returns false when the block is not mined yet.
func (s *Syncer) processBlock(ctx context.Context, cursor *Cursor, n uint64) (bool, error) {
	block, err := s.chain.Client.BlockByNumber(ctx, n)
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, pkgerrors.Wrapf(err, "failed to fetch block %d", n)
	}

	start := uint(0)
	if cursor.Block == n {
		start = cursor.TxIndex
	}
	signer := types.LatestSignerForChainID(s.chain.ChainID)
	txs := block.Transactions()

	for i := start; i < uint(len(txs)); i++ {
		tx := txs[i]
		receipt, err := s.chain.Client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return false, pkgerrors.Wrapf(err, "failed to fetch receipt of %s", tx.Hash().Hex())
		}
		from, err := types.Sender(signer, tx)
		if err != nil {
			s.logger.Debug().Err(err).Str("tx_hash", tx.Hash().Hex()).Msg("cannot recover sender, skipping")
		} else if err := s.applyFilters(ctx, &Tx{Block: block, Tx: tx, Index: i, From: from, Receipt: receipt}); err != nil {
			return false, err
		}
		if err := s.cursors.Save(ctx, s.role, n, i+1); err != nil {
			return false, err
		}
	}

	if err := s.cursors.Save(ctx, s.role, n+1, 0); err != nil {
		return false, err
	}
	s.metrics.SyncHeight(s.role, n)
	s.logger.Debug().Uint64("block", n).Int("txs", len(txs)).Msg("block processed")
	return true, nil
}

// applyFilters runs the filters in order. A transient filter error aborts the
// block so the transaction is retried on the next tick.
func (s *Syncer) applyFilters(ctx context.Context, tx *Tx) error {
	for _, f := range s.filters {
		fut, err := f.Apply(ctx, tx)
		if err != nil {
			if lerrors.IsTransient(err) {
				return pkgerrors.Wrapf(err, "filter %s", f.Name())
			}
			s.logger.Error().
				Err(err).
				Str("filter", f.Name()).
				Str("tx_hash", tx.Tx.Hash().Hex()).
				Msg("filter failed")
			continue
		}
		if fut != nil {
			s.metrics.FilterMatch(f.Name())
			s.logger.Debug().
				Str("filter", f.Name()).
				Str("tx_hash", tx.Tx.Hash().Hex()).
				Str("task_id", fut.ID()).
				Msg("transaction claimed by filter")
			return nil
		}
	}
	return nil
}
