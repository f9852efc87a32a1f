// Package retrier resends transactions that stay unconfirmed in the network
// past a grace period.
package retrier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/sender"
)

// Retrier is the retry syncer loop
type Retrier struct {
	queue     *queue.Queue
	sender    *sender.Sender
	interval  time.Duration
	grace     time.Duration
	batchSize int
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Retrier
func New(q *queue.Queue, s *sender.Sender, interval, grace time.Duration, batchSize int, logger zerolog.Logger) *Retrier {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Retrier{
		queue:     q,
		sender:    s,
		interval:  interval,
		grace:     grace,
		batchSize: batchSize,
		now:       time.Now,
		logger:    logger.With().Str("component", "retrier").Logger(),
	}
}

// Start begins the retry loop
func (r *Retrier) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.logger.Info().
		Str("interval", r.interval.String()).
		Str("grace", r.grace.String()).
		Msg("starting retrier")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Error().Err(err).Msg("retry tick failed")
				}
			}
		}
	}()
	return nil
}

// Stop halts the loop
func (r *Retrier) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("retrier stopped")
}

// RunOnce resends every stale row once and returns how many were resent.
// Refused resends (locked sender, gas cap) are logged and the row is still
// touched so it waits another grace period.
func (r *Retrier) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	rows, err := r.queue.StaleSent(now.Add(-r.grace), r.batchSize)
	if err != nil {
		return 0, err
	}

	resent := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return resent, ctx.Err()
		}
		log := r.logger.With().Str("tx_hash", row.TxHash).Str("sender", row.Sender).Uint64("nonce", row.Nonce).Logger()

		newHash, _, err := r.sender.ResendWithHigherGas(ctx, row.TxHash, sender.ResendOptions{Trigger: sender.TriggerRetrier})
		switch {
		case err == nil:
			resent++
			log.Info().Str("new_tx_hash", newHash).Msg("stale transaction resent")
			if err := r.queue.TouchChecked(newHash, now); err != nil {
				return resent, err
			}
		case errors.Is(err, lerrors.ErrLocked), errors.Is(err, lerrors.ErrRejected), errors.Is(err, lerrors.ErrStateViolation):
			log.Warn().Err(err).Msg("resend refused")
		default:
			return resent, err
		}

		if err := r.queue.TouchChecked(row.TxHash, now); err != nil {
			return resent, err
		}
	}
	return resent, nil
}
