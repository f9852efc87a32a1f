// Package dispatcher drives queued transactions to the network. Rows that
// failed to send are re-queued after a backoff, and the lowest queued nonce
// of every sender is sent on each tick.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/store"
)

// maxParallel bounds concurrent sends per tick
const maxParallel = 4

// Dispatcher is the queued-row sender loop
type Dispatcher struct {
	queue           *queue.Queue
	sender          *sender.Sender
	locks           *lock.Locker
	interval        time.Duration
	batchSize       int
	sendFailBackoff time.Duration
	now             func() time.Time
	logger          zerolog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Dispatcher
func New(
	q *queue.Queue,
	s *sender.Sender,
	locks *lock.Locker,
	interval time.Duration,
	batchSize int,
	sendFailBackoff time.Duration,
	logger zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		queue:           q,
		sender:          s,
		locks:           locks,
		interval:        interval,
		batchSize:       batchSize,
		sendFailBackoff: sendFailBackoff,
		now:             time.Now,
		logger:          logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Start begins the dispatch loop
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})

	d.logger.Info().
		Str("interval", d.interval.String()).
		Int("batch_size", d.batchSize).
		Msg("starting dispatcher")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				d.logger.Info().Msg("context cancelled, stopping dispatcher")
				return
			case <-d.stopCh:
				return
			case <-ticker.C:
				if _, err := d.RunOnce(ctx); err != nil {
					d.logger.Error().Err(err).Msg("dispatch tick failed")
				}
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for the current tick
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info().Msg("dispatcher stopped")
}

// RunOnce performs one tick and returns the number of rows handed to the
// sender
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	failed, err := d.queue.SendFailedBefore(d.now().Add(-d.sendFailBackoff), d.batchSize)
	if err != nil {
		return 0, err
	}
	for _, row := range failed {
		if _, err := d.queue.Retry(row.TxHash); err != nil {
			d.logger.Warn().Err(err).Str("tx_hash", row.TxHash).Msg("failed to requeue")
		}
	}

	queued, err := d.queue.Queued(d.batchSize)
	if err != nil {
		return 0, err
	}

	var picked []store.Otx
	seen := make(map[string]bool)
	for _, row := range queued {
		if seen[row.Sender] {
			continue
		}
		seen[row.Sender] = true
		if err := d.locks.Check(ctx, row.Sender, lock.Send); err != nil {
			d.logger.Debug().Str("sender", row.Sender).Msg("sender locked, skipping")
			continue
		}
		picked = append(picked, row)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, row := range picked {
		row := row
		g.Go(func() error {
			if err := d.sender.Send(gctx, []string{row.TxHash}); err != nil {
				d.logger.Warn().
					Err(err).
					Str("tx_hash", row.TxHash).
					Str("sender", row.Sender).
					Msg("dispatch send failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 || len(picked) > 0 {
		d.logger.Debug().
			Int("requeued", len(failed)).
			Int("dispatched", len(picked)).
			Msg("dispatch tick done")
	}
	return len(picked), nil
}
