package syncer

import (
	"context"

	"github.com/pkg/errors"
)

// ErrSyncDone is returned by a driver that has reached its target
var ErrSyncDone = errors.New("sync done")

// Driver decides which blocks a syncer processes next
type Driver interface {
	// Next returns block numbers to process, in order, starting at the
	// cursor block
	Next(ctx context.Context, cursor *Cursor) ([]uint64, error)
}

// HeadDriver follows the chain tip one block at a time
type HeadDriver struct{}

// Next always returns exactly the cursor block. Whether it is mined is
// discovered when fetching it.
func (HeadDriver) Next(_ context.Context, cursor *Cursor) ([]uint64, error) {
	return []uint64{cursor.Block}, nil
}

// HistoryDriver replays [start, target) in batches
type HistoryDriver struct {
	target    uint64
	batchSize uint64
}

// NewHistoryDriver creates a driver that stops at target (exclusive)
func NewHistoryDriver(target uint64, batchSize int) *HistoryDriver {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &HistoryDriver{target: target, batchSize: uint64(batchSize)}
}

// Target is the exclusive upper bound
func (d *HistoryDriver) Target() uint64 { return d.target }

// Next returns up to batchSize block numbers in [cursor, min(cursor+batch,
// target)), or ErrSyncDone once the cursor has reached the target
func (d *HistoryDriver) Next(_ context.Context, cursor *Cursor) ([]uint64, error) {
	if cursor.Block >= d.target {
		return nil, ErrSyncDone
	}
	end := cursor.Block + d.batchSize
	if end > d.target {
		end = d.target
	}
	out := make([]uint64, 0, end-cursor.Block)
	for n := cursor.Block; n < end; n++ {
		out = append(out, n)
	}
	return out, nil
}
