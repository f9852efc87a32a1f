package syncer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/metrics"
)

// BootstrapConfig configures startup
type BootstrapConfig struct {
	Interval     time.Duration
	HistoryBatch int
	// StartFrom sets the first head block when no head cursor exists; nil or
	// negative starts at the tip
	StartFrom *int64
}

// Bootstrap prepares cursors at startup and returns the syncers to run: the
// head syncer followed by one history syncer per unfinished session. When the
// head cursor lags the tip, the gap becomes a new history session and the
// head jumps to the tip.
func Bootstrap(
	ctx context.Context,
	chain *common.Context,
	cursors *CursorStore,
	filters []Filter,
	cfg BootstrapConfig,
	m *metrics.Metrics,
	logger zerolog.Logger,
) ([]*Syncer, error) {
	tip, err := chain.Client.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read chain tip")
	}
	log := logger.With().Str("component", "syncer_bootstrap").Uint64("tip", tip).Logger()

	head, err := cursors.Load(ctx, RoleHead)
	if err != nil {
		return nil, err
	}
	switch {
	case head == nil:
		start := tip
		if cfg.StartFrom != nil && *cfg.StartFrom >= 0 {
			start = uint64(*cfg.StartFrom)
		}
		if err := cursors.Create(ctx, &Cursor{Role: RoleHead, Block: start}); err != nil {
			return nil, err
		}
		log.Info().Uint64("start", start).Msg("head cursor created")

	case head.Block < tip:
		role := HistoryRole(head.Block)
		existing, err := cursors.Load(ctx, role)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			target := tip
			if err := cursors.Create(ctx, &Cursor{Role: role, Block: head.Block, TxIndex: head.TxIndex, Target: &target}); err != nil {
				return nil, err
			}
			log.Info().Uint64("from", head.Block).Msg("history session created for head gap")
		}
		if err := cursors.Save(ctx, RoleHead, tip, 0); err != nil {
			return nil, err
		}
	}

	syncers := []*Syncer{
		New(RoleHead, chain, HeadDriver{}, cursors, filters, cfg.Interval, m, logger),
	}

	unfinished, err := cursors.Unfinished(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range unfinished {
		if c.Target == nil {
			log.Warn().Str("role", c.Role).Msg("history cursor without target, skipping")
			continue
		}
		driver := NewHistoryDriver(*c.Target, cfg.HistoryBatch)
		syncers = append(syncers, New(c.Role, chain, driver, cursors, filters, cfg.Interval, m, logger))
		log.Info().
			Str("role", c.Role).
			Uint64("cursor", c.Block).
			Uint64("target", *c.Target).
			Msg("resuming history session")
	}
	return syncers, nil
}
