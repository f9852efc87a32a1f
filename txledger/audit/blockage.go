package audit

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/status"
)

// blockage reports groups stuck before any final, obsolete or queued state.
// The most recent hash of each is written.
func (a *Auditor) blockage(_ context.Context, _ *queue.Queue, groups []*Group, w io.Writer, r *Report) error {
	const settled = status.BitObsolete | status.BitFinal | status.BitQueued | status.BitReserved
	for _, g := range groups {
		if g.Aggregate.Any(settled) {
			continue
		}
		latest := g.Latest()
		a.logger.Info().
			Str("sender", g.Sender).
			Uint64("nonce", g.Nonce).
			Str("aggregate", g.Aggregate.String()).
			Msg("blockage detected")
		if _, err := fmt.Fprintln(w, latest.TxHash); err != nil {
			return errors.Wrap(err, "failed to write blockage")
		}
		r.add(OutcomeBlocked)
		a.metrics.AuditGroup(OutcomeBlocked)
	}
	return nil
}

// errored reports groups holding an error that never reached finality. The
// latest hash is written when it is the errored row and never reached the
// network; otherwise the group is only logged.
func (a *Auditor) errored(_ context.Context, _ *queue.Queue, groups []*Group, w io.Writer, r *Report) error {
	const settled = status.BitFinal | status.BitQueued | status.BitReserved
	for _, g := range groups {
		if g.Aggregate.Any(settled) || !g.Aggregate.IsError() {
			continue
		}
		latest := g.Latest()
		if !latest.Status.IsError() || latest.Status.IsInNetwork() {
			a.logger.Warn().
				Str("sender", g.Sender).
				Uint64("nonce", g.Nonce).
				Msg("errored group whose latest row is not the failing one, handle manually")
			continue
		}
		if _, err := fmt.Fprintln(w, latest.TxHash); err != nil {
			return errors.Wrap(err, "failed to write errored group")
		}
		r.add(OutcomeErrored)
		a.metrics.AuditGroup(OutcomeErrored)
	}
	return nil
}
