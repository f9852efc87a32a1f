package audit

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgerrors "github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// Row classes used when logging a flagged group
const (
	ClassNetwork  = "network"
	ClassObsolete = "obsolete"
	ClassCancel   = "cancel"
	ClassBlocking = "blocking"
	ClassFubar    = "fubar"
)

// Discarded is the status given to every row of a confirmed group other
// than the mined one
const Discarded = status.Status(status.BitFinal | status.BitManual | status.BitObsolete | status.BitInNetwork)

// Classify names the role of a row within its group
func Classify(s status.Status) string {
	switch {
	case s.Has(uint(status.Cancelled)):
		return ClassCancel
	case s.IsObsolete():
		return ClassObsolete
	case s.Any(status.BitUnknownError | status.BitLocalError | status.BitNodeError):
		return ClassFubar
	case s.IsInNetwork():
		return ClassNetwork
	default:
		return ClassBlocking
	}
}

// Clean reports whether exactly one row is final and not obsolete, it ended
// as SUCCESS or REVERTED, and every other row is final
func (g *Group) Clean() bool {
	var winner *store.Otx
	for i := range g.Rows {
		r := &g.Rows[i]
		if !r.Status.IsFinal() {
			return false
		}
		if r.Status.IsObsolete() {
			continue
		}
		if winner != nil {
			return false
		}
		winner = r
	}
	if winner == nil {
		return false
	}
	s := winner.Status.Clear(status.BitManual)
	return s == status.Success || s == status.Reverted
}

// Flagged reports whether the group reached finality or an error without
// ending clean
func (g *Group) Flagged() bool {
	if !g.Aggregate.Any(status.BitFinal | status.AllErrors) {
		return false
	}
	return !g.Clean()
}

type minedRow struct {
	row     *store.Otx
	receipt *types.Receipt
}

func (a *Auditor) reconcile(ctx context.Context, q *queue.Queue, groups []*Group, w io.Writer, r *Report) error {
	for _, g := range groups {
		if !g.Flagged() {
			if g.Aggregate.IsFinal() {
				r.add(OutcomeClean)
			}
			continue
		}
		log := a.logger.With().Str("sender", g.Sender).Uint64("nonce", g.Nonce).Logger()
		classes := make(map[string]int)
		for _, row := range g.Rows {
			classes[Classify(row.Status)]++
		}
		log.Info().Interface("classes", classes).Str("aggregate", g.Aggregate.String()).Msg("flagged group")

		outcome, err := a.resolve(ctx, q, g)
		if err != nil {
			return err
		}
		r.add(outcome)
		a.metrics.AuditGroup(outcome)
		if outcome == OutcomeUnresolved {
			if _, err := fmt.Fprintf(w, "%s %d %s\n", g.Sender, g.Nonce, g.Latest().TxHash); err != nil {
				return pkgerrors.Wrap(err, "failed to write unresolved group")
			}
			log.Warn().Msg("group needs manual review")
			continue
		}
		log.Info().Str("outcome", outcome).Msg("group reconciled")
	}
	return nil
}

// resolve asks the network which row of g, if any, was mined
func (a *Auditor) resolve(ctx context.Context, q *queue.Queue, g *Group) (string, error) {
	if a.chain == nil || a.chain.Client == nil {
		return OutcomeUnresolved, nil
	}
	client := a.chain.Client

	var mined []minedRow
	for i := range g.Rows {
		row := &g.Rows[i]
		receipt, err := client.TransactionReceipt(ctx, ethcommon.HexToHash(row.TxHash))
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			a.logger.Warn().Err(err).Str("tx_hash", row.TxHash).Msg("receipt lookup failed")
			return OutcomeUnresolved, nil
		}
		mined = append(mined, minedRow{row: row, receipt: receipt})
	}

	switch len(mined) {
	case 1:
		return OutcomeConfirmed, a.confirm(q, g, mined[0])
	case 0:
		n, err := client.NonceAt(ctx, ethcommon.HexToAddress(g.Sender))
		if err != nil {
			a.logger.Warn().Err(err).Str("sender", g.Sender).Msg("nonce lookup failed")
			return OutcomeUnresolved, nil
		}
		if n <= g.Nonce {
			return OutcomeUnresolved, nil
		}
		for _, row := range g.Rows {
			if err := overwrite(q, &row, status.Cancelled, nil, nil); err != nil {
				return "", err
			}
		}
		return OutcomeCancelled, nil
	default:
		return OutcomeUnresolved, nil
	}
}

func (a *Auditor) confirm(q *queue.Queue, g *Group, m minedRow) error {
	want := status.Success
	if m.receipt.Status != types.ReceiptStatusSuccessful {
		want = status.Reverted
	}
	block, index := m.receipt.BlockNumber.Uint64(), m.receipt.TransactionIndex
	if m.row.Status.Clear(status.BitManual) != want || m.row.Block == nil || *m.row.Block != block {
		if err := overwrite(q, m.row, want, &block, &index); err != nil {
			return err
		}
	}
	for i := range g.Rows {
		row := &g.Rows[i]
		if row.ID == m.row.ID {
			continue
		}
		if err := overwrite(q, row, Discarded, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func overwrite(q *queue.Queue, row *store.Otx, s status.Status, block *uint64, index *uint) error {
	if row.Status == s && block == nil {
		return nil
	}
	return q.Overwrite(row.TxHash, s, block, index)
}
