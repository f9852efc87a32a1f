package sender

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/evm"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
	"github.com/pushchain/txledger/txledger/task"
)

// Shift closes the nonce gap left by txHash. The row is voided and every live
// transaction of the same sender above its nonce is re-signed one nonce lower
// at a higher price. The old rows are voided with their replacements recorded
// in the same database transaction, the nonce counter is rewound and the
// replacements are submitted in nonce order.
//
// QUEUE and SEND are held on the sender for the duration and released at the
// end, which also clears a SEND lock left by a rejected transaction.
func (s *Sender) Shift(ctx context.Context, txHash string) ([]string, *task.Future, error) {
	target, err := s.queue.Get(txHash)
	if err != nil {
		return nil, nil, err
	}
	if target.Status.IsObsolete() || target.Status.Has(status.BitInNetwork|status.BitFinal) {
		return nil, nil, lerrors.StateViolation("cannot shift %s in state %s", target.TxHash, target.Status)
	}
	log := s.logger.With().
		Str("tx_hash", target.TxHash).
		Str("sender", target.Sender).
		Uint64("nonce", target.Nonce).
		Logger()

	if _, err := s.locks.Lock(ctx, target.Sender, lock.Queue|lock.Send, target.TxHash); err != nil {
		return nil, nil, err
	}

	hashes, err := s.shift(ctx, target)
	if err != nil {
		log.Error().Err(err).Msg("nonce shift failed, sender stays locked")
		return nil, nil, err
	}

	if _, err := s.locks.Unlock(ctx, target.Sender, lock.Queue|lock.Send); err != nil {
		return nil, nil, err
	}
	log.Info().Int("shifted", len(hashes)).Msg("nonce gap closed")

	if len(hashes) == 0 {
		return nil, nil, nil
	}
	return hashes, s.Submit("shift", hashes), nil
}

func (s *Sender) shift(ctx context.Context, target *store.Otx) ([]string, error) {
	above, err := s.queue.AliveAbove(target.Sender, target.Nonce)
	if err != nil {
		return nil, err
	}
	network, err := s.chain.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read gas price")
	}

	type reissued struct {
		old   *store.Otx
		price string
		*evm.Signed
	}
	plan := make([]reissued, 0, len(above))
	for i := range above {
		row := &above[i]
		old, err := evm.DecodeSigned(row.SignedTx)
		if err != nil {
			return nil, err
		}
		price := NextGasPrice(network, old.GasPrice(), s.cfg.ResendGasFactor)
		signed, err := s.builder.Reissue(old, row.Nonce-1, price)
		if err != nil {
			return nil, err
		}
		plan = append(plan, reissued{old: row, price: price.String(), Signed: signed})
	}

	err = s.queue.Transaction(func(q *queue.Queue) error {
		if _, err := q.Void(target.TxHash); err != nil {
			return err
		}
		for _, p := range plan {
			if _, err := q.Void(p.old.TxHash); err != nil {
				return err
			}
			if _, err := q.Create(queue.NewOtx{
				Sender:   p.old.Sender,
				Nonce:    p.Tx.Nonce(),
				TxHash:   p.Hash,
				SignedTx: p.Raw,
			}); err != nil {
				return err
			}
			if _, err := q.CloneCache(p.old.TxHash, p.Hash, p.Tx.GasPrice()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	next := target.Nonce
	if len(plan) > 0 {
		next = plan[len(plan)-1].Tx.Nonce() + 1
	}
	if err := s.reservations.Rewind(ctx, target.Sender, next); err != nil {
		return nil, err
	}

	hashes := make([]string, 0, len(plan))
	for _, p := range plan {
		s.logger.Debug().
			Str("tx_hash", p.old.TxHash).
			Str("new_tx_hash", p.Hash).
			Uint64("nonce", p.Tx.Nonce()).
			Str("gas_price", p.price).
			Msg("transaction shifted")
		hashes = append(hashes, p.Hash)
	}
	return hashes, nil
}
