package sender

import (
	"context"
	"math/big"

	pkgerrors "github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/evm"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/task"
)

// Resend triggers, recorded in metrics
const (
	TriggerManual   = "manual"
	TriggerRetrier  = "retrier"
	TriggerRejected = "rejected"
)

// ResendOptions tune ResendWithHigherGas
type ResendOptions struct {
	// GasPrice is used as is when set
	GasPrice *big.Int
	// Factor multiplies the old price; zero uses the configured factor
	Factor float64
	// Force skips the liveness and QUEUE lock checks
	Force   bool
	Trigger string
}

// NextGasPrice returns max(network, old*factor, old+1)
func NextGasPrice(network, old *big.Int, factor float64) *big.Int {
	scaled, _ := new(big.Float).Mul(new(big.Float).SetInt(old), big.NewFloat(factor)).Int(nil)
	price := new(big.Int).Add(old, big.NewInt(1))
	if scaled.Cmp(price) > 0 {
		price = scaled
	}
	if network != nil && network.Cmp(price) > 0 {
		price = new(big.Int).Set(network)
	}
	return price
}

// ResendWithHigherGas re-signs txHash with the same nonce at a higher price,
// records the replacement (obsoleting the original and cloning its cache) and
// submits it to the pipeline. It returns the new hash and the future of the
// pipeline run.
func (s *Sender) ResendWithHigherGas(ctx context.Context, txHash string, opts ResendOptions) (string, *task.Future, error) {
	newHash, err := s.replace(ctx, txHash, opts)
	if err != nil {
		return "", nil, err
	}
	return newHash, s.Submit("resend", []string{newHash}), nil
}

// replace records the higher priced replacement of txHash without sending it.
// A failed original is superseded in the same transaction.
func (s *Sender) replace(ctx context.Context, txHash string, opts ResendOptions) (string, error) {
	row, err := s.queue.Get(txHash)
	if err != nil {
		return "", err
	}
	if !opts.Force {
		if !row.Status.IsAlive() {
			return "", lerrors.StateViolation("cannot resend %s in state %s", row.TxHash, row.Status)
		}
		if err := s.locks.Check(ctx, row.Sender, lock.Queue); err != nil {
			return "", err
		}
	}
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}

	old, err := evm.DecodeSigned(row.SignedTx)
	if err != nil {
		return "", err
	}

	price := opts.GasPrice
	if price == nil {
		factor := opts.Factor
		if factor <= 0 {
			factor = s.cfg.ResendGasFactor
		}
		network, err := s.chain.Client.SuggestGasPrice(ctx)
		if err != nil {
			return "", pkgerrors.Wrap(err, "failed to read gas price")
		}
		price = NextGasPrice(network, old.GasPrice(), factor)
	}
	if s.cfg.MaxGasPrice != nil && s.cfg.MaxGasPrice.Sign() > 0 && price.Cmp(s.cfg.MaxGasPrice) > 0 {
		return "", pkgerrors.Wrapf(lerrors.ErrRejected, "gas price %s exceeds cap %s", price, s.cfg.MaxGasPrice)
	}

	signed, err := s.builder.Resign(old, price)
	if err != nil {
		return "", err
	}

	err = s.queue.Transaction(func(q *queue.Queue) error {
		if _, err := q.Create(queue.NewOtx{
			Sender:   row.Sender,
			Nonce:    row.Nonce,
			TxHash:   signed.Hash,
			SignedTx: signed.Raw,
		}); err != nil {
			return err
		}
		if _, err := q.CloneCache(row.TxHash, signed.Hash, price); err != nil {
			return err
		}
		if row.Status.IsFinal() && row.Status.IsError() && !row.Status.IsObsolete() {
			_, err := q.Supersede(row.TxHash)
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.metrics.Resend(opts.Trigger)
	s.logger.Info().
		Str("tx_hash", row.TxHash).
		Str("new_tx_hash", signed.Hash).
		Str("old_gas_price", old.GasPrice().String()).
		Str("gas_price", price.String()).
		Str("trigger", opts.Trigger).
		Msg("transaction resent with higher gas")

	return signed.Hash, nil
}
