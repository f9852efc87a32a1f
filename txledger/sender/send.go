package sender

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	pkgerrors "github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/evm"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/metrics"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// Send submits the first of hashes and, on success, schedules the rest on the
// task pool one at a time. Transient failures mark the row SENDFAIL and
// return nil; the dispatcher picks it up later.
func (s *Sender) Send(ctx context.Context, hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	head, tail := hashes[0], hashes[1:]

	row, err := s.queue.Get(head)
	if err != nil {
		return err
	}
	if err := s.locks.Check(ctx, row.Sender, lock.Send); err != nil {
		s.metrics.ObserveSend(metrics.SendResultLocked)
		return err
	}
	if _, err := s.queue.Reserve(head); err != nil {
		return err
	}
	tx, err := evm.DecodeSigned(row.SignedTx)
	if err != nil {
		return s.fubar(ctx, row, err)
	}

	log := s.logger.With().
		Str("tx_hash", row.TxHash).
		Str("sender", row.Sender).
		Uint64("nonce", row.Nonce).
		Logger()

	sendErr := s.chain.Client.SendTransaction(ctx, tx)
	class := evm.ClassifySendError(sendErr)
	switch class {
	case evm.SendOK:
		if _, err := s.queue.Sent(head); err != nil {
			return err
		}
		s.metrics.ObserveSend(metrics.SendResultSent)
		log.Info().Msg("transaction sent")
		s.sendTail(tail)
		return nil

	case evm.SendTransient:
		if _, err := s.queue.SendFail(head); err != nil {
			return err
		}
		s.metrics.ObserveSend(metrics.SendResultSendFail)
		log.Warn().Err(sendErr).Msg("transient send failure, will retry")
		return nil

	case evm.SendResync:
		s.metrics.ObserveSend(metrics.SendResultResync)
		log.Warn().Err(sendErr).Msg("node rejected parameters, syncing from network")
		st, err := s.SyncTx(ctx, head)
		if err != nil {
			return err
		}
		if st.IsInNetwork() {
			s.sendTail(tail)
		}
		return nil

	case evm.SendInvalid:
		return s.reject(ctx, row, sendErr)

	default:
		return s.fubar(ctx, row, sendErr)
	}
}

func (s *Sender) sendTail(tail []string) {
	if len(tail) == 0 {
		return
	}
	s.pool.Submit("send", func(ctx context.Context) (any, error) {
		return tail, s.Send(ctx, tail)
	})
}

// reject handles a transaction the node could not decode. The sender is
// locked while the row is rejected and, within the attempt bound, replaced
// by a forced resend at a higher price. The lock is released only once the
// replacement is recorded.
func (s *Sender) reject(ctx context.Context, row *store.Otx, cause error) error {
	if _, err := s.locks.Lock(ctx, row.Sender, lock.Send, row.TxHash); err != nil {
		return err
	}
	if _, err := s.queue.Reject(row.TxHash); err != nil {
		return err
	}
	s.metrics.ObserveSend(metrics.SendResultRejected)

	attempts, err := s.queue.CountGroup(row.Sender, row.Nonce)
	if err != nil {
		return err
	}

	log := s.logger.With().
		Str("tx_hash", row.TxHash).
		Str("sender", row.Sender).
		Uint64("nonce", row.Nonce).
		Int64("attempts", attempts).
		Logger()

	if attempts < int64(s.cfg.MaxResendAttempts) {
		newHash, err := s.replace(ctx, row.TxHash, ResendOptions{Force: true, Trigger: TriggerRejected})
		if err != nil {
			log.Error().Err(err).Msg("automatic resend failed, sender stays locked")
			return pkgerrors.Wrapf(lerrors.ErrRejected, "%s: %v", row.TxHash, cause)
		}
		if _, err := s.locks.Unlock(ctx, row.Sender, lock.Send); err != nil {
			return err
		}
		s.Submit("resend", []string{newHash})
		log.Warn().Str("new_tx_hash", newHash).Err(cause).Msg("transaction rejected, resent with higher gas")
	} else {
		log.Error().Err(cause).Msg("transaction rejected, resend attempts exhausted, sender stays locked")
	}

	return pkgerrors.Wrapf(lerrors.ErrRejected, "%s: %v", row.TxHash, cause)
}

// fubar handles an unclassified failure: the sender is locked, the row
// finalized and an operator alert recorded.
func (s *Sender) fubar(ctx context.Context, row *store.Otx, cause error) error {
	if _, err := s.locks.Lock(ctx, row.Sender, lock.Send, row.TxHash); err != nil {
		return err
	}
	if _, err := s.queue.Fubar(row.TxHash); err != nil {
		return err
	}
	alert := store.OperatorAlert{
		Chain:  s.chain.Name,
		Sender: row.Sender,
		TxHash: row.TxHash,
		Reason: cause.Error(),
	}
	if err := s.queue.DB().WithContext(ctx).Create(&alert).Error; err != nil {
		return pkgerrors.Wrap(err, "failed to record alert")
	}
	s.metrics.ObserveSend(metrics.SendResultFubar)

	s.logger.Error().
		Str("tx_hash", row.TxHash).
		Str("sender", row.Sender).
		Err(cause).
		Msg("unclassified send failure, sender locked")
	return pkgerrors.Wrapf(lerrors.ErrUnclassified, "%s: %v", row.TxHash, cause)
}

// SyncTx reconciles one row with the network and returns its new status. A
// receipt finalizes the row and cancels its siblings. A transaction still in
// the mempool is marked sent. An unknown transaction that was being sent is
// marked SENDFAIL.
func (s *Sender) SyncTx(ctx context.Context, txHash string) (status.Status, error) {
	row, err := s.queue.Get(txHash)
	if err != nil {
		return 0, err
	}
	if row.Status.IsFinal() {
		return row.Status, nil
	}
	hash := ethcommon.HexToHash(row.TxHash)

	receipt, err := s.chain.Client.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		return s.confirm(row, receipt)
	case !errors.Is(err, ethereum.NotFound):
		return 0, pkgerrors.Wrapf(err, "failed to fetch receipt of %s", row.TxHash)
	}

	_, _, err = s.chain.Client.TransactionByHash(ctx, hash)
	switch {
	case err == nil:
		if err := s.markSent(row); err != nil {
			return 0, err
		}
	case errors.Is(err, ethereum.NotFound):
		if !row.Status.IsInNetwork() || row.Status.Any(status.BitReserved) {
			if row, err = s.queue.SendFail(row.TxHash); err != nil {
				return 0, err
			}
		}
	default:
		return 0, pkgerrors.Wrapf(err, "failed to fetch transaction %s", row.TxHash)
	}

	row, err = s.queue.Get(row.TxHash)
	if err != nil {
		return 0, err
	}
	return row.Status, nil
}

// Confirm finalizes txHash from its mined receipt and cancels the other rows
// of its (sender, nonce) group. A row that is already final is left as is.
func (s *Sender) Confirm(txHash string, receipt *types.Receipt) (status.Status, error) {
	row, err := s.queue.Get(txHash)
	if err != nil {
		return 0, err
	}
	if row.Status.IsFinal() {
		return row.Status, nil
	}
	return s.confirm(row, receipt)
}

func (s *Sender) confirm(row *store.Otx, receipt *types.Receipt) (status.Status, error) {
	if err := s.markSent(row); err != nil {
		return 0, err
	}
	block, index := receipt.BlockNumber.Uint64(), receipt.TransactionIndex
	var err error
	if receipt.Status == types.ReceiptStatusSuccessful {
		row, err = s.queue.Success(row.TxHash, block, index)
	} else {
		row, err = s.queue.MineFail(row.TxHash, block, index)
	}
	if err != nil {
		return 0, err
	}
	if _, err := s.queue.ObsoleteSiblings(row.TxHash, true); err != nil {
		return 0, err
	}
	s.logger.Info().
		Str("tx_hash", row.TxHash).
		Uint64("block", block).
		Str("status", row.Status.String()).
		Msg("transaction confirmed")
	return row.Status, nil
}

func (s *Sender) markSent(row *store.Otx) error {
	if row.Status.IsInNetwork() && !row.Status.Any(status.BitQueued|status.BitReserved) {
		return nil
	}
	_, err := s.queue.Sent(row.TxHash)
	return err
}
