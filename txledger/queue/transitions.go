package queue

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// guard returns a non-empty reason when the transition is not allowed.
type guard func(s status.Status) string

// transition loads txHash, checks g and writes next(status). after runs in
// the same database transaction once the status is written.
func (q *Queue) transition(name, txHash string, g guard, next func(status.Status) status.Status, after func(tx *gorm.DB, row *store.Otx) error) (*store.Otx, error) {
	txHash = NormalizeHash(txHash)
	var out store.Otx
	err := q.db.Transaction(func(tx *gorm.DB) error {
		var row store.Otx
		if err := tx.Where("tx_hash = ?", txHash).First(&row).Error; err != nil {
			if isNotFound(err) {
				return lerrors.Integrity("otx %s not found", txHash)
			}
			return errors.Wrapf(err, "failed to load otx %s", txHash)
		}

		if reason := g(row.Status); reason != "" {
			return lerrors.StateViolation("%s %s: %s (status %s)", name, txHash, reason, row.Status)
		}

		newStatus := next(row.Status)
		res := tx.Model(&store.Otx{}).
			Where("id = ? AND status = ?", row.ID, row.Status).
			Update("status", newStatus)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "failed to update status of %s", txHash)
		}
		if res.RowsAffected == 0 {
			return lerrors.StateViolation("%s %s: status changed concurrently", name, txHash)
		}
		row.Status = newStatus

		if after != nil {
			if err := after(tx, &row); err != nil {
				return err
			}
		}
		if err := q.WithTx(tx).appendLog(row.ID, newStatus); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.logger.Debug().
		Str("tx_hash", txHash).
		Str("transition", name).
		Str("status", out.Status.String()).
		Msg("otx status changed")
	return &out, nil
}

func notFinal(s status.Status) string {
	if s.IsFinal() {
		return "already final"
	}
	return ""
}

func guards(gs ...guard) guard {
	return func(s status.Status) string {
		for _, g := range gs {
			if reason := g(s); reason != "" {
				return reason
			}
		}
		return ""
	}
}

func forbid(mask uint, reason string) guard {
	return func(s status.Status) string {
		if s.Any(mask) {
			return reason
		}
		return ""
	}
}

func requireBits(mask uint, reason string) guard {
	return func(s status.Status) string {
		if !s.Has(mask) {
			return reason
		}
		return ""
	}
}

// inNetworkUnlessReserved rejects rows already on the network that are not
// being re-sent.
func inNetworkUnlessReserved(s status.Status) string {
	if s.IsInNetwork() && !s.Any(status.BitReserved) {
		return "already in network"
	}
	return ""
}

// WaitForGas marks a row as held until its sender is funded.
func (q *Queue) WaitForGas(txHash string) (*store.Otx, error) {
	return q.transition("waitforgas", txHash,
		guards(notFinal,
			forbid(status.BitInNetwork, "already in network"),
			forbid(status.BitGasIssues, "already waiting for gas"),
		),
		func(s status.Status) status.Status {
			return s.Set(status.BitGasIssues).Clear(status.BitQueued | status.BitDeferred)
		}, nil)
}

// ReadySend queues a PENDING or WAITFORGAS row for sending.
func (q *Queue) ReadySend(txHash string) (*store.Otx, error) {
	return q.transition("readysend", txHash,
		func(s status.Status) string {
			switch s.Clear(status.BitManual) {
			case status.Pending, status.WaitForGas:
				return ""
			}
			return "requires PENDING or WAITFORGAS"
		},
		func(s status.Status) status.Status {
			return s.Set(status.BitQueued).Clear(status.BitGasIssues)
		}, nil)
}

// Reserve claims a queued row for one send attempt.
func (q *Queue) Reserve(txHash string) (*store.Otx, error) {
	return q.transition("reserve", txHash,
		guards(notFinal, requireBits(status.BitQueued, "not queued")),
		func(s status.Status) status.Status {
			return s.Set(status.BitReserved).Clear(status.BitQueued)
		}, nil)
}

// Sent records that the node accepted the transaction. Calling it on a row
// already in the network that was not re-queued is a violation.
func (q *Queue) Sent(txHash string) (*store.Otx, error) {
	return q.transition("sent", txHash,
		guards(notFinal, func(s status.Status) string {
			if s.IsInNetwork() && !s.Any(status.BitQueued|status.BitReserved) {
				return "already sent"
			}
			return ""
		}),
		func(s status.Status) status.Status {
			return s.Set(status.BitInNetwork).Clear(status.BitQueued | status.BitReserved | status.BitDeferred |
				status.BitLocalError | status.BitNodeError | status.BitGasIssues)
		}, nil)
}

// SendFail records a transient failure to submit.
func (q *Queue) SendFail(txHash string) (*store.Otx, error) {
	return q.transition("sendfail", txHash,
		guards(notFinal, inNetworkUnlessReserved),
		func(s status.Status) status.Status {
			return s.Set(status.BitLocalError | status.BitDeferred).Clear(status.BitQueued | status.BitReserved | status.BitGasIssues)
		}, nil)
}

// Retry re-queues a row that was sent or failed to send.
func (q *Queue) Retry(txHash string) (*store.Otx, error) {
	return q.transition("retry", txHash,
		guards(notFinal,
			forbid(status.BitQueued, "already queued"),
			func(s status.Status) string {
				if !s.IsError() && !s.IsInNetwork() {
					return "requires SENT or SENDFAIL"
				}
				return ""
			},
		),
		func(s status.Status) status.Status {
			return s.Set(status.BitQueued).Clear(status.BitGasIssues | status.BitLocalError)
		}, nil)
}

// Reject finalizes a row the node refused.
func (q *Queue) Reject(txHash string) (*store.Otx, error) {
	return q.transition("reject", txHash,
		guards(notFinal, inNetworkUnlessReserved, forbid(status.AllErrors, "already errored")),
		func(s status.Status) status.Status {
			return s.Set(status.BitNodeError | status.BitFinal).Clear(status.BitQueued | status.BitReserved)
		}, nil)
}

// Fubar finalizes a row after an unclassified failure.
func (q *Queue) Fubar(txHash string) (*store.Otx, error) {
	return q.transition("fubar", txHash,
		guards(notFinal, forbid(status.AllErrors, "already errored")),
		func(s status.Status) status.Status {
			return s.Set(status.BitUnknownError | status.BitFinal).Clear(status.BitQueued | status.BitReserved)
		}, nil)
}

// Override obsoletes a row that never reached the network. With manual set
// the row is also finalized as administrator forced.
func (q *Queue) Override(txHash string, manual bool) (*store.Otx, error) {
	return q.transition("override", txHash,
		guards(notFinal,
			forbid(status.BitInNetwork, "already in network"),
			forbid(status.BitObsolete, "already obsolete"),
		),
		func(s status.Status) status.Status {
			s = s.Set(status.BitObsolete).Clear(status.BitQueued | status.BitReserved)
			if manual {
				s = s.Set(status.BitFinal | status.BitManual)
			}
			return s
		}, nil)
}

// Manual flags a row as handled by an administrator.
func (q *Queue) Manual(txHash string) (*store.Otx, error) {
	return q.transition("manual", txHash, notFinal,
		func(s status.Status) status.Status { return s.Set(status.BitManual) }, nil)
}

// Cancel marks a row as superseded. Unconfirmed cancellation sets OBSOLETED;
// confirmed cancellation requires an obsoleted row and makes it CANCELLED.
func (q *Queue) Cancel(txHash string, confirmed bool) (*store.Otx, error) {
	if confirmed {
		return q.transition("cancel", txHash,
			guards(notFinal, requireBits(status.BitObsolete, "not obsoleted")),
			func(s status.Status) status.Status {
				return s.Set(uint(status.Cancelled)).Clear(status.BitQueued | status.BitReserved | status.BitGasIssues)
			}, nil)
	}
	return q.transition("obsolete", txHash,
		guards(notFinal, forbid(status.BitObsolete, "already obsoleted")),
		func(s status.Status) status.Status {
			return s.Set(uint(status.Obsoleted)).Clear(status.BitQueued | status.BitReserved | status.BitGasIssues)
		}, nil)
}

// Supersede obsoletes a row that failed before reaching the network once a
// replacement owns its nonce. Mined rows are never superseded.
func (q *Queue) Supersede(txHash string) (*store.Otx, error) {
	return q.transition("supersede", txHash,
		guards(requireBits(status.BitFinal, "not final"),
			forbid(status.BitObsolete, "already obsolete"),
			forbid(status.BitNetworkError, "mined"),
			failedLocally,
		),
		func(s status.Status) status.Status { return s.Set(status.BitObsolete) }, nil)
}

func failedLocally(s status.Status) string {
	if !s.Any(status.BitLocalError | status.BitNodeError | status.BitUnknownError) {
		return "did not fail"
	}
	return ""
}

// Void retires a row whose nonce is being handed to another transaction. The
// row ends obsolete, final and manual. Rows already mined cannot be voided.
func (q *Queue) Void(txHash string) (*store.Otx, error) {
	return q.transition("void", txHash,
		guards(forbid(status.BitObsolete, "already obsolete"), notMined),
		func(s status.Status) status.Status {
			return s.Set(status.BitFinal | status.BitObsolete | status.BitManual).
				Clear(status.BitQueued | status.BitReserved | status.BitGasIssues)
		}, nil)
}

func notMined(s status.Status) string {
	if s.Has(status.BitInNetwork | status.BitFinal) {
		return "mined"
	}
	return ""
}

// Success finalizes a row mined with a successful receipt.
func (q *Queue) Success(txHash string, block uint64, txIndex uint) (*store.Otx, error) {
	return q.transition("success", txHash,
		guards(notFinal,
			requireBits(status.BitInNetwork, "not in network"),
			forbid(status.AllErrors, "already errored"),
		),
		func(s status.Status) status.Status {
			return status.Status(uint(status.Success) | uint(s)&status.BitManual)
		}, setBlock(block, txIndex))
}

// MineFail finalizes a row mined with a reverted receipt.
func (q *Queue) MineFail(txHash string, block uint64, txIndex uint) (*store.Otx, error) {
	return q.transition("minefail", txHash,
		guards(notFinal, requireBits(status.BitInNetwork, "not in network")),
		func(s status.Status) status.Status {
			return status.Status(uint(status.Reverted) | uint(s)&status.BitManual)
		}, setBlock(block, txIndex))
}

func setBlock(block uint64, txIndex uint) func(tx *gorm.DB, row *store.Otx) error {
	return func(tx *gorm.DB, row *store.Otx) error {
		if err := tx.Model(&store.Otx{}).Where("id = ?", row.ID).Update("block", block).Error; err != nil {
			return errors.Wrap(err, "failed to set otx block")
		}
		row.Block = &block
		if err := tx.Model(&store.TxCache{}).Where("otx_id = ?", row.ID).
			Updates(map[string]any{"block_number": block, "tx_index": txIndex}).Error; err != nil {
			return errors.Wrap(err, "failed to set cache block")
		}
		return nil
	}
}

// ObsoleteSiblings cancels every other live row sharing the (sender, nonce)
// of txHash. With final set the siblings end CANCELLED, otherwise OBSOLETED,
// and failed siblings that are already final are superseded.
func (q *Queue) ObsoleteSiblings(txHash string, final bool) ([]string, error) {
	var hashes []string
	err := q.Transaction(func(q *Queue) error {
		row, err := q.Get(txHash)
		if err != nil {
			return err
		}

		var siblings []store.Otx
		if err := q.db.
			Where("sender = ? AND nonce = ? AND id <> ?", row.Sender, row.Nonce, row.ID).
			Where("status & ? = 0", status.BitFinal).
			Order("id ASC").
			Find(&siblings).Error; err != nil {
			return errors.Wrap(err, "failed to query siblings")
		}

		for _, s := range siblings {
			if !s.Status.IsObsolete() {
				if _, err := q.Cancel(s.TxHash, false); err != nil {
					return err
				}
			}
			if final {
				if _, err := q.Cancel(s.TxHash, true); err != nil {
					return err
				}
			}
			hashes = append(hashes, s.TxHash)
		}
		if !final {
			return nil
		}

		var failed []store.Otx
		if err := q.db.
			Where("sender = ? AND nonce = ? AND id <> ?", row.Sender, row.Nonce, row.ID).
			Where("status & ? <> 0 AND status & ? = 0", status.BitFinal, status.BitObsolete|status.BitNetworkError).
			Where("status & ? <> 0", status.BitLocalError|status.BitNodeError|status.BitUnknownError).
			Order("id ASC").
			Find(&failed).Error; err != nil {
			return errors.Wrap(err, "failed to query failed siblings")
		}
		for _, s := range failed {
			if _, err := q.Supersede(s.TxHash); err != nil {
				return err
			}
			hashes = append(hashes, s.TxHash)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hashes, nil
}

// Overwrite sets a status without guards. Only the reconciliation auditor
// uses it; the change is always written to the state log.
func (q *Queue) Overwrite(txHash string, s status.Status, block *uint64, txIndex *uint) error {
	txHash = NormalizeHash(txHash)
	return q.db.Transaction(func(tx *gorm.DB) error {
		var row store.Otx
		if err := tx.Where("tx_hash = ?", txHash).First(&row).Error; err != nil {
			if isNotFound(err) {
				return lerrors.Integrity("otx %s not found", txHash)
			}
			return errors.Wrapf(err, "failed to load otx %s", txHash)
		}
		updates := map[string]any{"status": s}
		if block != nil {
			updates["block"] = *block
		}
		if err := tx.Model(&store.Otx{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
			return errors.Wrapf(err, "failed to overwrite status of %s", txHash)
		}
		if block != nil {
			cacheUpdates := map[string]any{"block_number": *block}
			if txIndex != nil {
				cacheUpdates["tx_index"] = *txIndex
			}
			if err := tx.Model(&store.TxCache{}).Where("otx_id = ?", row.ID).Updates(cacheUpdates).Error; err != nil {
				return errors.Wrap(err, "failed to set cache block")
			}
		}
		entry := store.OtxStateLog{OtxID: row.ID, Status: s}
		if err := tx.Create(&entry).Error; err != nil {
			return errors.Wrap(err, "failed to append state log")
		}
		return nil
	})
}
