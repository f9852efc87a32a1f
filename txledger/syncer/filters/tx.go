package filters

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/syncer"
	"github.com/pushchain/txledger/txledger/task"
)

// TxFilter finalizes ledger rows when their transaction is mined. It never
// claims a transaction, so the filters after it always run.
type TxFilter struct {
	sender *sender.Sender
	logger zerolog.Logger
}

// NewTxFilter creates a TxFilter
func NewTxFilter(s *sender.Sender, logger zerolog.Logger) *TxFilter {
	return &TxFilter{
		sender: s,
		logger: logger.With().Str("component", "tx_filter").Logger(),
	}
}

func (f *TxFilter) Name() string { return NameTx }

func (f *TxFilter) Apply(_ context.Context, tx *syncer.Tx) (*task.Future, error) {
	hash := tx.Tx.Hash().Hex()
	st, err := f.sender.Confirm(hash, tx.Receipt)
	if errors.Is(err, lerrors.ErrIntegrity) {
		// not a ledger transaction
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("tx_hash", hash).Str("status", st.String()).Msg("ledger transaction mined")
	return nil, nil
}
