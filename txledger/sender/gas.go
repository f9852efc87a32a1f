package sender

import (
	"context"
	"errors"
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/status"
)

func isOutOfGas(err error) bool {
	return errors.Is(err, lerrors.ErrOutOfGas)
}

// CheckGas compares the balance of sender with required. When the balance is
// short a refill is issued, the rows are marked WAITFORGAS and ErrOutOfGas is
// returned. Otherwise the rows are marked READYSEND; a balance under the
// safety threshold also triggers a background refill.
func (s *Sender) CheckGas(ctx context.Context, sender string, hashes []string, required *big.Int) error {
	addr := ethcommon.HexToAddress(sender)
	balance, err := s.chain.Client.BalanceAt(ctx, addr)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read balance of %s", addr.Hex())
	}

	log := s.logger.With().
		Str("sender", addr.Hex()).
		Str("balance", balance.String()).
		Str("required", required.String()).
		Logger()

	if balance.Cmp(required) < 0 {
		if _, err := s.Refill(ctx, addr); err != nil {
			log.Warn().Err(err).Msg("refill failed")
		}
		for _, h := range hashes {
			row, err := s.queue.Get(h)
			if err != nil {
				return err
			}
			if row.Status.Any(status.BitGasIssues) {
				continue
			}
			if _, err := s.queue.WaitForGas(h); err != nil {
				return err
			}
		}
		log.Info().Int("count", len(hashes)).Msg("insufficient gas, transactions deferred")
		return pkgerrors.Wrapf(lerrors.ErrOutOfGas, "%s has %s, needs %s", addr.Hex(), balance, required)
	}

	if balance.Cmp(s.cfg.MinBalance) < 0 && addr != s.chain.GasProvider {
		log.Debug().Msg("balance below safety threshold, refilling in background")
		s.pool.Submit("refill", func(ctx context.Context) (any, error) {
			return s.Refill(ctx, addr)
		})
	}

	for _, h := range hashes {
		row, err := s.queue.Get(h)
		if err != nil {
			return err
		}
		if row.Status.Any(status.BitQueued) {
			continue
		}
		if _, err := s.queue.ReadySend(h); err != nil {
			return err
		}
	}
	return nil
}

// Refill sends native value from the gas provider to recipient and returns
// the refill hash. When a live funding refill to recipient already exists the
// new refill carries zero value. The provider never refills itself.
func (s *Sender) Refill(ctx context.Context, recipient ethcommon.Address) (string, error) {
	return s.fund(ctx, recipient, s.cfg.RefillAmount)
}

// Gift funds a newly registered account with amount. It follows the refill
// rules, so an account that already has a live refill gets a zero value one.
func (s *Sender) Gift(ctx context.Context, recipient ethcommon.Address, amount *big.Int) (string, error) {
	if amount == nil {
		amount = s.cfg.RefillAmount
	}
	return s.fund(ctx, recipient, amount)
}

func (s *Sender) fund(ctx context.Context, recipient ethcommon.Address, amount *big.Int) (string, error) {
	provider := s.chain.GasProvider
	if recipient == provider {
		return "", nil
	}
	if err := s.locks.Check(ctx, provider.Hex(), lock.Queue); err != nil {
		return "", err
	}

	live, err := s.queue.HasLiveRefill(provider.Hex(), recipient.Hex())
	if err != nil {
		return "", err
	}
	value := new(big.Int).Set(amount)
	if live {
		value.SetInt64(0)
	}

	gasPrice, err := s.chain.Client.SuggestGasPrice(ctx)
	if err != nil {
		return "", pkgerrors.Wrap(err, "failed to read gas price")
	}

	key := "refill:" + uuid.NewString()
	n, err := s.reservations.Next(ctx, provider.Hex(), key)
	if err != nil {
		return "", err
	}
	signed, err := s.builder.Native(provider, recipient, value, n, gasPrice)
	if err != nil {
		return "", err
	}
	if _, err := s.Enqueue(signed, queue.CacheEntry{
		Sender:           provider.Hex(),
		Recipient:        recipient.Hex(),
		SourceToken:      queue.NativeToken,
		DestinationToken: queue.NativeToken,
		FromValue:        value,
		ToValue:          value,
		GasPrice:         gasPrice,
	}); err != nil {
		return "", err
	}
	if _, err := s.reservations.Release(ctx, key); err != nil {
		return "", err
	}

	s.metrics.Refill(live)
	s.logger.Info().
		Str("recipient", recipient.Hex()).
		Str("value", value.String()).
		Str("tx_hash", signed.Hash).
		Uint64("nonce", n).
		Msg("refill queued")

	if err := s.Process(ctx, []string{signed.Hash}); err != nil {
		return signed.Hash, err
	}
	return signed.Hash, nil
}

// ResumeWaiting re-runs the pipeline for the WAITFORGAS rows of recipient
func (s *Sender) ResumeWaiting(ctx context.Context, recipient string) error {
	rows, err := s.queue.WaitingForGas(recipient)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		hashes = append(hashes, r.TxHash)
	}
	s.logger.Info().
		Str("recipient", queue.NormalizeAddress(recipient)).
		Int("count", len(hashes)).
		Msg("resuming transactions waiting for gas")
	return s.Process(ctx, hashes)
}
