package filters

import (
	"context"
	"math/big"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/syncer"
	"github.com/pushchain/txledger/txledger/task"
)

// AccountRegisteredTopic is the topic of AccountRegistered(address)
var AccountRegisteredTopic = crypto.Keccak256Hash([]byte("AccountRegistered(address)"))

// AccountFilter gifts gas to accounts announced by the registry contract
type AccountFilter struct {
	registry ethcommon.Address
	gift     *big.Int
	sender   *sender.Sender
	pool     *task.Pool
	seen     *seen
	logger   zerolog.Logger
}

// NewAccountFilter creates an AccountFilter. A nil gift uses the refill amount.
func NewAccountFilter(
	registry ethcommon.Address,
	gift *big.Int,
	s *sender.Sender,
	pool *task.Pool,
	cacheSize int,
	cacheTTL time.Duration,
	logger zerolog.Logger,
) *AccountFilter {
	return &AccountFilter{
		registry: registry,
		gift:     gift,
		sender:   s,
		pool:     pool,
		seen:     newSeen(cacheSize, cacheTTL),
		logger:   logger.With().Str("component", "account_filter").Logger(),
	}
}

func (f *AccountFilter) Name() string { return NameAccount }

func (f *AccountFilter) Apply(_ context.Context, tx *syncer.Tx) (*task.Future, error) {
	if tx.Receipt == nil {
		return nil, nil
	}
	var (
		accounts []ethcommon.Address
		keys     []string
	)
	for _, l := range tx.Receipt.Logs {
		if l.Address != f.registry || len(l.Topics) < 2 || l.Topics[0] != AccountRegisteredTopic {
			continue
		}
		key := eventKey(tx.Tx.Hash().Hex(), l.Index)
		if !f.seen.first(key) {
			continue
		}
		accounts = append(accounts, ethcommon.BytesToAddress(l.Topics[1].Bytes()))
		keys = append(keys, key)
	}
	if len(accounts) == 0 {
		return nil, nil
	}

	return f.pool.Submit("account_gift", func(ctx context.Context) (any, error) {
		hashes := make([]string, 0, len(accounts))
		for i, a := range accounts {
			hash, err := f.sender.Gift(ctx, a, f.gift)
			if err != nil {
				for _, k := range keys[i:] {
					f.seen.forget(k)
				}
				return hashes, err
			}
			f.logger.Info().Str("account", a.Hex()).Str("tx_hash", hash).Msg("gas gifted to registered account")
			hashes = append(hashes, hash)
		}
		return hashes, nil
	}), nil
}
