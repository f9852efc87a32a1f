// Package nonce issues per-address nonces. Issuance is a serialization
// point: each call runs in its own database transaction that holds the
// counter row locked (SELECT ... FOR UPDATE plus a transaction scoped
// advisory lock on postgres; the single connection of the sqlite pool makes
// every transaction exclusive). Nonces are never issued optimistically.
package nonce

import (
	"context"
	"hash/fnv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pushchain/txledger/txledger/db"
	"github.com/pushchain/txledger/txledger/metrics"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/store"
)

// SeedFunc returns the first nonce of an address that has no counter yet,
// typically the node's pending nonce.
type SeedFunc func(ctx context.Context, address string) (uint64, error)

// Allocator issues nonces.
type Allocator struct {
	db       *gorm.DB
	postgres bool
	seed     SeedFunc
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewAllocator creates an Allocator. A nil seed starts new addresses at 0.
func NewAllocator(database *db.DB, seed SeedFunc, m *metrics.Metrics, logger zerolog.Logger) *Allocator {
	return &Allocator{
		db:       database.Client(),
		postgres: database.Dialect() == db.DialectPostgres,
		seed:     seed,
		metrics:  m,
		logger:   logger.With().Str("component", "nonce_allocator").Logger(),
	}
}

// Next issues the next nonce of address.
func (a *Allocator) Next(ctx context.Context, address string) (uint64, error) {
	address = queue.NormalizeAddress(address)
	initial, err := a.initial(ctx, address)
	if err != nil {
		return 0, err
	}

	var issued uint64
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		issued, err = a.next(tx, address, initial)
		return err
	})
	if err != nil {
		return 0, err
	}
	return issued, nil
}

// Peek returns the nonce the next call to Next would issue, without issuing it.
func (a *Allocator) Peek(ctx context.Context, address string) (uint64, bool, error) {
	var counter store.NonceCounter
	res := a.db.WithContext(ctx).Where("address = ?", queue.NormalizeAddress(address)).Limit(1).Find(&counter)
	if res.Error != nil {
		return 0, false, errors.Wrap(res.Error, "failed to read nonce counter")
	}
	return counter.Nonce, res.RowsAffected > 0, nil
}

// Rewind lowers the counter of address so the next issued nonce is next. It
// is used after a nonce shift removed a transaction from the sequence. A
// counter already at or below next is left alone.
func (a *Allocator) Rewind(ctx context.Context, address string, next uint64) error {
	address = queue.NormalizeAddress(address)
	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if a.postgres {
			if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", lockKey(address)).Error; err != nil {
				return errors.Wrapf(err, "failed to lock nonce of %s", address)
			}
		}
		var counter store.NonceCounter
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("address = ?", address).
			Limit(1).
			Find(&counter)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "failed to read nonce counter of %s", address)
		}
		if res.RowsAffected == 0 || counter.Nonce <= next {
			return nil
		}
		if err := tx.Model(&store.NonceCounter{}).
			Where("address = ?", address).
			Update("nonce", next).Error; err != nil {
			return errors.Wrapf(err, "failed to rewind nonce counter of %s", address)
		}
		a.logger.Info().Str("address", address).Uint64("from", counter.Nonce).Uint64("to", next).Msg("nonce counter rewound")
		return nil
	})
}

// initial computes the seed outside the locked transaction. It is only used
// when no counter row exists.
func (a *Allocator) initial(ctx context.Context, address string) (uint64, error) {
	if a.seed == nil {
		return 0, nil
	}
	_, exists, err := a.Peek(ctx, address)
	if err != nil || exists {
		return 0, err
	}
	n, err := a.seed(ctx, address)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to seed nonce of %s", address)
	}
	return n, nil
}

// next must run inside tx.
func (a *Allocator) next(tx *gorm.DB, address string, initial uint64) (uint64, error) {
	if a.postgres {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", lockKey(address)).Error; err != nil {
			return 0, errors.Wrapf(err, "failed to lock nonce of %s", address)
		}
	}

	var counter store.NonceCounter
	res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("address = ?", address).
		Limit(1).
		Find(&counter)
	if res.Error != nil {
		return 0, errors.Wrapf(res.Error, "failed to read nonce counter of %s", address)
	}

	if res.RowsAffected == 0 {
		counter = store.NonceCounter{Address: address, Nonce: initial + 1}
		if err := tx.Create(&counter).Error; err != nil {
			return 0, errors.Wrapf(err, "failed to create nonce counter of %s", address)
		}
		a.issued(address, initial)
		return initial, nil
	}

	issued := counter.Nonce
	upd := tx.Model(&store.NonceCounter{}).
		Where("address = ? AND nonce = ?", address, issued).
		Update("nonce", issued+1)
	if upd.Error != nil {
		return 0, errors.Wrapf(upd.Error, "failed to advance nonce counter of %s", address)
	}
	if upd.RowsAffected != 1 {
		return 0, errors.Errorf("nonce counter of %s moved while locked", address)
	}
	a.issued(address, issued)
	return issued, nil
}

func (a *Allocator) issued(address string, n uint64) {
	a.metrics.NonceIssued()
	a.logger.Debug().Str("address", address).Uint64("nonce", n).Msg("nonce issued")
}

// lockKey maps an address to a postgres advisory lock id.
func lockKey(address string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("nonce:" + address))
	return int64(h.Sum64())
}
