package nonce

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/store"
)

// Reservations ties issued nonces to idempotency keys so a retried unit of
// work cannot take a second nonce.
type Reservations struct {
	alloc *Allocator
}

// NewReservations wraps an Allocator.
func NewReservations(alloc *Allocator) *Reservations {
	return &Reservations{alloc: alloc}
}

// Next issues a nonce of address for key. A key with a live reservation is
// an integrity error and leaves the counter untouched.
func (r *Reservations) Next(ctx context.Context, address, key string) (uint64, error) {
	address = queue.NormalizeAddress(address)
	initial, err := r.alloc.initial(ctx, address)
	if err != nil {
		return 0, err
	}

	var issued uint64
	err = r.alloc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&store.NonceReservation{}).Where("reservation_key = ?", key).Count(&existing).Error; err != nil {
			return errors.Wrap(err, "failed to check reservation")
		}
		if existing > 0 {
			return lerrors.Integrity("nonce already reserved for key %s", key)
		}

		n, err := r.alloc.next(tx, address, initial)
		if err != nil {
			return err
		}
		res := store.NonceReservation{Key: key, Address: address, Nonce: n}
		if err := tx.Create(&res).Error; err != nil {
			return errors.Wrapf(err, "failed to record reservation %s", key)
		}
		issued = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return issued, nil
}

// Release removes the reservation of key and returns its nonce.
func (r *Reservations) Release(ctx context.Context, key string) (uint64, error) {
	var released store.NonceReservation
	err := r.alloc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("reservation_key = ?", key).Limit(1).Find(&released)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to load reservation")
		}
		if res.RowsAffected == 0 {
			return lerrors.Integrity("no nonce reserved for key %s", key)
		}
		if err := tx.Where("reservation_key = ?", key).Delete(&store.NonceReservation{}).Error; err != nil {
			return errors.Wrapf(err, "failed to release reservation %s", key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released.Nonce, nil
}

// Peek returns the live reservation of key, if any.
func (r *Reservations) Peek(ctx context.Context, key string) (*store.NonceReservation, error) {
	var res store.NonceReservation
	q := r.alloc.db.WithContext(ctx).Where("reservation_key = ?", key).Limit(1).Find(&res)
	if q.Error != nil {
		return nil, errors.Wrap(q.Error, "failed to load reservation")
	}
	if q.RowsAffected == 0 {
		return nil, nil
	}
	return &res, nil
}

// Rewind lowers the counter of address so next is issued next. See
// Allocator.Rewind.
func (r *Reservations) Rewind(ctx context.Context, address string, next uint64) error {
	return r.alloc.Rewind(ctx, address, next)
}

// Allocator returns the wrapped Allocator.
func (r *Reservations) Allocator() *Allocator { return r.alloc }
