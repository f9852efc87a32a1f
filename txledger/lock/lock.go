// Package lock implements address level admission control. Flags set on the
// zero address apply to every address.
package lock

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/txledger/txledger/db"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/store"
)

// Flag is a lock bit.
type Flag uint64

const (
	// Sticky locks can only be removed by an unlock that includes Sticky.
	Sticky Flag = 1 << iota
	// Create suspends building new transactions.
	Create
	// Send suspends submitting transactions to the network.
	Send
	// Queue suspends entering transactions into the queue.
	Queue
	// Query suspends network queries on behalf of the address.
	Query

	// All is every flag except Sticky.
	All Flag = 0x7ffffffffffffffe
)

// ZeroAddress carries the global lock.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

var flagNames = []struct {
	flag Flag
	name string
}{
	{Sticky, "STICKY"},
	{Create, "CREATE"},
	{Send, "SEND"},
	{Queue, "QUEUE"},
	{Query, "QUERY"},
}

func (f Flag) String() string {
	if f == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if f&^(Sticky|Create|Send|Queue|Query) != 0 {
		parts = append(parts, "OTHER")
	}
	return strings.Join(parts, "|")
}

// ParseFlags parses "SEND|QUEUE" style names. "ALL" selects All.
func ParseFlags(s string) (Flag, error) {
	var f Flag
	for _, part := range strings.FieldsFunc(strings.ToUpper(s), func(r rune) bool { return r == '|' || r == ',' }) {
		part = strings.TrimSpace(part)
		if part == "ALL" {
			f |= All
			continue
		}
		found := false
		for _, n := range flagNames {
			if n.name == part {
				f |= n.flag
				found = true
			}
		}
		if !found {
			return 0, errors.Errorf("unknown lock flag %q", part)
		}
	}
	return f, nil
}

// Locker reads and writes address locks of one chain.
type Locker struct {
	db     *gorm.DB
	chain  string
	logger zerolog.Logger
}

// NewLocker creates a Locker for chain.
func NewLocker(database *db.DB, chain string, logger zerolog.Logger) *Locker {
	return &Locker{
		db:     database.Client(),
		chain:  chain,
		logger: logger.With().Str("component", "locker").Logger(),
	}
}

func normalize(address string) string {
	if address == "" {
		return ZeroAddress
	}
	return queue.NormalizeAddress(address)
}

// Lock adds flags to address (the zero address when empty) and returns the
// resulting flags. txHash optionally records the triggering transaction.
func (l *Locker) Lock(ctx context.Context, address string, flags Flag, txHash string) (Flag, error) {
	address = normalize(address)
	var result Flag
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row store.AddressLock
		res := tx.Where("chain = ? AND address = ?", l.chain, address).Limit(1).Find(&row)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to load lock")
		}
		if res.RowsAffected == 0 {
			row = store.AddressLock{Chain: l.chain, Address: address, Flags: uint64(flags), TxHash: txHash}
			if err := tx.Create(&row).Error; err != nil {
				return errors.Wrapf(err, "failed to create lock for %s", address)
			}
			result = flags
			return nil
		}
		row.Flags |= uint64(flags)
		if txHash != "" {
			row.TxHash = txHash
		}
		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrapf(err, "failed to update lock for %s", address)
		}
		result = Flag(row.Flags)
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info().
		Str("address", address).
		Str("flags", flags.String()).
		Str("tx_hash", txHash).
		Msg("address locked")
	return result, nil
}

// Unlock removes flags from address and returns what is left. A sticky lock
// is only touched when flags includes Sticky. The row is deleted once no
// flags remain.
func (l *Locker) Unlock(ctx context.Context, address string, flags Flag) (Flag, error) {
	address = normalize(address)
	var result Flag
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row store.AddressLock
		res := tx.Where("chain = ? AND address = ?", l.chain, address).Limit(1).Find(&row)
		if res.Error != nil {
			return errors.Wrap(res.Error, "failed to load lock")
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if Flag(row.Flags)&Sticky != 0 && flags&Sticky == 0 {
			return errors.Wrapf(lerrors.ErrLocked, "lock on %s is sticky", address)
		}

		row.Flags &^= uint64(flags)
		result = Flag(row.Flags)
		if row.Flags == 0 {
			if err := tx.Delete(&store.AddressLock{}, row.ID).Error; err != nil {
				return errors.Wrapf(err, "failed to delete lock for %s", address)
			}
			return nil
		}
		if err := tx.Save(&row).Error; err != nil {
			return errors.Wrapf(err, "failed to update lock for %s", address)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.logger.Info().
		Str("address", address).
		Str("flags", flags.String()).
		Str("remaining", result.String()).
		Msg("address unlocked")
	return result, nil
}

// Aggregate returns the global flags combined with the flags of address.
func (l *Locker) Aggregate(ctx context.Context, address string) (Flag, error) {
	var rows []store.AddressLock
	if err := l.db.WithContext(ctx).
		Where("chain = ? AND address IN ?", l.chain, []string{ZeroAddress, normalize(address)}).
		Find(&rows).Error; err != nil {
		return 0, errors.Wrap(err, "failed to load locks")
	}
	var f Flag
	for _, r := range rows {
		f |= Flag(r.Flags)
	}
	return f, nil
}

// Check fails with ErrLocked when any of flags is set globally or on address.
func (l *Locker) Check(ctx context.Context, address string, flags Flag) error {
	agg, err := l.Aggregate(ctx, address)
	if err != nil {
		return err
	}
	if hit := agg & flags; hit != 0 {
		return errors.Wrapf(lerrors.ErrLocked, "%s is locked for %s", normalize(address), hit)
	}
	return nil
}

// Get returns the locks of address, or every lock of the chain when address is nil.
func (l *Locker) Get(ctx context.Context, address *string) ([]store.AddressLock, error) {
	q := l.db.WithContext(ctx).Where("chain = ?", l.chain)
	if address != nil {
		q = q.Where("address = ?", normalize(*address))
	}
	var rows []store.AddressLock
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list locks")
	}
	return rows, nil
}
