// Package queue owns the outgoing transaction table: inserting attempts,
// caching their decoded metadata and moving them through the status machine.
//
// Every transition loads the row, checks its guard and writes the new status
// with an UPDATE conditioned on the status it observed. A guard failure or a
// lost race returns errors.ErrStateViolation; nothing is downgraded to a
// warning. Divergence between the ledger and the network is repaired by the
// audit package, not by relaxing guards here.
package queue

import (
	stderrors "errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pushchain/txledger/txledger/db"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// Queue reads and mutates otx rows.
type Queue struct {
	db       *gorm.DB
	traceLog bool
	logger   zerolog.Logger
}

// New creates a Queue. With traceLog set every transition appends an
// otx_state_log row.
func New(database *db.DB, traceLog bool, logger zerolog.Logger) *Queue {
	return &Queue{
		db:       database.Client(),
		traceLog: traceLog,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
}

// WithTx returns a Queue whose statements run inside tx.
func (q *Queue) WithTx(tx *gorm.DB) *Queue {
	c := *q
	c.db = tx
	return &c
}

// Transaction runs fn against a Queue bound to one database transaction.
func (q *Queue) Transaction(fn func(q *Queue) error) error {
	return q.db.Transaction(func(tx *gorm.DB) error {
		return fn(q.WithTx(tx))
	})
}

// DB exposes the handle the queue runs on, for callers composing their own
// statements into the same transaction.
func (q *Queue) DB() *gorm.DB {
	return q.db
}

// NewOtx describes a signed transaction entering the ledger.
type NewOtx struct {
	Sender   string
	Nonce    uint64
	TxHash   string
	SignedTx string
}

// Create inserts a PENDING row. Live rows already holding the same
// (sender, nonce) are obsoleted.
func (q *Queue) Create(n NewOtx) (*store.Otx, error) {
	row := store.Otx{
		Sender:   NormalizeAddress(n.Sender),
		Nonce:    n.Nonce,
		TxHash:   NormalizeHash(n.TxHash),
		SignedTx: n.SignedTx,
		Status:   status.Pending,
	}
	err := q.Transaction(func(q *Queue) error {
		var predecessors []store.Otx
		if err := q.db.
			Where("sender = ? AND nonce = ?", row.Sender, row.Nonce).
			Where("status & ? = 0", status.Dead).
			Order("id ASC").
			Find(&predecessors).Error; err != nil {
			return errors.Wrap(err, "failed to query predecessors")
		}

		if err := q.db.Create(&row).Error; err != nil {
			return errors.Wrapf(err, "failed to insert otx %s", row.TxHash)
		}
		if err := q.appendLog(row.ID, row.Status); err != nil {
			return err
		}

		for _, p := range predecessors {
			if _, err := q.Cancel(p.TxHash, false); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	q.logger.Debug().
		Str("tx_hash", row.TxHash).
		Str("sender", row.Sender).
		Uint64("nonce", row.Nonce).
		Msg("otx created")
	return &row, nil
}

// CacheEntry is the decoded metadata stored next to an otx row.
type CacheEntry struct {
	Sender           string
	Recipient        string
	SourceToken      string
	DestinationToken string
	FromValue        *big.Int
	ToValue          *big.Int
	GasPrice         *big.Int
}

// CacheTx stores the decoded metadata of txHash.
func (q *Queue) CacheTx(txHash string, e CacheEntry) (*store.TxCache, error) {
	row, err := q.Get(txHash)
	if err != nil {
		return nil, err
	}
	c := store.TxCache{
		OtxID:            row.ID,
		Sender:           NormalizeAddress(e.Sender),
		Recipient:        NormalizeAddress(e.Recipient),
		SourceToken:      NormalizeAddress(e.SourceToken),
		DestinationToken: NormalizeAddress(e.DestinationToken),
		FromValue:        decimal(e.FromValue),
		ToValue:          decimal(e.ToValue),
		GasPrice:         decimal(e.GasPrice),
		DateChecked:      time.Now(),
	}
	if err := q.db.Create(&c).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to cache otx %s", row.TxHash)
	}
	return &c, nil
}

// CloneCache copies the cache row of oldHash onto newHash, replacing only the
// gas price. A cache row that already carries a block is never cloned.
func (q *Queue) CloneCache(oldHash, newHash string, gasPrice *big.Int) (*store.TxCache, error) {
	old, err := q.GetCache(oldHash)
	if err != nil {
		return nil, err
	}
	if old.BlockNumber != nil {
		return nil, lerrors.StateViolation("cache of %s is already mined in block %d", oldHash, *old.BlockNumber)
	}
	row, err := q.Get(newHash)
	if err != nil {
		return nil, err
	}
	c := store.TxCache{
		OtxID:            row.ID,
		Sender:           old.Sender,
		Recipient:        old.Recipient,
		SourceToken:      old.SourceToken,
		DestinationToken: old.DestinationToken,
		FromValue:        old.FromValue,
		ToValue:          old.ToValue,
		GasPrice:         decimal(gasPrice),
		DateChecked:      time.Now(),
	}
	if err := q.db.Create(&c).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to clone cache of %s", oldHash)
	}
	return &c, nil
}

func (q *Queue) appendLog(otxID uint, s status.Status) error {
	if !q.traceLog {
		return nil
	}
	entry := store.OtxStateLog{OtxID: otxID, Status: s}
	if err := q.db.Create(&entry).Error; err != nil {
		return errors.Wrap(err, "failed to append state log")
	}
	return nil
}

// NormalizeAddress returns the checksummed form of a hex address. Empty input
// stays empty.
func NormalizeAddress(addr string) string {
	if addr == "" {
		return ""
	}
	if !common.IsHexAddress(addr) {
		return addr
	}
	return common.HexToAddress(addr).Hex()
}

// NormalizeHash lowercases a transaction hash and adds the 0x prefix.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "0x") {
		h = "0x" + h
	}
	return h
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func isNotFound(err error) bool {
	return stderrors.Is(err, gorm.ErrRecordNotFound)
}
