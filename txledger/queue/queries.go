package queue

import (
	"math/big"
	"time"

	"github.com/pkg/errors"

	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// Entry is the read-only projection of an otx row joined with its cache.
type Entry struct {
	TxHash           string        `json:"tx_hash"`
	Nonce            uint64        `json:"nonce"`
	Sender           string        `json:"sender"`
	Recipient        string        `json:"recipient"`
	SourceToken      string        `json:"source_token"`
	DestinationToken string        `json:"destination_token"`
	FromValue        string        `json:"from_value"`
	ToValue          string        `json:"to_value"`
	GasPrice         string        `json:"gas_price"`
	Status           status.Status `json:"status_code"`
	StatusName       string        `json:"status"`
	BlockNumber      *uint64       `json:"block_number,omitempty"`
	TxIndex          *uint         `json:"tx_index,omitempty"`
	SignedTx         string        `json:"signed_tx"`
	DateCreated      time.Time     `json:"date_created"`
	DateUpdated      time.Time     `json:"date_updated"`
	DateChecked      *time.Time    `json:"date_checked,omitempty"`
}

// Get loads an otx row by hash. A missing row is an integrity error.
func (q *Queue) Get(txHash string) (*store.Otx, error) {
	txHash = NormalizeHash(txHash)
	var row store.Otx
	if err := q.db.Where("tx_hash = ?", txHash).First(&row).Error; err != nil {
		if isNotFound(err) {
			return nil, lerrors.Integrity("otx %s not found", txHash)
		}
		return nil, errors.Wrapf(err, "failed to load otx %s", txHash)
	}
	return &row, nil
}

// GetCache loads the cache row of txHash.
func (q *Queue) GetCache(txHash string) (*store.TxCache, error) {
	row, err := q.Get(txHash)
	if err != nil {
		return nil, err
	}
	var c store.TxCache
	if err := q.db.Where("otx_id = ?", row.ID).First(&c).Error; err != nil {
		if isNotFound(err) {
			return nil, lerrors.Integrity("cache of otx %s not found", row.TxHash)
		}
		return nil, errors.Wrapf(err, "failed to load cache of %s", row.TxHash)
	}
	return &c, nil
}

// Entry returns the combined view of txHash. Rows without a cache are
// returned with empty cache fields.
func (q *Queue) Entry(txHash string) (*Entry, error) {
	row, err := q.Get(txHash)
	if err != nil {
		return nil, err
	}
	var c store.TxCache
	res := q.db.Where("otx_id = ?", row.ID).Limit(1).Find(&c)
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "failed to load cache of %s", row.TxHash)
	}
	if res.RowsAffected == 0 {
		return toEntry(row, nil), nil
	}
	return toEntry(row, &c), nil
}

func toEntry(o *store.Otx, c *store.TxCache) *Entry {
	e := &Entry{
		TxHash:      o.TxHash,
		Nonce:       o.Nonce,
		Sender:      o.Sender,
		Status:      o.Status,
		StatusName:  o.Status.String(),
		BlockNumber: o.Block,
		SignedTx:    o.SignedTx,
		DateCreated: o.CreatedAt,
		DateUpdated: o.UpdatedAt,
	}
	if c != nil {
		e.Recipient = c.Recipient
		e.SourceToken = c.SourceToken
		e.DestinationToken = c.DestinationToken
		e.FromValue = c.FromValue
		e.ToValue = c.ToValue
		e.GasPrice = c.GasPrice
		e.TxIndex = c.TxIndex
		if c.BlockNumber != nil {
			e.BlockNumber = c.BlockNumber
		}
		checked := c.DateChecked
		e.DateChecked = &checked
	}
	return e
}

// ListQuery selects rows touching an address.
type ListQuery struct {
	Address     string
	AsSender    bool
	AsRecipient bool
	Status      *status.Status // Exact status match when set
	Offset      int
	Limit       int
}

// ListForAddress returns rows where the address is sender and/or recipient,
// newest first.
func (q *Queue) ListForAddress(query ListQuery) ([]Entry, error) {
	if !query.AsSender && !query.AsRecipient {
		query.AsSender, query.AsRecipient = true, true
	}
	if query.Limit <= 0 {
		query.Limit = 100
	}
	addr := NormalizeAddress(query.Address)

	type joined struct {
		store.Otx
		CacheRecipient   string
		SourceToken      string
		DestinationToken string
		FromValue        string
		ToValue          string
		GasPrice         string
		CacheBlock       *uint64
		TxIndex          *uint
		DateChecked      *time.Time
	}

	tx := q.db.Table("otx").
		Select("otx.*, tx_cache.recipient AS cache_recipient, tx_cache.source_token, tx_cache.destination_token, " +
			"tx_cache.from_value, tx_cache.to_value, tx_cache.gas_price, tx_cache.block_number AS cache_block, " +
			"tx_cache.tx_index, tx_cache.date_checked").
		Joins("JOIN tx_cache ON tx_cache.otx_id = otx.id").
		Where("otx.deleted_at IS NULL")

	switch {
	case query.AsSender && query.AsRecipient:
		tx = tx.Where("tx_cache.sender = ? OR tx_cache.recipient = ?", addr, addr)
	case query.AsSender:
		tx = tx.Where("tx_cache.sender = ?", addr)
	default:
		tx = tx.Where("tx_cache.recipient = ?", addr)
	}
	if query.Status != nil {
		tx = tx.Where("otx.status = ?", *query.Status)
	}

	var rows []joined
	if err := tx.Order("otx.id DESC").Offset(query.Offset).Limit(query.Limit).Scan(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to list transactions of %s", addr)
	}

	out := make([]Entry, 0, len(rows))
	for i := range rows {
		r := rows[i]
		c := &store.TxCache{
			Recipient:        r.CacheRecipient,
			SourceToken:      r.SourceToken,
			DestinationToken: r.DestinationToken,
			FromValue:        r.FromValue,
			ToValue:          r.ToValue,
			GasPrice:         r.GasPrice,
			BlockNumber:      r.CacheBlock,
			TxIndex:          r.TxIndex,
		}
		e := toEntry(&r.Otx, c)
		e.DateChecked = r.DateChecked
		out = append(out, *e)
	}
	return out, nil
}

// Group returns every row sharing (sender, nonce) in insertion order.
func (q *Queue) Group(sender string, nonce uint64) ([]store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Where("sender = ? AND nonce = ?", NormalizeAddress(sender), nonce).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query nonce group")
	}
	return rows, nil
}

// CountGroup counts the attempts made for (sender, nonce).
func (q *Queue) CountGroup(sender string, nonce uint64) (int64, error) {
	var n int64
	if err := q.db.Model(&store.Otx{}).
		Where("sender = ? AND nonce = ?", NormalizeAddress(sender), nonce).
		Count(&n).Error; err != nil {
		return 0, errors.Wrap(err, "failed to count nonce group")
	}
	return n, nil
}

// Queued returns rows waiting to be sent (READYSEND or RETRY), ordered by
// sender and nonce.
func (q *Queue) Queued(limit int) ([]store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Where("status & ? <> 0", status.BitQueued).
		Where("status & ? = 0", status.BitReserved|status.BitGasIssues|status.Dead).
		Order("sender ASC, nonce ASC, id ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query queued transactions")
	}
	return rows, nil
}

// SendFailedBefore returns SENDFAIL rows last updated before t.
func (q *Queue) SendFailedBefore(t time.Time, limit int) ([]store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Where("status & ? = ?", status.BitLocalError|status.BitDeferred, status.BitLocalError|status.BitDeferred).
		Where("status & ? = 0", status.BitQueued|status.Dead).
		Where("updated_at < ?", t).
		Order("sender ASC, nonce ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query failed sends")
	}
	return rows, nil
}

// StaleSent returns rows in the network, not final, manual or obsolete, whose
// cache was last checked before t.
func (q *Queue) StaleSent(t time.Time, limit int) ([]store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Joins("JOIN tx_cache ON tx_cache.otx_id = otx.id").
		Where("otx.status & ? <> 0", status.BitInNetwork).
		Where("otx.status & ? = 0", status.BitFinal|status.BitManual|status.BitObsolete|status.BitQueued|status.BitReserved).
		Where("tx_cache.date_checked < ?", t).
		Order("tx_cache.date_checked ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query stale transactions")
	}
	return rows, nil
}

// TouchChecked sets the cache check time of txHash.
func (q *Queue) TouchChecked(txHash string, t time.Time) error {
	row, err := q.Get(txHash)
	if err != nil {
		return err
	}
	if err := q.db.Model(&store.TxCache{}).
		Where("otx_id = ?", row.ID).
		Update("date_checked", t).Error; err != nil {
		return errors.Wrapf(err, "failed to touch cache of %s", row.TxHash)
	}
	return nil
}

// WaitingForGas returns the WAITFORGAS rows of sender in nonce order.
func (q *Queue) WaitingForGas(sender string) ([]store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Where("sender = ?", NormalizeAddress(sender)).
		Where("status & ? <> 0", status.BitGasIssues).
		Where("status & ? = 0", status.Dead).
		Order("nonce ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query transactions waiting for gas")
	}
	return rows, nil
}

// HasLiveRefill reports whether a live native transfer with non-zero value
// from provider to recipient exists.
func (q *Queue) HasLiveRefill(provider, recipient string) (bool, error) {
	var n int64
	if err := q.db.Model(&store.Otx{}).
		Joins("JOIN tx_cache ON tx_cache.otx_id = otx.id").
		Where("tx_cache.sender = ? AND tx_cache.recipient = ?", NormalizeAddress(provider), NormalizeAddress(recipient)).
		Where("tx_cache.source_token = ? AND tx_cache.from_value <> ?", NativeToken, "0").
		Where("otx.status & ? = 0", status.Dead).
		Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "failed to query refills")
	}
	return n > 0, nil
}

// IsRefill reports whether txHash is a native value transfer sent by provider.
func (q *Queue) IsRefill(txHash, provider string) (bool, *store.TxCache, error) {
	c, err := q.GetCache(txHash)
	if err != nil {
		return false, nil, err
	}
	ok := c.Sender == NormalizeAddress(provider) && c.SourceToken == NativeToken
	return ok, c, nil
}

// StateLog returns the transitions of txHash, oldest first.
func (q *Queue) StateLog(txHash string) ([]store.OtxStateLog, error) {
	row, err := q.Get(txHash)
	if err != nil {
		return nil, err
	}
	var logs []store.OtxStateLog
	if err := q.db.Where("otx_id = ?", row.ID).Order("id ASC").Find(&logs).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load state log of %s", row.TxHash)
	}
	return logs, nil
}

// HighestNonce returns the largest nonce recorded for sender. ok is false when
// the sender has no rows.
func (q *Queue) HighestNonce(sender string) (nonce uint64, ok bool, err error) {
	var row store.Otx
	res := q.db.Where("sender = ?", NormalizeAddress(sender)).Order("nonce DESC").Limit(1).Find(&row)
	if res.Error != nil {
		return 0, false, errors.Wrap(res.Error, "failed to query highest nonce")
	}
	return row.Nonce, res.RowsAffected > 0, nil
}

// Blocking returns the lowest-nonce row of sender that ended in a local, node
// or unknown error without a replacement. Such a row leaves a nonce gap that
// holds back every later transaction. nil when there is none.
func (q *Queue) Blocking(sender string) (*store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Where("sender = ?", NormalizeAddress(sender)).
		Where("status & ? <> 0", status.BitFinal).
		Where("status & ? = 0", status.BitObsolete|status.BitNetworkError|status.BitInNetwork).
		Where("status & ? <> 0", status.BitLocalError|status.BitNodeError|status.BitUnknownError).
		Order("nonce ASC, id ASC").
		Limit(1).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query blocking transactions")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// AliveAbove returns the live rows of sender with a nonce above nonce, in
// nonce order.
func (q *Queue) AliveAbove(sender string, nonce uint64) ([]store.Otx, error) {
	var rows []store.Otx
	if err := q.db.
		Where("sender = ? AND nonce > ?", NormalizeAddress(sender), nonce).
		Where("status & ? = 0", status.Dead).
		Order("nonce ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query later transactions")
	}
	return rows, nil
}

// PendingOutgoing sums the value of token that live rows of sender still
// have to move.
func (q *Queue) PendingOutgoing(sender, token string) (*big.Int, error) {
	return q.pendingSum("from_value",
		"tx_cache.sender = ? AND tx_cache.source_token = ?", NormalizeAddress(sender), NormalizeAddress(token))
}

// PendingIncoming sums the value of token that live rows already in the
// network will credit to recipient.
func (q *Queue) PendingIncoming(recipient, token string) (*big.Int, error) {
	return q.pendingSum("to_value",
		"tx_cache.recipient = ? AND tx_cache.destination_token = ? AND otx.status & ? <> 0",
		NormalizeAddress(recipient), NormalizeAddress(token), status.BitInNetwork)
}

// Values are decimal strings wider than any SQL integer type, so the sum is
// done here.
func (q *Queue) pendingSum(column, where string, args ...any) (*big.Int, error) {
	var values []string
	if err := q.db.Table("otx").
		Select("tx_cache."+column).
		Joins("JOIN tx_cache ON tx_cache.otx_id = otx.id").
		Where("otx.deleted_at IS NULL").
		Where("otx.status & ? = 0", status.Dead).
		Where(where, args...).
		Pluck("tx_cache."+column, &values).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query pending values")
	}
	sum := new(big.Int)
	for _, v := range values {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, lerrors.Integrity("cached value %q is not a decimal", v)
		}
		sum.Add(sum, n)
	}
	return sum, nil
}

// NativeToken is the token identifier recorded for native value transfers.
const NativeToken = "0x0000000000000000000000000000000000000000"
