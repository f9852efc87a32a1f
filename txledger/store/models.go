// Package store contains the GORM models of the ledger.
//
// Database Structure (sqlite file: <NodeHome>/databases/ledger.db, or a postgres schema):
//
//	ledger
//	├── otx                  one row per signed transaction attempt
//	├── otx_state_log        append-only status transition trail
//	├── tx_cache             decoded metadata of an otx row
//	├── nonce_counters       next nonce per address
//	├── nonce_reservations   nonce held by an idempotency key
//	├── address_locks        admission control flags per address
//	├── sync_cursors         block syncer positions
//	└── operator_alerts      unclassified send failures
package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/pushchain/txledger/txledger/status"
)

// Otx is an outgoing transaction attempt. Rows are never deleted; a resend
// inserts a new row with the same (sender, nonce) and obsoletes the old one.
type Otx struct {
	gorm.Model
	Nonce    uint64        `gorm:"index:idx_otx_sender_nonce,priority:2;not null"`
	Sender   string        `gorm:"index:idx_otx_sender_nonce,priority:1;size:42;not null"` // Checksummed sender address
	TxHash   string        `gorm:"uniqueIndex;size:66;not null"`                           // 0x prefixed transaction hash
	SignedTx string        `gorm:"type:text;not null"`                                     // Hex encoded signed transaction
	Status   status.Status `gorm:"index;not null;default:0"`
	Block    *uint64       // Block the transaction was mined in, nil until confirmed
}

// TableName specifies the table name for Otx.
func (Otx) TableName() string {
	return "otx"
}

// OtxStateLog records one status transition of an otx row.
type OtxStateLog struct {
	ID        uint          `gorm:"primarykey"`
	OtxID     uint          `gorm:"index;not null"`
	Otx       *Otx          `gorm:"constraint:OnDelete:RESTRICT"`
	Status    status.Status `gorm:"not null"`
	CreatedAt time.Time
}

// TableName specifies the table name for OtxStateLog.
func (OtxStateLog) TableName() string {
	return "otx_state_log"
}

// TxCache is the decoded view of an otx row so queries can filter by
// sender and recipient without decoding signed payloads.
type TxCache struct {
	gorm.Model
	OtxID            uint      `gorm:"uniqueIndex;not null"`
	Otx              *Otx      `gorm:"constraint:OnDelete:RESTRICT"`
	Sender           string    `gorm:"index;size:42;not null"`
	Recipient        string    `gorm:"index;size:42;not null"`
	SourceToken      string    `gorm:"size:42"` // Zero address for native value
	DestinationToken string    `gorm:"size:42"`
	FromValue        string    `gorm:"not null;default:'0'"` // Decimal string
	ToValue          string    `gorm:"not null;default:'0'"` // Decimal string
	GasPrice         string    `gorm:"not null;default:'0'"` // Decimal wei
	BlockNumber      *uint64   // Set when the transaction is mined
	TxIndex          *uint     // Position in block
	DateChecked      time.Time `gorm:"index"` // Last time the retry syncer or a filter looked at the row
}

// TableName specifies the table name for TxCache.
func (TxCache) TableName() string {
	return "tx_cache"
}

// NonceCounter holds the next nonce to issue for an address.
type NonceCounter struct {
	Address   string `gorm:"primaryKey;size:42"`
	Nonce     uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

// NonceReservation ties an issued nonce to the unit of work that asked for it.
type NonceReservation struct {
	Key       string `gorm:"column:reservation_key;primaryKey;size:128"`
	Address   string `gorm:"index;size:42;not null"`
	Nonce     uint64 `gorm:"not null"`
	CreatedAt time.Time
}

// AddressLock holds admission control flags for an address on a chain.
// The zero address carries flags that apply to every address.
type AddressLock struct {
	ID        uint   `gorm:"primarykey"`
	Chain     string `gorm:"uniqueIndex:idx_lock_chain_address;size:64;not null"`
	Address   string `gorm:"uniqueIndex:idx_lock_chain_address;size:42;not null"`
	Flags     uint64 `gorm:"not null"`
	TxHash    string `gorm:"size:66"` // Transaction that triggered the lock, if any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncCursor is the position of one block syncer. Role is "head" or a
// "history:<id>" session.
type SyncCursor struct {
	gorm.Model
	Chain       string  `gorm:"uniqueIndex:idx_cursor_chain_role;size:64;not null"`
	Role        string  `gorm:"uniqueIndex:idx_cursor_chain_role;size:64;not null"`
	BlockHeight uint64  `gorm:"not null"`
	TxIndex     uint    `gorm:"not null"`
	Target      *uint64 // Exclusive upper bound for history sessions
	Done        bool    `gorm:"not null;default:false"`
}

// OperatorAlert records a send failure that needs human attention.
type OperatorAlert struct {
	ID        uint   `gorm:"primarykey"`
	Chain     string `gorm:"size:64;not null"`
	Sender    string `gorm:"index;size:42;not null"`
	TxHash    string `gorm:"index;size:66"`
	Reason    string `gorm:"type:text"`
	CreatedAt time.Time
}

// Models lists every table, in migration order.
func Models() []any {
	return []any{
		&Otx{},
		&OtxStateLog{},
		&TxCache{},
		&NonceCounter{},
		&NonceReservation{},
		&AddressLock{},
		&SyncCursor{},
		&OperatorAlert{},
	}
}
