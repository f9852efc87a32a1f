package syncer

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/pushchain/txledger/txledger/db"
	"github.com/pushchain/txledger/txledger/store"
)

// RoleHead is the cursor role of the live syncer
const RoleHead = "head"

// HistoryRole names the history session starting at from
func HistoryRole(from uint64) string {
	return "history:" + strconv.FormatUint(from, 10)
}

// Cursor is a position (block, tx index) of one syncer
type Cursor struct {
	Role    string
	Block   uint64
	TxIndex uint
	Target  *uint64
	Done    bool
}

// CursorStore persists syncer cursors of one chain
type CursorStore struct {
	db    *gorm.DB
	chain string
}

// NewCursorStore creates a CursorStore
func NewCursorStore(database *db.DB, chain string) *CursorStore {
	return &CursorStore{db: database.Client(), chain: chain}
}

func toCursor(row *store.SyncCursor) *Cursor {
	return &Cursor{
		Role:    row.Role,
		Block:   row.BlockHeight,
		TxIndex: row.TxIndex,
		Target:  row.Target,
		Done:    row.Done,
	}
}

// Load returns the cursor of role, or nil when none exists
func (s *CursorStore) Load(ctx context.Context, role string) (*Cursor, error) {
	var row store.SyncCursor
	res := s.db.WithContext(ctx).Where("chain = ? AND role = ?", s.chain, role).Limit(1).Find(&row)
	if res.Error != nil {
		return nil, errors.Wrapf(res.Error, "failed to load %s cursor", role)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return toCursor(&row), nil
}

// Create inserts a new cursor
func (s *CursorStore) Create(ctx context.Context, c *Cursor) error {
	row := store.SyncCursor{
		Chain:       s.chain,
		Role:        c.Role,
		BlockHeight: c.Block,
		TxIndex:     c.TxIndex,
		Target:      c.Target,
		Done:        c.Done,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrapf(err, "failed to create %s cursor", c.Role)
	}
	return nil
}

// Save moves the cursor of role to (block, txIndex)
func (s *CursorStore) Save(ctx context.Context, role string, block uint64, txIndex uint) error {
	res := s.db.WithContext(ctx).Model(&store.SyncCursor{}).
		Where("chain = ? AND role = ?", s.chain, role).
		Updates(map[string]any{"block_height": block, "tx_index": txIndex})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "failed to save %s cursor", role)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("%s cursor does not exist", role)
	}
	return nil
}

// MarkDone flags a history cursor as finished
func (s *CursorStore) MarkDone(ctx context.Context, role string) error {
	if err := s.db.WithContext(ctx).Model(&store.SyncCursor{}).
		Where("chain = ? AND role = ?", s.chain, role).
		Update("done", true).Error; err != nil {
		return errors.Wrapf(err, "failed to finish %s cursor", role)
	}
	return nil
}

// Unfinished returns history cursors not yet done, oldest first
func (s *CursorStore) Unfinished(ctx context.Context) ([]*Cursor, error) {
	var rows []store.SyncCursor
	if err := s.db.WithContext(ctx).
		Where("chain = ? AND role <> ? AND done = ?", s.chain, RoleHead, false).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list history cursors")
	}
	out := make([]*Cursor, 0, len(rows))
	for i := range rows {
		out = append(out, toCursor(&rows[i]))
	}
	return out, nil
}
