package lock

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/txledger/db"
	lerrors "github.com/pushchain/txledger/txledger/errors"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

func newTestLocker(t *testing.T) *Locker {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewLocker(database, "eip155:8996", zerolog.Nop())
}

func TestLockAndCheck(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	flags, err := l.Lock(ctx, alice, Send, "")
	require.NoError(t, err)
	assert.Equal(t, Send, flags)

	flags, err = l.Lock(ctx, alice, Queue, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, Send|Queue, flags)

	err = l.Check(ctx, alice, Send)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lerrors.ErrLocked))

	assert.NoError(t, l.Check(ctx, alice, Create))
	assert.NoError(t, l.Check(ctx, bob, Send))
}

func TestGlobalLockAppliesToEveryAddress(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, "", Create, "")
	require.NoError(t, err)

	assert.True(t, errors.Is(l.Check(ctx, alice, Create), lerrors.ErrLocked))
	assert.True(t, errors.Is(l.Check(ctx, bob, Create), lerrors.ErrLocked))
	assert.NoError(t, l.Check(ctx, bob, Send))

	agg, err := l.Aggregate(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Create, agg)
}

func TestUnlockDeletesEmptyRow(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, alice, Send|Queue, "")
	require.NoError(t, err)

	left, err := l.Unlock(ctx, alice, Send)
	require.NoError(t, err)
	assert.Equal(t, Queue, left)

	left, err = l.Unlock(ctx, alice, Queue)
	require.NoError(t, err)
	assert.Equal(t, Flag(0), left)

	rows, err := l.Get(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUnlockMissingIsNoop(t *testing.T) {
	l := newTestLocker(t)
	left, err := l.Unlock(context.Background(), alice, All)
	require.NoError(t, err)
	assert.Equal(t, Flag(0), left)
}

func TestStickyLock(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, alice, Sticky|Send, "")
	require.NoError(t, err)

	_, err = l.Unlock(ctx, alice, Send)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lerrors.ErrLocked))
	assert.True(t, errors.Is(l.Check(ctx, alice, Send), lerrors.ErrLocked))

	left, err := l.Unlock(ctx, alice, Sticky|All)
	require.NoError(t, err)
	assert.Equal(t, Flag(0), left)
	assert.NoError(t, l.Check(ctx, alice, Send))
}

func TestGetFiltersByAddress(t *testing.T) {
	l := newTestLocker(t)
	ctx := context.Background()

	_, err := l.Lock(ctx, alice, Send, "")
	require.NoError(t, err)
	_, err = l.Lock(ctx, bob, Queue, "")
	require.NoError(t, err)

	all, err := l.Get(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	addr := alice
	rows, err := l.Get(ctx, &addr)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(Send), rows[0].Flags)
}

func TestFlagNames(t *testing.T) {
	assert.Equal(t, "NONE", Flag(0).String())
	assert.Equal(t, "SEND|QUEUE", (Send | Queue).String())

	f, err := ParseFlags("send|queue")
	require.NoError(t, err)
	assert.Equal(t, Send|Queue, f)

	f, err = ParseFlags("all")
	require.NoError(t, err)
	assert.Equal(t, All, f)
	assert.Zero(t, f&Sticky)

	_, err = ParseFlags("bogus")
	assert.Error(t, err)
}
