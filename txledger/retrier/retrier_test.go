package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/sender/sendertest"
	"github.com/pushchain/txledger/txledger/status"
)

func newRetrier(h *sendertest.Harness) *Retrier {
	return New(h.Queue, h.Sender, time.Hour, time.Minute, 10, zerolog.Nop())
}

func TestRetrierWaitsForGracePeriod(t *testing.T) {
	h := sendertest.New(t, 1)
	alice := h.Accounts[0]
	h.Fund(alice)
	tx := h.Submit(t, alice, 0)
	ctx := context.Background()

	r := newRetrier(h)
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, status.Sent, h.Status(t, tx.Hash().Hex()))

	later := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return later }
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.Pool.Drain()
	assert.Equal(t, status.Obsoleted, h.Status(t, tx.Hash().Hex()))

	count, err := h.Queue.CountGroup(alice.Hex(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// the replacement starts a new grace period
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRetrierSkipsLockedSenderAndTouchesRow(t *testing.T) {
	h := sendertest.New(t, 1)
	alice := h.Accounts[0]
	h.Fund(alice)
	tx := h.Submit(t, alice, 0)
	ctx := context.Background()
	_, err := h.Locks.Lock(ctx, alice.Hex(), lock.Queue, "")
	require.NoError(t, err)

	r := newRetrier(h)
	later := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return later }

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, status.Sent, h.Status(t, tx.Hash().Hex()))

	cache, err := h.Queue.GetCache(tx.Hash().Hex())
	require.NoError(t, err)
	assert.WithinDuration(t, later, cache.DateChecked, time.Second)
}

func TestRetrierIgnoresFinalRows(t *testing.T) {
	h := sendertest.New(t, 1)
	alice := h.Accounts[0]
	h.Fund(alice)
	tx := h.Submit(t, alice, 0)
	h.Chain.MinePending()
	ctx := context.Background()
	_, err := h.Sender.SyncTx(ctx, tx.Hash().Hex())
	require.NoError(t, err)

	r := newRetrier(h)
	later := time.Now().Add(2 * time.Minute)
	r.now = func() time.Time { return later }
	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, status.Success, h.Status(t, tx.Hash().Hex()))
}

func TestRetrierStartStop(t *testing.T) {
	h := sendertest.New(t, 1)
	r := New(h.Queue, h.Sender, 10*time.Millisecond, time.Minute, 10, zerolog.Nop())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	r.Stop()
	r.Stop()
}
