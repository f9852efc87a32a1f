package queue

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/txledger/db"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

const (
	alice = "0x00000000000000000000000000000000000000A1"
	bob   = "0x00000000000000000000000000000000000000B0"
	token = "0x00000000000000000000000000000000000000C0"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return New(database, true, zerolog.Nop())
}

func hashOf(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

// createCached inserts an otx row with a cache entry from alice to bob.
func createCached(t *testing.T, q *Queue, i int, nonce uint64) *store.Otx {
	t.Helper()
	row, err := q.Create(NewOtx{Sender: alice, Nonce: nonce, TxHash: hashOf(i), SignedTx: "0xf8"})
	require.NoError(t, err)
	_, err = q.CacheTx(row.TxHash, CacheEntry{
		Sender:           alice,
		Recipient:        bob,
		SourceToken:      token,
		DestinationToken: token,
		FromValue:        big.NewInt(1000),
		ToValue:          big.NewInt(1000),
		GasPrice:         big.NewInt(2_000_000_000),
	})
	require.NoError(t, err)
	return row
}

// toSent walks a fresh row through the send path.
func toSent(t *testing.T, q *Queue, hash string) {
	t.Helper()
	_, err := q.ReadySend(hash)
	require.NoError(t, err)
	_, err = q.Reserve(hash)
	require.NoError(t, err)
	_, err = q.Sent(hash)
	require.NoError(t, err)
}

func statusOf(t *testing.T, q *Queue, hash string) status.Status {
	t.Helper()
	row, err := q.Get(hash)
	require.NoError(t, err)
	return row.Status
}

func TestCreate(t *testing.T) {
	t.Run("new row is pending and normalized", func(t *testing.T) {
		q := newTestQueue(t)
		row, err := q.Create(NewOtx{Sender: "0x00000000000000000000000000000000000000a1", Nonce: 3, TxHash: "ABCD", SignedTx: "0xf8"})
		require.NoError(t, err)
		assert.Equal(t, status.Pending, row.Status)
		assert.Equal(t, NormalizeAddress(alice), row.Sender)
		assert.Equal(t, "0xabcd", row.TxHash)
	})

	t.Run("obsoletes live predecessors with the same nonce", func(t *testing.T) {
		q := newTestQueue(t)
		first := createCached(t, q, 1, 7)
		toSent(t, q, first.TxHash)

		_, err := q.Create(NewOtx{Sender: alice, Nonce: 7, TxHash: hashOf(2), SignedTx: "0xf9"})
		require.NoError(t, err)

		assert.Equal(t, status.Obsoleted, statusOf(t, q, first.TxHash))
		assert.Equal(t, status.Pending, statusOf(t, q, hashOf(2)))
	})

	t.Run("leaves other nonces and final rows alone", func(t *testing.T) {
		q := newTestQueue(t)
		other := createCached(t, q, 1, 6)
		done := createCached(t, q, 2, 7)
		toSent(t, q, done.TxHash)
		_, err := q.Success(done.TxHash, 10, 0)
		require.NoError(t, err)

		_, err = q.Create(NewOtx{Sender: alice, Nonce: 7, TxHash: hashOf(3), SignedTx: "0xf9"})
		require.NoError(t, err)

		assert.Equal(t, status.Pending, statusOf(t, q, other.TxHash))
		assert.Equal(t, status.Success, statusOf(t, q, done.TxHash))
	})

	t.Run("duplicate hash fails", func(t *testing.T) {
		q := newTestQueue(t)
		createCached(t, q, 1, 1)
		_, err := q.Create(NewOtx{Sender: alice, Nonce: 2, TxHash: hashOf(1), SignedTx: "0xf8"})
		require.Error(t, err)
	})
}

func TestSentTwiceRaises(t *testing.T) {
	q := newTestQueue(t)
	row := createCached(t, q, 1, 0)
	toSent(t, q, row.TxHash)

	_, err := q.Sent(row.TxHash)
	require.Error(t, err)
	assert.True(t, errors.Is(err, lerrors.ErrStateViolation))
	assert.Equal(t, status.Sent, statusOf(t, q, row.TxHash))
}

func TestTransitionGuards(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(q *Queue, hash string)
		action  func(q *Queue, hash string) (*store.Otx, error)
		want    status.Status
		wantErr bool
	}{
		{
			name:   "readysend from pending",
			action: func(q *Queue, h string) (*store.Otx, error) { return q.ReadySend(h) },
			want:   status.ReadySend,
		},
		{
			name:   "readysend from waitforgas",
			setup:  func(q *Queue, h string) { _, _ = q.WaitForGas(h) },
			action: func(q *Queue, h string) (*store.Otx, error) { return q.ReadySend(h) },
			want:   status.ReadySend,
		},
		{
			name:    "readysend twice",
			setup:   func(q *Queue, h string) { _, _ = q.ReadySend(h) },
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.ReadySend(h) },
			wantErr: true,
		},
		{
			name:    "reserve requires queued",
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.Reserve(h) },
			wantErr: true,
		},
		{
			name:    "waitforgas twice",
			setup:   func(q *Queue, h string) { _, _ = q.WaitForGas(h) },
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.WaitForGas(h) },
			wantErr: true,
		},
		{
			name: "sendfail after reserve",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
			},
			action: func(q *Queue, h string) (*store.Otx, error) { return q.SendFail(h) },
			want:   status.SendFail,
		},
		{
			name: "retry after sendfail",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
				_, _ = q.SendFail(h)
			},
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Retry(h) },
			want:   status.Retry,
		},
		{
			name:    "retry from pending",
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.Retry(h) },
			wantErr: true,
		},
		{
			name: "retry after sent then resend",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
				_, _ = q.Sent(h)
				_, _ = q.Retry(h)
				_, _ = q.Reserve(h)
			},
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Sent(h) },
			want:   status.Sent,
		},
		{
			name: "reject reserved row",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
			},
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Reject(h) },
			want:   status.Rejected,
		},
		{
			name: "reject sent row",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
				_, _ = q.Sent(h)
			},
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.Reject(h) },
			wantErr: true,
		},
		{
			name:   "fubar",
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Fubar(h) },
			want:   status.Fubar,
		},
		{
			name:   "override manual",
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Override(h, true) },
			want:   status.Overridden,
		},
		{
			name:    "confirmed cancel requires obsoleted",
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.Cancel(h, true) },
			wantErr: true,
		},
		{
			name:   "cancel then confirm",
			setup:  func(q *Queue, h string) { _, _ = q.Cancel(h, false) },
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Cancel(h, true) },
			want:   status.Cancelled,
		},
		{
			name:    "success requires network",
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.Success(h, 1, 0) },
			wantErr: true,
		},
		{
			name: "success clears obsolete",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
				_, _ = q.Sent(h)
				_, _ = q.Cancel(h, false)
			},
			action: func(q *Queue, h string) (*store.Otx, error) { return q.Success(h, 5, 1) },
			want:   status.Success,
		},
		{
			name: "minefail",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
				_, _ = q.Sent(h)
			},
			action: func(q *Queue, h string) (*store.Otx, error) { return q.MineFail(h, 5, 1) },
			want:   status.Reverted,
		},
		{
			name: "nothing after final",
			setup: func(q *Queue, h string) {
				_, _ = q.ReadySend(h)
				_, _ = q.Reserve(h)
				_, _ = q.Sent(h)
				_, _ = q.Success(h, 5, 1)
			},
			action:  func(q *Queue, h string) (*store.Otx, error) { return q.MineFail(h, 5, 1) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue(t)
			row := createCached(t, q, 1, 0)
			if tt.setup != nil {
				tt.setup(q, row.TxHash)
			}
			before := statusOf(t, q, row.TxHash)

			got, err := tt.action(q, row.TxHash)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, lerrors.ErrStateViolation))
				assert.Equal(t, before, statusOf(t, q, row.TxHash))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want, statusOf(t, q, row.TxHash))
		})
	}
}

func TestTransitionOnMissingRow(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Sent(hashOf(99))
	require.Error(t, err)
	assert.True(t, errors.Is(err, lerrors.ErrIntegrity))
}

func TestSuccessRecordsBlock(t *testing.T) {
	q := newTestQueue(t)
	row := createCached(t, q, 1, 0)
	toSent(t, q, row.TxHash)

	_, err := q.Success(row.TxHash, 1234, 5)
	require.NoError(t, err)

	entry, err := q.Entry(row.TxHash)
	require.NoError(t, err)
	require.NotNil(t, entry.BlockNumber)
	require.NotNil(t, entry.TxIndex)
	assert.Equal(t, uint64(1234), *entry.BlockNumber)
	assert.Equal(t, uint(5), *entry.TxIndex)
	assert.Equal(t, "SUCCESS", entry.StatusName)
}

func TestObsoleteSiblings(t *testing.T) {
	q := newTestQueue(t)
	first := createCached(t, q, 1, 7)
	toSent(t, q, first.TxHash)
	second := createCached(t, q, 2, 7)
	third := createCached(t, q, 3, 7)
	toSent(t, q, third.TxHash)

	_, err := q.Success(third.TxHash, 10, 0)
	require.NoError(t, err)

	hashes, err := q.ObsoleteSiblings(third.TxHash, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first.TxHash, second.TxHash}, hashes)

	assert.Equal(t, status.Cancelled, statusOf(t, q, first.TxHash))
	assert.True(t, statusOf(t, q, second.TxHash).Has(uint(status.Cancelled)))
	assert.Equal(t, status.Success, statusOf(t, q, third.TxHash))
}

func TestObsoleteSiblingsSupersedesFailedRows(t *testing.T) {
	q := newTestQueue(t)
	rejected := createCached(t, q, 1, 7)
	_, err := q.Reject(rejected.TxHash)
	require.NoError(t, err)
	fubar := createCached(t, q, 2, 7)
	_, err = q.Fubar(fubar.TxHash)
	require.NoError(t, err)
	mined := createCached(t, q, 3, 7)
	toSent(t, q, mined.TxHash)
	_, err = q.Success(mined.TxHash, 10, 0)
	require.NoError(t, err)

	hashes, err := q.ObsoleteSiblings(mined.TxHash, true)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{rejected.TxHash, fubar.TxHash}, hashes)

	assert.Equal(t, status.Rejected.Set(status.BitObsolete), statusOf(t, q, rejected.TxHash))
	assert.Equal(t, status.Fubar.Set(status.BitObsolete), statusOf(t, q, fubar.TxHash))
	assert.Equal(t, status.Success, statusOf(t, q, mined.TxHash))
}

func TestSupersede(t *testing.T) {
	q := newTestQueue(t)

	live := createCached(t, q, 1, 2)
	_, err := q.Supersede(live.TxHash)
	assert.ErrorIs(t, err, lerrors.ErrStateViolation, "not final")

	mined := createCached(t, q, 2, 3)
	toSent(t, q, mined.TxHash)
	_, err = q.MineFail(mined.TxHash, 5, 0)
	require.NoError(t, err)
	_, err = q.Supersede(mined.TxHash)
	assert.ErrorIs(t, err, lerrors.ErrStateViolation, "mined")

	rejected := createCached(t, q, 3, 4)
	_, err = q.Reject(rejected.TxHash)
	require.NoError(t, err)
	_, err = q.Supersede(rejected.TxHash)
	require.NoError(t, err)
	_, err = q.Supersede(rejected.TxHash)
	assert.ErrorIs(t, err, lerrors.ErrStateViolation, "already obsolete")

	log, err := q.StateLog(rejected.TxHash)
	require.NoError(t, err)
	assert.Equal(t, status.Rejected.Set(status.BitObsolete), log[len(log)-1].Status)
}

func TestVoid(t *testing.T) {
	q := newTestQueue(t)

	pending := createCached(t, q, 1, 0)
	row, err := q.Void(pending.TxHash)
	require.NoError(t, err)
	assert.True(t, row.Status.Has(status.BitFinal|status.BitObsolete|status.BitManual))
	assert.False(t, row.Status.Any(status.BitQueued|status.BitReserved))
	_, err = q.Void(pending.TxHash)
	assert.ErrorIs(t, err, lerrors.ErrStateViolation, "already obsolete")

	sent := createCached(t, q, 2, 1)
	toSent(t, q, sent.TxHash)
	row, err = q.Void(sent.TxHash)
	require.NoError(t, err)
	assert.False(t, row.Status.IsAlive())

	mined := createCached(t, q, 3, 2)
	toSent(t, q, mined.TxHash)
	_, err = q.Success(mined.TxHash, 7, 0)
	require.NoError(t, err)
	_, err = q.Void(mined.TxHash)
	assert.ErrorIs(t, err, lerrors.ErrStateViolation, "mined")
}

func TestNonceQueries(t *testing.T) {
	q := newTestQueue(t)

	_, ok, err := q.HighestNonce(alice)
	require.NoError(t, err)
	assert.False(t, ok)

	mined := createCached(t, q, 1, 0)
	toSent(t, q, mined.TxHash)
	_, err = q.Success(mined.TxHash, 3, 0)
	require.NoError(t, err)
	rejected := createCached(t, q, 2, 1)
	_, err = q.Reject(rejected.TxHash)
	require.NoError(t, err)
	waiting := createCached(t, q, 3, 2)
	sent := createCached(t, q, 4, 3)
	toSent(t, q, sent.TxHash)

	highest, ok, err := q.HighestNonce(alice)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), highest)

	blocking, err := q.Blocking(alice)
	require.NoError(t, err)
	require.NotNil(t, blocking)
	assert.Equal(t, rejected.TxHash, blocking.TxHash)

	above, err := q.AliveAbove(alice, 1)
	require.NoError(t, err)
	require.Len(t, above, 2)
	assert.Equal(t, waiting.TxHash, above[0].TxHash)
	assert.Equal(t, sent.TxHash, above[1].TxHash)

	above, err = q.AliveAbove(alice, 3)
	require.NoError(t, err)
	assert.Empty(t, above)

	_, err = q.Supersede(rejected.TxHash)
	require.NoError(t, err)
	blocking, err = q.Blocking(alice)
	require.NoError(t, err)
	assert.Nil(t, blocking)
}

func TestPendingSums(t *testing.T) {
	q := newTestQueue(t)
	createCached(t, q, 1, 0)
	sent := createCached(t, q, 2, 1)
	toSent(t, q, sent.TxHash)
	mined := createCached(t, q, 3, 2)
	toSent(t, q, mined.TxHash)
	_, err := q.Success(mined.TxHash, 4, 0)
	require.NoError(t, err)

	out, err := q.PendingOutgoing(alice, token)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), out.Int64(), "pending and sent rows, mined excluded")

	in, err := q.PendingIncoming(bob, token)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), in.Int64(), "only rows in the network")

	native, err := q.PendingOutgoing(alice, NativeToken)
	require.NoError(t, err)
	assert.Zero(t, native.Sign())
}

func TestAtMostOneFinalNonObsoletedPerGroup(t *testing.T) {
	q := newTestQueue(t)
	var last *store.Otx
	for i := 1; i <= 4; i++ {
		last = createCached(t, q, i, 9)
		toSent(t, q, last.TxHash)
	}
	_, err := q.Success(last.TxHash, 20, 0)
	require.NoError(t, err)
	_, err = q.ObsoleteSiblings(last.TxHash, true)
	require.NoError(t, err)

	rows, err := q.Group(alice, 9)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	authoritative := 0
	for _, r := range rows {
		if r.Status.IsFinal() && !r.Status.IsObsolete() {
			authoritative++
		}
	}
	assert.Equal(t, 1, authoritative)
}

func TestCloneCache(t *testing.T) {
	t.Run("preserves metadata except gas price", func(t *testing.T) {
		q := newTestQueue(t)
		old := createCached(t, q, 1, 4)
		toSent(t, q, old.TxHash)
		_, err := q.Create(NewOtx{Sender: alice, Nonce: 4, TxHash: hashOf(2), SignedTx: "0xf9"})
		require.NoError(t, err)

		clone, err := q.CloneCache(old.TxHash, hashOf(2), big.NewInt(3_000_000_000))
		require.NoError(t, err)

		orig, err := q.GetCache(old.TxHash)
		require.NoError(t, err)
		assert.Equal(t, orig.Sender, clone.Sender)
		assert.Equal(t, orig.Recipient, clone.Recipient)
		assert.Equal(t, orig.SourceToken, clone.SourceToken)
		assert.Equal(t, orig.DestinationToken, clone.DestinationToken)
		assert.Equal(t, orig.FromValue, clone.FromValue)
		assert.Equal(t, orig.ToValue, clone.ToValue)
		assert.Equal(t, "3000000000", clone.GasPrice)
		assert.NotEqual(t, orig.OtxID, clone.OtxID)
	})

	t.Run("refuses mined cache", func(t *testing.T) {
		q := newTestQueue(t)
		old := createCached(t, q, 1, 4)
		toSent(t, q, old.TxHash)
		_, err := q.Success(old.TxHash, 3, 0)
		require.NoError(t, err)
		_, err = q.Create(NewOtx{Sender: alice, Nonce: 4, TxHash: hashOf(2), SignedTx: "0xf9"})
		require.NoError(t, err)

		_, err = q.CloneCache(old.TxHash, hashOf(2), big.NewInt(1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, lerrors.ErrStateViolation))
	})
}

func TestStaleSent(t *testing.T) {
	q := newTestQueue(t)
	sent := createCached(t, q, 1, 0)
	toSent(t, q, sent.TxHash)
	pending := createCached(t, q, 2, 1)

	old := time.Now().Add(-time.Hour)
	require.NoError(t, q.TouchChecked(sent.TxHash, old))
	require.NoError(t, q.TouchChecked(pending.TxHash, old))

	rows, err := q.StaleSent(time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sent.TxHash, rows[0].TxHash)

	rows, err = q.StaleSent(old.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListForAddress(t *testing.T) {
	q := newTestQueue(t)
	createCached(t, q, 1, 0)
	createCached(t, q, 2, 1)
	toSent(t, q, hashOf(2))

	all, err := q.ListForAddress(ListQuery{Address: alice, AsSender: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, hashOf(2), all[0].TxHash)
	assert.Equal(t, NormalizeAddress(bob), all[0].Recipient)
	assert.Equal(t, "1000", all[0].FromValue)

	received, err := q.ListForAddress(ListQuery{Address: bob, AsRecipient: true})
	require.NoError(t, err)
	assert.Len(t, received, 2)

	none, err := q.ListForAddress(ListQuery{Address: bob, AsSender: true})
	require.NoError(t, err)
	assert.Empty(t, none)

	sent := status.Sent
	filtered, err := q.ListForAddress(ListQuery{Address: alice, Status: &sent})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, hashOf(2), filtered[0].TxHash)

	page, err := q.ListForAddress(ListQuery{Address: alice, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, hashOf(1), page[0].TxHash)
}

func TestStateLog(t *testing.T) {
	q := newTestQueue(t)
	row := createCached(t, q, 1, 0)
	toSent(t, q, row.TxHash)

	logs, err := q.StateLog(row.TxHash)
	require.NoError(t, err)
	require.Len(t, logs, 4)
	assert.Equal(t, status.Pending, logs[0].Status)
	assert.Equal(t, status.Sent, logs[3].Status)
}

func TestHasLiveRefill(t *testing.T) {
	q := newTestQueue(t)
	provider := "0x00000000000000000000000000000000000000F0"
	row, err := q.Create(NewOtx{Sender: provider, Nonce: 0, TxHash: hashOf(1), SignedTx: "0xf8"})
	require.NoError(t, err)
	_, err = q.CacheTx(row.TxHash, CacheEntry{
		Sender: provider, Recipient: alice,
		SourceToken: NativeToken, DestinationToken: NativeToken,
		FromValue: big.NewInt(5), ToValue: big.NewInt(5),
	})
	require.NoError(t, err)

	ok, err := q.HasLiveRefill(provider, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.HasLiveRefill(provider, bob)
	require.NoError(t, err)
	assert.False(t, ok)

	isRefill, _, err := q.IsRefill(row.TxHash, provider)
	require.NoError(t, err)
	assert.True(t, isRefill)
}

func TestQueuedAndWaiting(t *testing.T) {
	q := newTestQueue(t)
	a := createCached(t, q, 1, 0)
	b := createCached(t, q, 2, 1)
	c := createCached(t, q, 3, 2)
	_, err := q.ReadySend(a.TxHash)
	require.NoError(t, err)
	_, err = q.WaitForGas(b.TxHash)
	require.NoError(t, err)
	_, err = q.WaitForGas(c.TxHash)
	require.NoError(t, err)

	queued, err := q.Queued(10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, a.TxHash, queued[0].TxHash)

	waiting, err := q.WaitingForGas(alice)
	require.NoError(t, err)
	require.Len(t, waiting, 2)
	assert.Equal(t, uint64(1), waiting[0].Nonce)
}

func TestOverwriteAlwaysLogs(t *testing.T) {
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	defer database.Close()
	q := New(database, false, zerolog.Nop())

	row := createCached(t, q, 1, 0)
	block := uint64(77)
	require.NoError(t, q.Overwrite(row.TxHash, status.Success, &block, nil))

	logs, err := q.StateLog(row.TxHash)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, status.Success, logs[0].Status)

	entry, err := q.Entry(row.TxHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), *entry.BlockNumber)
}
