package sender

import (
	"context"
	"errors"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/testutils"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/nonce"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
	"github.com/pushchain/txledger/txledger/task"
)

var (
	token     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c0")
	recipient = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type harness struct {
	env    *testutils.Env
	sender *Sender
	queue  *queue.Queue
	locks  *lock.Locker
	res    *nonce.Reservations
	pool   *task.Pool
	alice  ethcommon.Address
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	env := testutils.NewEnv(t, 1)
	q := queue.New(env.DB, true, zerolog.Nop())
	alloc := nonce.NewAllocator(env.DB, func(ctx context.Context, address string) (uint64, error) {
		return env.Chain.PendingNonceAt(ctx, ethcommon.HexToAddress(address))
	}, nil, zerolog.Nop())
	res := nonce.NewReservations(alloc)
	locks := lock.NewLocker(env.DB, testutils.ChainName, zerolog.Nop())
	pool := task.NewPool(4, zerolog.Nop())
	t.Cleanup(pool.Stop)

	if cfg.MinBalance == nil {
		cfg.MinBalance = testutils.MinBalance
	}
	if cfg.RefillAmount == nil {
		cfg.RefillAmount = testutils.RefillAmount
	}
	if cfg.MaxResendAttempts == 0 {
		cfg.MaxResendAttempts = 3
	}
	if cfg.ResendGasFactor == 0 {
		cfg.ResendGasFactor = 1.1
	}

	s := New(env.Context, q, res, locks, env.Builder, pool, nil, cfg, zerolog.Nop())
	return &harness{env: env, sender: s, queue: q, locks: locks, res: res, pool: pool, alice: env.Accounts[0]}
}

// enqueue queues a token transfer from alice at nonce n
func (h *harness) enqueue(t *testing.T, n uint64) *types.Transaction {
	t.Helper()
	signed, err := h.env.Builder.Transfer(h.alice, token, recipient, big.NewInt(1000), n, testutils.OneGwei)
	require.NoError(t, err)
	_, err = h.sender.Enqueue(signed, queue.CacheEntry{
		Sender:           h.alice.Hex(),
		Recipient:        recipient.Hex(),
		SourceToken:      token.Hex(),
		DestinationToken: token.Hex(),
		FromValue:        big.NewInt(1000),
		ToValue:          big.NewInt(1000),
		GasPrice:         testutils.OneGwei,
	})
	require.NoError(t, err)
	return signed.Tx
}

func (h *harness) status(t *testing.T, hash ethcommon.Hash) status.Status {
	t.Helper()
	row, err := h.queue.Get(hash.Hex())
	require.NoError(t, err)
	return row.Status
}

func sentFrom(t *testing.T, txs []*types.Transaction, from ethcommon.Address) []*types.Transaction {
	t.Helper()
	signer := types.NewEIP155Signer(big.NewInt(testutils.ChainID))
	var out []*types.Transaction
	for _, tx := range txs {
		f, err := types.Sender(signer, tx)
		require.NoError(t, err)
		if f == from {
			out = append(out, tx)
		}
	}
	return out
}

// ---- Gas ----

func TestProcessSendsFundedTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)

	require.NoError(t, h.sender.Process(context.Background(), []string{tx.Hash().Hex()}))
	assert.Equal(t, status.Sent, h.status(t, tx.Hash()))
	require.Len(t, h.env.Chain.Pending(), 1)
	assert.Equal(t, tx.Hash(), h.env.Chain.Pending()[0].Hash())
}

func TestCheckGasInsufficientDefersWithoutSending(t *testing.T) {
	h := newHarness(t, Config{})
	tx := h.enqueue(t, 0)

	err := h.sender.CheckGas(context.Background(), h.alice.Hex(), []string{tx.Hash().Hex()}, tx.Cost())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lerrors.ErrOutOfGas))
	assert.Equal(t, status.WaitForGas, h.status(t, tx.Hash()))
	h.pool.Drain()

	sent := h.env.Chain.Sent()
	assert.Empty(t, sentFrom(t, sent, h.alice))
	refills := sentFrom(t, sent, h.env.Provider)
	require.Len(t, refills, 1)
	assert.Equal(t, recipientOf(refills[0]), h.alice)
	assert.Zero(t, testutils.RefillAmount.Cmp(refills[0].Value()))
}

func recipientOf(tx *types.Transaction) ethcommon.Address { return *tx.To() }

func TestRefillDeduplicated(t *testing.T) {
	h := newHarness(t, Config{})
	tx0 := h.enqueue(t, 0)
	tx1 := h.enqueue(t, 1)
	ctx := context.Background()

	err := h.sender.CheckGas(ctx, h.alice.Hex(), []string{tx0.Hash().Hex()}, tx0.Cost())
	require.ErrorIs(t, err, lerrors.ErrOutOfGas)
	err = h.sender.CheckGas(ctx, h.alice.Hex(), []string{tx1.Hash().Hex()}, tx1.Cost())
	require.ErrorIs(t, err, lerrors.ErrOutOfGas)
	h.pool.Drain()

	refills := sentFrom(t, h.env.Chain.Sent(), h.env.Provider)
	require.Len(t, refills, 2)
	assert.Zero(t, testutils.RefillAmount.Cmp(refills[0].Value()))
	assert.Zero(t, refills[1].Value().Sign())
	assert.Equal(t, refills[0].Nonce()+1, refills[1].Nonce())
}

func TestResumeWaitingSendsAfterFunding(t *testing.T) {
	h := newHarness(t, Config{})
	tx := h.enqueue(t, 0)
	ctx := context.Background()

	require.NoError(t, h.sender.Process(ctx, []string{tx.Hash().Hex()}))
	assert.Equal(t, status.WaitForGas, h.status(t, tx.Hash()))

	h.env.Fund(h.alice)
	require.NoError(t, h.sender.ResumeWaiting(ctx, h.alice.Hex()))
	assert.Equal(t, status.Sent, h.status(t, tx.Hash()))

	require.NoError(t, h.sender.ResumeWaiting(ctx, h.alice.Hex()))
}

func TestBackgroundRefillBelowThreshold(t *testing.T) {
	h := newHarness(t, Config{})
	tx := h.enqueue(t, 0)
	h.env.Chain.SetBalance(h.alice, new(big.Int).Mul(tx.Cost(), big.NewInt(2)))

	require.NoError(t, h.sender.Process(context.Background(), []string{tx.Hash().Hex()}))
	h.pool.Drain()

	assert.Equal(t, status.Sent, h.status(t, tx.Hash()))
	assert.Len(t, sentFrom(t, h.env.Chain.Sent(), h.env.Provider), 1)
}

func TestRefillRespectsProviderQueueLock(t *testing.T) {
	h := newHarness(t, Config{})
	_, err := h.locks.Lock(context.Background(), h.env.Provider.Hex(), lock.Queue, "")
	require.NoError(t, err)

	_, err = h.sender.Refill(context.Background(), h.alice)
	assert.ErrorIs(t, err, lerrors.ErrLocked)
}

// ---- Send ----

func TestSendTailInNonceOrder(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx0 := h.enqueue(t, 0)
	tx1 := h.enqueue(t, 1)

	require.NoError(t, h.sender.Process(context.Background(), []string{tx0.Hash().Hex(), tx1.Hash().Hex()}))
	h.pool.Drain()

	sent := sentFrom(t, h.env.Chain.Sent(), h.alice)
	require.Len(t, sent, 2)
	assert.Equal(t, tx0.Hash(), sent[0].Hash())
	assert.Equal(t, tx1.Hash(), sent[1].Hash())
	assert.Equal(t, status.Sent, h.status(t, tx1.Hash()))
}

func TestSendTransientMarksSendFail(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()

	require.NoError(t, h.sender.CheckGas(ctx, h.alice.Hex(), []string{tx.Hash().Hex()}, tx.Cost()))
	h.env.Chain.SetDown(true)

	require.NoError(t, h.sender.Send(ctx, []string{tx.Hash().Hex()}))
	assert.Equal(t, status.SendFail, h.status(t, tx.Hash()))
}

func TestSendResyncFinalizesMinedTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	h.env.Chain.Mine(testutils.Inclusion{Tx: tx})

	require.NoError(t, h.sender.Process(context.Background(), []string{tx.Hash().Hex()}))
	assert.Equal(t, status.Success, h.status(t, tx.Hash()))

	c, err := h.queue.GetCache(tx.Hash().Hex())
	require.NoError(t, err)
	require.NotNil(t, c.BlockNumber)
	assert.Equal(t, uint64(1), *c.BlockNumber)
}

func TestSendResyncUnknownMarksSendFail(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	h.env.Chain.SetSendError(func(*types.Transaction) error {
		return testutils.RPCError{Code: -32000, Message: "nonce too low"}
	})

	require.NoError(t, h.sender.Process(context.Background(), []string{tx.Hash().Hex()}))
	assert.Equal(t, status.SendFail, h.status(t, tx.Hash()))
}

func TestSendInvalidRejectsAndResends(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	h.env.Chain.SetSendError(func(sent *types.Transaction) error {
		if sent.Hash() == tx.Hash() {
			return testutils.RPCError{Code: -32600, Message: "rlp: expected input list"}
		}
		return nil
	})

	err := h.sender.Process(context.Background(), []string{tx.Hash().Hex()})
	require.Error(t, err)
	assert.ErrorIs(t, err, lerrors.ErrRejected)
	h.pool.Drain()

	assert.Equal(t, status.Rejected.Set(status.BitObsolete), h.status(t, tx.Hash()))
	group, err := h.queue.Group(h.alice.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.Equal(t, status.Sent, group[1].Status)

	agg, err := h.locks.Aggregate(context.Background(), h.alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, lock.Flag(0), agg)
}

func TestSendInvalidReplacementMinedLeavesOneAuthoritativeRow(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	h.env.Chain.SetSendError(func(sent *types.Transaction) error {
		if sent.Hash() == tx.Hash() {
			return testutils.RPCError{Code: -32600, Message: "rlp: expected input list"}
		}
		return nil
	})

	err := h.sender.Process(ctx, []string{tx.Hash().Hex()})
	assert.ErrorIs(t, err, lerrors.ErrRejected)
	h.pool.Drain()
	h.env.Chain.MinePending()

	group, err := h.queue.Group(h.alice.Hex(), 0)
	require.NoError(t, err)
	require.Len(t, group, 2)
	st, err := h.sender.SyncTx(ctx, group[1].TxHash)
	require.NoError(t, err)
	assert.Equal(t, status.Success, st)

	group, err = h.queue.Group(h.alice.Hex(), 0)
	require.NoError(t, err)
	authoritative := 0
	for _, r := range group {
		if r.Status.IsFinal() && !r.Status.IsObsolete() {
			authoritative++
			assert.Equal(t, status.Success, r.Status)
		}
	}
	assert.Equal(t, 1, authoritative)
}

func TestSendInvalidReplacementFailureKeepsLock(t *testing.T) {
	h := newHarness(t, Config{MaxGasPrice: big.NewInt(1)})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	h.env.Chain.SetSendError(func(*types.Transaction) error {
		return testutils.RPCError{Code: -32600, Message: "rlp: expected input list"}
	})

	err := h.sender.Process(ctx, []string{tx.Hash().Hex()})
	assert.ErrorIs(t, err, lerrors.ErrRejected)
	h.pool.Drain()

	n, err := h.queue.CountGroup(h.alice.Hex(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, status.Rejected, h.status(t, tx.Hash()))
	assert.ErrorIs(t, h.locks.Check(ctx, h.alice.Hex(), lock.Send), lerrors.ErrLocked)
}

func TestSendInvalidAttemptsExhaustedKeepsLock(t *testing.T) {
	h := newHarness(t, Config{MaxResendAttempts: 1})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	h.env.Chain.SetSendError(func(*types.Transaction) error {
		return testutils.RPCError{Code: -32600, Message: "invalid request"}
	})

	err := h.sender.Process(context.Background(), []string{tx.Hash().Hex()})
	assert.ErrorIs(t, err, lerrors.ErrRejected)
	h.pool.Drain()

	n, err := h.queue.CountGroup(h.alice.Hex(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.ErrorIs(t, h.locks.Check(context.Background(), h.alice.Hex(), lock.Send), lerrors.ErrLocked)
}

func TestSendUnclassifiedLocksAndAlerts(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	h.env.Chain.SetSendError(func(*types.Transaction) error {
		return errors.New("boom")
	})

	err := h.sender.Process(context.Background(), []string{tx.Hash().Hex()})
	assert.ErrorIs(t, err, lerrors.ErrUnclassified)
	assert.Equal(t, status.Fubar, h.status(t, tx.Hash()))
	assert.ErrorIs(t, h.locks.Check(context.Background(), h.alice.Hex(), lock.Send), lerrors.ErrLocked)

	var alerts []store.OperatorAlert
	require.NoError(t, h.queue.DB().Find(&alerts).Error)
	require.Len(t, alerts, 1)
	assert.Equal(t, "boom", alerts[0].Reason)
	assert.Equal(t, queue.NormalizeHash(tx.Hash().Hex()), alerts[0].TxHash)
}

func TestSendRespectsSendLock(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	_, err := h.locks.Lock(ctx, "", lock.Send, "")
	require.NoError(t, err)

	err = h.sender.Process(ctx, []string{tx.Hash().Hex()})
	assert.ErrorIs(t, err, lerrors.ErrLocked)
	assert.Equal(t, status.ReadySend, h.status(t, tx.Hash()))
	assert.Empty(t, h.env.Chain.Sent())
}

func TestSyncTxReverted(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	require.NoError(t, h.sender.Process(ctx, []string{tx.Hash().Hex()}))

	h.env.Chain.Mine(testutils.Inclusion{Tx: tx, Reverted: true})
	st, err := h.sender.SyncTx(ctx, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, status.Reverted, st)

	st, err = h.sender.SyncTx(ctx, tx.Hash().Hex())
	require.NoError(t, err)
	assert.Equal(t, status.Reverted, st)
}

// ---- Resend ----

func TestNextGasPrice(t *testing.T) {
	tests := []struct {
		name    string
		network int64
		old     int64
		factor  float64
		want    int64
	}{
		{"factor wins", 100, 1000, 1.5, 1500},
		{"network wins", 5000, 1000, 1.1, 5000},
		{"plus one wins", 0, 1000, 1.0, 1001},
		{"tiny price", 0, 1, 1.1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextGasPrice(big.NewInt(tt.network), big.NewInt(tt.old), tt.factor)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestResendWithHigherGas(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	require.NoError(t, h.sender.Process(ctx, []string{tx.Hash().Hex()}))

	newHash, future, err := h.sender.ResendWithHigherGas(ctx, tx.Hash().Hex(), ResendOptions{})
	require.NoError(t, err)
	_, err = future.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, status.Obsoleted, h.status(t, tx.Hash()))
	assert.Equal(t, status.Sent, h.status(t, ethcommon.HexToHash(newHash)))

	oldCache, err := h.queue.GetCache(tx.Hash().Hex())
	require.NoError(t, err)
	newCache, err := h.queue.GetCache(newHash)
	require.NoError(t, err)
	assert.Equal(t, oldCache.Recipient, newCache.Recipient)
	assert.Equal(t, oldCache.SourceToken, newCache.SourceToken)
	assert.Equal(t, oldCache.FromValue, newCache.FromValue)
	assert.Equal(t, "1100000000", newCache.GasPrice)
}

func TestResendExplicitPrice(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()

	newHash, future, err := h.sender.ResendWithHigherGas(ctx, tx.Hash().Hex(), ResendOptions{GasPrice: big.NewInt(7_000_000_000)})
	require.NoError(t, err)
	_, err = future.Wait(ctx)
	require.NoError(t, err)

	c, err := h.queue.GetCache(newHash)
	require.NoError(t, err)
	assert.Equal(t, "7000000000", c.GasPrice)
}

func TestResendRefusals(t *testing.T) {
	h := newHarness(t, Config{MaxGasPrice: big.NewInt(1_050_000_000)})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()

	_, _, err := h.sender.ResendWithHigherGas(ctx, hashOf(99), ResendOptions{})
	assert.ErrorIs(t, err, lerrors.ErrIntegrity)

	_, _, err = h.sender.ResendWithHigherGas(ctx, tx.Hash().Hex(), ResendOptions{})
	assert.ErrorIs(t, err, lerrors.ErrRejected, "price above cap")

	_, err = h.locks.Lock(ctx, h.alice.Hex(), lock.Queue, "")
	require.NoError(t, err)
	_, _, err = h.sender.ResendWithHigherGas(ctx, tx.Hash().Hex(), ResendOptions{GasPrice: big.NewInt(1)})
	assert.ErrorIs(t, err, lerrors.ErrLocked)
}

func TestResendMinedTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	require.NoError(t, h.sender.Process(ctx, []string{tx.Hash().Hex()}))
	h.env.Chain.MinePending()
	_, err := h.sender.SyncTx(ctx, tx.Hash().Hex())
	require.NoError(t, err)

	_, _, err = h.sender.ResendWithHigherGas(ctx, tx.Hash().Hex(), ResendOptions{})
	assert.ErrorIs(t, err, lerrors.ErrStateViolation)

	_, _, err = h.sender.ResendWithHigherGas(ctx, tx.Hash().Hex(), ResendOptions{Force: true})
	assert.ErrorIs(t, err, lerrors.ErrStateViolation, "mined cache is never cloned")

	n, err := h.queue.CountGroup(h.alice.Hex(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func hashOf(i int) string {
	return ethcommon.BigToHash(big.NewInt(int64(i))).Hex()
}

// ---- Shift ----

func TestShiftClosesGapLeftByRejectedTransaction(t *testing.T) {
	h := newHarness(t, Config{MaxResendAttempts: 1})
	h.env.Fund(h.alice)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.res.Allocator().Next(ctx, h.alice.Hex())
		require.NoError(t, err)
	}
	tx0, tx1, tx2 := h.enqueue(t, 0), h.enqueue(t, 1), h.enqueue(t, 2)

	h.env.Chain.SetSendError(func(*types.Transaction) error {
		return testutils.RPCError{Code: -32600, Message: "invalid request"}
	})
	err := h.sender.Process(ctx, []string{tx0.Hash().Hex()})
	require.ErrorIs(t, err, lerrors.ErrRejected)
	h.pool.Drain()
	require.ErrorIs(t, h.locks.Check(ctx, h.alice.Hex(), lock.Send), lerrors.ErrLocked)
	h.env.Chain.SetSendError(nil)

	hashes, fut, err := h.sender.Shift(ctx, tx0.Hash().Hex())
	require.NoError(t, err)
	require.Len(t, hashes, 2)
	_, err = fut.Wait(ctx)
	require.NoError(t, err)
	h.pool.Drain()

	for _, tx := range []*types.Transaction{tx0, tx1, tx2} {
		st := h.status(t, tx.Hash())
		assert.True(t, st.Has(status.BitFinal|status.BitObsolete|status.BitManual), st.String())
	}
	for i, hash := range hashes {
		row, err := h.queue.Get(hash)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), row.Nonce)
		assert.Equal(t, status.Sent, row.Status)

		c, err := h.queue.GetCache(hash)
		require.NoError(t, err)
		assert.Equal(t, recipient.Hex(), c.Recipient)
		assert.Equal(t, "1000", c.FromValue)
	}

	next, _, err := h.res.Allocator().Peek(ctx, h.alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
	assert.NoError(t, h.locks.Check(ctx, h.alice.Hex(), lock.Send|lock.Queue))

	blocking, err := h.queue.Blocking(h.alice.Hex())
	require.NoError(t, err)
	assert.Nil(t, blocking)
}

func TestShiftHighestNonceOnlyRewinds(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := h.res.Allocator().Next(ctx, h.alice.Hex())
		require.NoError(t, err)
	}
	h.enqueue(t, 0)
	tx1 := h.enqueue(t, 1)

	hashes, fut, err := h.sender.Shift(ctx, tx1.Hash().Hex())
	require.NoError(t, err)
	assert.Empty(t, hashes)
	assert.Nil(t, fut)

	next, _, err := h.res.Allocator().Peek(ctx, h.alice.Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
}

func TestShiftRefusesMinedTransaction(t *testing.T) {
	h := newHarness(t, Config{})
	h.env.Fund(h.alice)
	tx := h.enqueue(t, 0)
	ctx := context.Background()
	require.NoError(t, h.sender.Process(ctx, []string{tx.Hash().Hex()}))
	h.env.Chain.MinePending()
	_, err := h.sender.SyncTx(ctx, tx.Hash().Hex())
	require.NoError(t, err)

	_, _, err = h.sender.Shift(ctx, tx.Hash().Hex())
	assert.ErrorIs(t, err, lerrors.ErrStateViolation)
	assert.NoError(t, h.locks.Check(ctx, h.alice.Hex(), lock.Send|lock.Queue))
}
