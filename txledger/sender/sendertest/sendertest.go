// Package sendertest wires a Sender against the in-memory chain for tests of
// the packages built on top of it.
package sendertest

import (
	"context"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/testutils"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/nonce"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/task"
)

// Token and Recipient are used by Enqueue
var (
	Token     = ethcommon.HexToAddress("0x00000000000000000000000000000000000000c0")
	Recipient = ethcommon.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// Harness bundles a wired pipeline
type Harness struct {
	*testutils.Env
	Sender       *sender.Sender
	Queue        *queue.Queue
	Locks        *lock.Locker
	Reservations *nonce.Reservations
	Pool         *task.Pool
}

// New builds a harness with n custodial accounts besides the gas provider
func New(t *testing.T, n int) *Harness {
	t.Helper()
	env := testutils.NewEnv(t, n)
	q := queue.New(env.DB, true, zerolog.Nop())
	alloc := nonce.NewAllocator(env.DB, func(ctx context.Context, address string) (uint64, error) {
		return env.Chain.PendingNonceAt(ctx, ethcommon.HexToAddress(address))
	}, nil, zerolog.Nop())
	res := nonce.NewReservations(alloc)
	locks := lock.NewLocker(env.DB, testutils.ChainName, zerolog.Nop())
	pool := task.NewPool(4, zerolog.Nop())
	t.Cleanup(pool.Stop)

	s := sender.New(env.Context, q, res, locks, env.Builder, pool, nil, sender.Config{
		MinBalance:        testutils.MinBalance,
		RefillAmount:      testutils.RefillAmount,
		MaxResendAttempts: 3,
		ResendGasFactor:   1.1,
	}, zerolog.Nop())

	return &Harness{
		Env:          env,
		Sender:       s,
		Queue:        q,
		Locks:        locks,
		Reservations: res,
		Pool:         pool,
	}
}

// Enqueue queues a token transfer from `from` at nonce n
func (h *Harness) Enqueue(t *testing.T, from ethcommon.Address, n uint64) *types.Transaction {
	t.Helper()
	signed, err := h.Builder.Transfer(from, Token, Recipient, big.NewInt(1000), n, testutils.OneGwei)
	require.NoError(t, err)
	_, err = h.Sender.Enqueue(signed, queue.CacheEntry{
		Sender:           from.Hex(),
		Recipient:        Recipient.Hex(),
		SourceToken:      Token.Hex(),
		DestinationToken: Token.Hex(),
		FromValue:        big.NewInt(1000),
		ToValue:          big.NewInt(1000),
		GasPrice:         testutils.OneGwei,
	})
	require.NoError(t, err)
	return signed.Tx
}

// Submit enqueues and sends a funded transfer, leaving it SENT
func (h *Harness) Submit(t *testing.T, from ethcommon.Address, n uint64) *types.Transaction {
	t.Helper()
	tx := h.Enqueue(t, from, n)
	require.NoError(t, h.Sender.Process(context.Background(), []string{tx.Hash().Hex()}))
	require.Equal(t, status.Sent, h.Status(t, tx.Hash().Hex()))
	return tx
}

// Status returns the stored status of hash
func (h *Harness) Status(t *testing.T, hash string) status.Status {
	t.Helper()
	row, err := h.Queue.Get(hash)
	require.NoError(t, err)
	return row.Status
}
