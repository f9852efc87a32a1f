package nonce

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/txledger/db"
	lerrors "github.com/pushchain/txledger/txledger/errors"
)

const addrA = "0x00000000000000000000000000000000000000a1"

func newTestAllocator(t *testing.T, seed SeedFunc) *Allocator {
	t.Helper()
	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewAllocator(database, seed, nil, zerolog.Nop())
}

func TestAllocatorNext(t *testing.T) {
	ctx := context.Background()
	a := newTestAllocator(t, nil)

	for want := uint64(0); want < 5; want++ {
		got, err := a.Next(ctx, addrA)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	next, exists, err := a.Peek(ctx, addrA)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, uint64(5), next)
}

func TestAllocatorRewind(t *testing.T) {
	ctx := context.Background()
	a := newTestAllocator(t, nil)

	// unknown address is a no-op
	require.NoError(t, a.Rewind(ctx, addrA, 3))
	_, exists, err := a.Peek(ctx, addrA)
	require.NoError(t, err)
	assert.False(t, exists)

	for i := 0; i < 5; i++ {
		_, err := a.Next(ctx, addrA)
		require.NoError(t, err)
	}
	require.NoError(t, a.Rewind(ctx, addrA, 4))
	got, err := a.Next(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got)

	// never moves the counter up
	require.NoError(t, a.Rewind(ctx, addrA, 9))
	next, _, err := a.Peek(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), next)
}

func TestAllocatorSeedOnlyForNewAddress(t *testing.T) {
	ctx := context.Background()
	calls := 0
	a := newTestAllocator(t, func(ctx context.Context, address string) (uint64, error) {
		calls++
		return 40, nil
	})

	first, err := a.Next(ctx, addrA)
	require.NoError(t, err)
	second, err := a.Next(ctx, addrA)
	require.NoError(t, err)

	assert.Equal(t, uint64(40), first)
	assert.Equal(t, uint64(41), second)
	assert.Equal(t, 1, calls)
}

func TestAllocatorSeedError(t *testing.T) {
	a := newTestAllocator(t, func(ctx context.Context, address string) (uint64, error) {
		return 0, errors.New("node down")
	})
	_, err := a.Next(context.Background(), addrA)
	require.Error(t, err)

	_, exists, err := a.Peek(context.Background(), addrA)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAllocatorConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	a := newTestAllocator(t, nil)

	const workers, perWorker = 10, 10
	var (
		mu  sync.Mutex
		all []uint64
		wg  sync.WaitGroup
	)
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev uint64
			for i := 0; i < perWorker; i++ {
				n, err := a.Next(ctx, addrA)
				if err != nil {
					errs <- err
					return
				}
				if i > 0 && n <= prev {
					errs <- fmt.Errorf("nonce %d issued after %d", n, prev)
					return
				}
				prev = n
				mu.Lock()
				all = append(all, n)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, all, workers*perWorker)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, n := range all {
		assert.Equal(t, uint64(i), n)
	}
}

func TestReservations(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate key raises and does not consume a nonce", func(t *testing.T) {
		r := NewReservations(newTestAllocator(t, nil))

		n, err := r.Next(ctx, addrA, "k1")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), n)

		_, err = r.Next(ctx, addrA, "k1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, lerrors.ErrIntegrity))

		n, err = r.Next(ctx, addrA, "k2")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)
	})

	t.Run("release returns the nonce and frees the key", func(t *testing.T) {
		r := NewReservations(newTestAllocator(t, nil))

		_, err := r.Next(ctx, addrA, "task-1")
		require.NoError(t, err)
		_, err = r.Next(ctx, addrA, "task-2")
		require.NoError(t, err)

		held, err := r.Peek(ctx, "task-2")
		require.NoError(t, err)
		require.NotNil(t, held)
		assert.Equal(t, uint64(1), held.Nonce)

		n, err := r.Release(ctx, "task-2")
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)

		held, err = r.Peek(ctx, "task-2")
		require.NoError(t, err)
		assert.Nil(t, held)

		n, err = r.Next(ctx, addrA, "task-2")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), n)
	})

	t.Run("release of unknown key is an integrity error", func(t *testing.T) {
		r := NewReservations(newTestAllocator(t, nil))
		_, err := r.Release(ctx, "missing")
		require.Error(t, err)
		assert.True(t, errors.Is(err, lerrors.ErrIntegrity))
	})

	t.Run("concurrent distinct keys never share a nonce", func(t *testing.T) {
		r := NewReservations(newTestAllocator(t, nil))
		var wg sync.WaitGroup
		results := make([]uint64, 20)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				n, err := r.Next(ctx, addrA, fmt.Sprintf("key-%d", i))
				assert.NoError(t, err)
				results[i] = n
			}(i)
		}
		wg.Wait()

		seen := make(map[uint64]bool)
		for _, n := range results {
			assert.False(t, seen[n], "nonce %d issued twice", n)
			seen[n] = true
		}
	})
}

func TestLockKeyStable(t *testing.T) {
	assert.Equal(t, lockKey(addrA), lockKey(addrA))
	assert.NotEqual(t, lockKey(addrA), lockKey("0x00000000000000000000000000000000000000a2"))
}
