package core

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/testutils"
	"github.com/pushchain/txledger/txledger/audit"
	"github.com/pushchain/txledger/txledger/config"
	"github.com/pushchain/txledger/txledger/service"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/syncer"
	"github.com/pushchain/txledger/txledger/syncer/filters"
)

func testConfig(t *testing.T, env *testutils.Env) config.Config {
	t.Helper()
	cfg, err := config.LoadDefaultConfig()
	require.NoError(t, err)
	cfg.Gas.GasProvider = env.Provider.Hex()
	cfg.QueryServerPort = 0
	cfg.Sync.PollIntervalSeconds = 1
	cfg.Dispatch.IntervalSeconds = 1
	cfg.Retry.IntervalSeconds = 1
	cfg.AuditOutputDir = t.TempDir()
	return *cfg
}

func newLedger(t *testing.T, mutate func(*config.Config)) (*Ledger, *testutils.Env) {
	t.Helper()
	env := testutils.NewEnv(t, 1)
	cfg := testConfig(t, env)
	if mutate != nil {
		mutate(&cfg)
	}
	l, err := New(cfg, env.DB, env.Context, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(l.pool.Stop)
	return l, env
}

// ---- Wiring ----

func TestNewBuildsDefaultFilters(t *testing.T) {
	l, _ := newLedger(t, nil)
	require.Len(t, l.filters, 2)
	assert.Equal(t, filters.NameTx, l.filters[0].Name())
	assert.Equal(t, filters.NameGas, l.filters[1].Name())
}

func TestNewBuildsOptionalFilters(t *testing.T) {
	l, _ := newLedger(t, func(cfg *config.Config) {
		cfg.Filters.AccountRegistry = "0x00000000000000000000000000000000000000a1"
		cfg.Filters.CallbackURL = "http://localhost:9/hook"
		cfg.Filters.CallbackTokens = []string{"0x00000000000000000000000000000000000000c0"}
	})
	names := make([]string, 0, len(l.filters))
	for _, f := range l.filters {
		names = append(names, f.Name())
	}
	assert.Equal(t, []string{filters.NameTx, filters.NameGas, filters.NameAccount, filters.NameCallback}, names)
}

func TestSeedNonce(t *testing.T) {
	ctx := context.Background()

	l, env := newLedger(t, func(cfg *config.Config) {
		cfg.Gas.SyncNonceFromNode = false
		cfg.Gas.DefaultNonceStart = 7
	})
	n, err := l.seedNonce(ctx, env.Accounts[0].Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)

	l, env = newLedger(t, nil)
	env.Chain.SetNonce(env.Accounts[0], 4)
	n, err = l.seedNonce(ctx, env.Accounts[0].Hex())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)
}

// ---- Lifecycle ----

func TestStartConfirmsMinedTransfer(t *testing.T) {
	l, env := newLedger(t, nil)
	alice := env.Accounts[0]
	env.Fund(alice)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Start(ctx) }()

	require.Eventually(t, func() bool {
		c, err := l.cursors.Load(ctx, syncer.RoleHead)
		return err == nil && c != nil
	}, 5*time.Second, 20*time.Millisecond)

	sub, err := l.Service().SubmitTransfer(ctx, service.TransferRequest{
		From:   alice.Hex(),
		To:     ethcommon.HexToAddress("0x00000000000000000000000000000000000000b1").Hex(),
		Amount: big.NewInt(10),
	})
	require.NoError(t, err)
	_, err = sub.Wait(ctx)
	require.NoError(t, err)

	env.Chain.MinePending()

	require.Eventually(t, func() bool {
		entry, err := l.Service().QueryStatus(ctx, sub.TxHash)
		return err == nil && entry.Status == status.Success
	}, 10*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("ledger did not stop")
	}
}

// ---- Audit ----

func TestAuditWritesToConfiguredDir(t *testing.T) {
	env := testutils.NewEnv(t, 1)
	cfg := testConfig(t, env)

	report, err := RunAudit(context.Background(), &cfg, env.DB, nil, audit.Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, audit.Modules(), report.Modules)

	for _, m := range audit.Modules() {
		_, err := os.Stat(filepath.Join(cfg.AuditOutputDir, m))
		assert.NoError(t, err, m)
	}
}
