// Package testutils holds fixtures shared by package tests: an in-memory
// chain, a ledger database and a funded custodial key set.
package testutils

import (
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/chains/evm"
	"github.com/pushchain/txledger/txledger/db"
)

// Env is a ready to use ledger fixture
type Env struct {
	DB       *db.DB
	Chain    *Chain
	Signer   *evm.KeySigner
	Context  *common.Context
	Builder  *evm.TxBuilder
	Provider ethcommon.Address
	// Accounts are custodied addresses other than the gas provider
	Accounts []ethcommon.Address
}

// NewEnv creates a database, a chain and n custodial accounts plus the gas
// provider. The provider is funded generously; accounts start empty.
func NewEnv(t *testing.T, n int) *Env {
	t.Helper()

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	keys := make([]string, 0, n+1)
	addrs := make([]ethcommon.Address, 0, n+1)
	for i := 0; i <= n; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, hexutil.Encode(crypto.FromECDSA(key)))
		addrs = append(addrs, crypto.PubkeyToAddress(key.PublicKey))
	}
	signer, err := evm.NewKeySigner(keys)
	require.NoError(t, err)

	chain := NewChain()
	chain.SetBalance(addrs[0], new(big.Int).Mul(RefillAmount, big.NewInt(1000)))

	ctx, err := common.NewContext(ChainName, ChainID, addrs[0].Hex(), chain, signer)
	require.NoError(t, err)

	return &Env{
		DB:       database,
		Chain:    chain,
		Signer:   signer,
		Context:  ctx,
		Builder:  evm.NewTxBuilder(ctx, 60000),
		Provider: addrs[0],
		Accounts: addrs[1:],
	}
}

// Fund gives address enough balance to clear the safety threshold
func (e *Env) Fund(address ethcommon.Address) {
	e.Chain.SetBalance(address, new(big.Int).Mul(RefillAmount, big.NewInt(10)))
}
