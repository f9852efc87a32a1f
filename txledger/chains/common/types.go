package common

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the subset of node RPC the ledger depends on
type ChainClient interface {
	// ChainID returns the EVM chain id reported by the node
	ChainID(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the current head height
	BlockNumber(ctx context.Context) (uint64, error)

	// BlockByNumber returns a full block. ethereum.NotFound when not yet mined.
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)

	// TransactionReceipt returns the receipt of a mined transaction.
	// ethereum.NotFound when the transaction has not been mined.
	TransactionReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error)

	// TransactionByHash returns a transaction known to the node, mined or pending
	TransactionByHash(ctx context.Context, hash ethcommon.Hash) (tx *types.Transaction, isPending bool, err error)

	BalanceAt(ctx context.Context, address ethcommon.Address) (*big.Int, error)

	// NonceAt returns the nonce of address at the latest block
	NonceAt(ctx context.Context, address ethcommon.Address) (uint64, error)

	// PendingNonceAt returns the nonce of address including the mempool
	PendingNonceAt(ctx context.Context, address ethcommon.Address) (uint64, error)

	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// CallContract runs a read-only call against the latest block
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)

	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Signer holds the custodial keys
type Signer interface {
	// HasKey reports whether address is custodied
	HasKey(address ethcommon.Address) bool

	// Addresses lists every custodied address
	Addresses() []ethcommon.Address

	// SignTx signs tx with the key of from
	SignTx(from ethcommon.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Context is the chain context shared by every component. It is built once
// at startup and never mutated.
type Context struct {
	// Name identifies the chain in locks and cursors (e.g. "eip155:8996")
	Name string
	// ChainID is the EVM chain id used for signing
	ChainID *big.Int
	// GasProvider funds custodial accounts
	GasProvider ethcommon.Address
	Client      ChainClient
	Signer      Signer
}

// NewContext validates and builds a Context
func NewContext(name string, chainID int64, gasProvider string, client ChainClient, signer Signer) (*Context, error) {
	if !ethcommon.IsHexAddress(gasProvider) {
		return nil, errInvalidAddress(gasProvider)
	}
	if client == nil || signer == nil {
		return nil, errMissingCollaborator
	}
	return &Context{
		Name:        name,
		ChainID:     big.NewInt(chainID),
		GasProvider: ethcommon.HexToAddress(gasProvider),
		Client:      client,
		Signer:      signer,
	}, nil
}
