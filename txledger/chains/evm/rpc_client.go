package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	lerrors "github.com/pushchain/txledger/txledger/errors"
)

// RPCClient provides EVM RPC operations over a pool of endpoints with
// round-robin failover
type RPCClient struct {
	chain   string
	clients []*ethclient.Client
	index   uint64
	timeout time.Duration
	retry   *lerrors.RetryConfig
	mu      sync.RWMutex
	logger  zerolog.Logger
}

var _ common.ChainClient = (*RPCClient)(nil)

// NewRPCClient creates a new EVM RPC client from RPC URLs and validates chain ID
func NewRPCClient(chain string, rpcURLs []string, expectedChainID int64, timeout time.Duration, logger zerolog.Logger) (*RPCClient, error) {
	if len(rpcURLs) == 0 {
		return nil, lerrors.NewConfigError(chain, "no rpc urls configured")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	log := logger.With().Str("component", "evm_rpc_client").Str("chain", chain).Logger()
	clients := make([]*ethclient.Client, 0, len(rpcURLs))

	ctx, cancel := context.WithTimeout(context.Background(), 3*timeout)
	defer cancel()

	for _, url := range rpcURLs {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to connect to RPC endpoint, skipping")
			continue
		}

		clientChainID, err := client.ChainID(ctx)
		if err != nil {
			// Endpoint may be temporarily down; keep it in the pool and let
			// failover skip it.
			log.Warn().
				Err(err).
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Msg("failed to verify chain ID, proceeding with client anyway")
			clients = append(clients, client)
			continue
		}

		if clientChainID.Int64() != expectedChainID {
			client.Close()
			log.Warn().
				Str("url", url).
				Int64("expected_chain_id", expectedChainID).
				Int64("actual_chain_id", clientChainID.Int64()).
				Msg("chain ID mismatch, closing client")
			continue
		}

		clients = append(clients, client)
		log.Info().Str("url", url).Msg("connected to RPC endpoint")
	}

	if len(clients) == 0 {
		return nil, lerrors.NewNetworkError(chain, "connect to any rpc endpoint", nil)
	}

	retry := lerrors.DefaultRetryConfig()
	retry.InitialDelay = 200 * time.Millisecond
	retry.MaxDelay = 2 * time.Second

	return &RPCClient{
		chain:   chain,
		clients: clients,
		timeout: timeout,
		retry:   retry,
		logger:  log,
	}, nil
}

// definitive reports whether err is an answer from the node rather than a
// failure to reach it. Definitive errors are never failed over or retried.
func definitive(err error) bool {
	if errors.Is(err, ethereum.NotFound) {
		return true
	}
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr)
}

// executeWithFailover executes a function with round-robin failover
func (rc *RPCClient) executeWithFailover(ctx context.Context, operation string, fn func(context.Context, *ethclient.Client) error) error {
	rc.mu.RLock()
	clients := rc.clients
	rc.mu.RUnlock()

	if len(clients) == 0 {
		return lerrors.NewRPCError(rc.chain, fmt.Sprintf("no RPC clients available for %s", operation), nil)
	}

	var lastErr error
	for attempt := 0; attempt < len(clients); attempt++ {
		if err := ctx.Err(); err != nil {
			return lerrors.Transient(err)
		}

		index := atomic.AddUint64(&rc.index, 1) - 1
		client := clients[index%uint64(len(clients))]

		callCtx, cancel := context.WithTimeout(ctx, rc.timeout)
		err := fn(callCtx, client)
		cancel()
		if err == nil || definitive(err) {
			return err
		}
		lastErr = err

		rc.logger.Warn().
			Str("operation", operation).
			Int("attempt", attempt+1).
			Err(err).
			Msg("operation failed, trying next endpoint")
	}

	return lerrors.NewRPCError(
		rc.chain,
		fmt.Sprintf("operation %s failed after trying %d endpoints", operation, len(clients)),
		lastErr,
	)
}

// read runs a read-only operation with failover and backoff. Errors that are
// not answers from a node come back tagged ErrTransient.
func (rc *RPCClient) read(ctx context.Context, operation string, fn func(context.Context, *ethclient.Client) error) error {
	var answer error
	err := lerrors.RetryWithConfig(ctx, func() error {
		err := rc.executeWithFailover(ctx, operation, fn)
		if err != nil && definitive(err) {
			answer = err
			return nil
		}
		return err
	}, rc.retry)
	if answer != nil {
		return answer
	}
	if err != nil {
		return lerrors.Transient(err)
	}
	return nil
}

// IsHealthy checks if any RPC in the pool answers
func (rc *RPCClient) IsHealthy(ctx context.Context) bool {
	_, err := rc.BlockNumber(ctx)
	return err == nil
}

func (rc *RPCClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := rc.read(ctx, "chain_id", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		id, innerErr = c.ChainID(ctx)
		return innerErr
	})
	return id, err
}

func (rc *RPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	var n uint64
	err := rc.read(ctx, "block_number", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		n, innerErr = c.BlockNumber(ctx)
		return innerErr
	})
	return n, err
}

func (rc *RPCClient) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := rc.read(ctx, "block_by_number", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		block, innerErr = c.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return innerErr
	})
	return block, err
}

func (rc *RPCClient) TransactionReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := rc.read(ctx, "transaction_receipt", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		receipt, innerErr = c.TransactionReceipt(ctx, hash)
		return innerErr
	})
	return receipt, err
}

func (rc *RPCClient) TransactionByHash(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error) {
	var (
		tx      *types.Transaction
		pending bool
	)
	err := rc.read(ctx, "transaction_by_hash", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		tx, pending, innerErr = c.TransactionByHash(ctx, hash)
		return innerErr
	})
	return tx, pending, err
}

func (rc *RPCClient) BalanceAt(ctx context.Context, address ethcommon.Address) (*big.Int, error) {
	var balance *big.Int
	err := rc.read(ctx, "balance_at", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		balance, innerErr = c.BalanceAt(ctx, address, nil)
		return innerErr
	})
	return balance, err
}

func (rc *RPCClient) NonceAt(ctx context.Context, address ethcommon.Address) (uint64, error) {
	var nonce uint64
	err := rc.read(ctx, "nonce_at", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		nonce, innerErr = c.NonceAt(ctx, address, nil)
		return innerErr
	})
	return nonce, err
}

func (rc *RPCClient) PendingNonceAt(ctx context.Context, address ethcommon.Address) (uint64, error) {
	var nonce uint64
	err := rc.read(ctx, "pending_nonce_at", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		nonce, innerErr = c.PendingNonceAt(ctx, address)
		return innerErr
	})
	return nonce, err
}

func (rc *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := rc.read(ctx, "suggest_gas_price", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		price, innerErr = c.SuggestGasPrice(ctx)
		return innerErr
	})
	return price, err
}

func (rc *RPCClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var out []byte
	err := rc.read(ctx, "call_contract", func(ctx context.Context, c *ethclient.Client) error {
		var innerErr error
		out, innerErr = c.CallContract(ctx, msg, nil)
		return innerErr
	})
	return out, err
}

// SendTransaction submits a signed transaction. Endpoints are failed over
// but never retried with backoff; the caller classifies the outcome.
func (rc *RPCClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	err := rc.executeWithFailover(ctx, "send_transaction", func(ctx context.Context, c *ethclient.Client) error {
		return c.SendTransaction(ctx, tx)
	})
	if err != nil && !definitive(err) {
		return lerrors.Transient(err)
	}
	return err
}

// Close closes all RPC connections
func (rc *RPCClient) Close() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	for _, client := range rc.clients {
		if client != nil {
			client.Close()
		}
	}
	rc.clients = nil
}
