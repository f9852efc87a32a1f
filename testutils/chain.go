package testutils

import (
	"bytes"
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/chains/evm"
	lerrors "github.com/pushchain/txledger/txledger/errors"
)

// Chain is an in-memory EVM node. It keeps a mempool, mines on demand and
// tracks balances and nonces for value transfers. Gas is not charged.
type Chain struct {
	mu sync.Mutex

	id       *big.Int
	signer   types.Signer
	blocks   []*types.Block
	receipts map[ethcommon.Hash]*types.Receipt
	mined    map[ethcommon.Hash]*types.Transaction
	pool     []*types.Transaction
	balances map[ethcommon.Address]*big.Int
	nonces   map[ethcommon.Address]uint64
	// tokens and allowances are ERC-20 state keyed by token contract
	tokens     map[tokenKey]*big.Int
	allowances map[allowanceKey]*big.Int

	gasPrice *big.Int
	down     bool
	sendErr  func(tx *types.Transaction) error
	sent     []*types.Transaction
}

var _ common.ChainClient = (*Chain)(nil)

type tokenKey struct{ token, holder ethcommon.Address }

type allowanceKey struct{ token, owner, spender ethcommon.Address }

// NewChain creates a chain with an empty genesis block
func NewChain() *Chain {
	c := &Chain{
		id:       big.NewInt(ChainID),
		signer:   types.NewEIP155Signer(big.NewInt(ChainID)),
		receipts: make(map[ethcommon.Hash]*types.Receipt),
		mined:    make(map[ethcommon.Hash]*types.Transaction),
		balances: make(map[ethcommon.Address]*big.Int),
		nonces:   make(map[ethcommon.Address]uint64),
		gasPrice: new(big.Int).Set(OneGwei),

		tokens:     make(map[tokenKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
	c.blocks = append(c.blocks, types.NewBlockWithHeader(&types.Header{Number: big.NewInt(0)}))
	return c
}

// SetDown makes every call fail as if the node were unreachable
func (c *Chain) SetDown(down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.down = down
}

// SetSendError installs a hook consulted before a transaction is accepted
func (c *Chain) SetSendError(fn func(tx *types.Transaction) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = fn
}

func (c *Chain) SetBalance(address ethcommon.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[address] = new(big.Int).Set(wei)
}

// SetTokenBalance sets the ERC-20 balance of holder on token
func (c *Chain) SetTokenBalance(token, holder ethcommon.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[tokenKey{token, holder}] = new(big.Int).Set(amount)
}

// SetAllowance sets what spender may move out of owner's balance of token
func (c *Chain) SetAllowance(token, owner, spender ethcommon.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowances[allowanceKey{token, owner, spender}] = new(big.Int).Set(amount)
}

func (c *Chain) SetGasPrice(wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(wei)
}

// SetNonce sets the confirmed nonce of address
func (c *Chain) SetNonce(address ethcommon.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[address] = nonce
}

// Sent returns every transaction accepted by SendTransaction
func (c *Chain) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Pending returns the mempool
func (c *Chain) Pending() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.pool...)
}

// Inclusion describes one transaction of a mined block
type Inclusion struct {
	Tx       *types.Transaction
	Reverted bool
	// Logs are appended after the ERC-20 Transfer log derived from the calldata
	Logs []*types.Log
}

// Mine appends a block holding the given transactions and returns its number.
// Transactions are removed from the mempool when present.
func (c *Chain) Mine(included ...Inclusion) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked(included)
}

// MinePending mines the whole mempool as successful transactions
func (c *Chain) MinePending() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	included := make([]Inclusion, 0, len(c.pool))
	for _, tx := range c.pool {
		included = append(included, Inclusion{Tx: tx})
	}
	return c.mineLocked(included)
}

// MineEmpty appends n empty blocks
func (c *Chain) MineEmpty(n int) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.mineLocked(nil)
	}
	return uint64(len(c.blocks) - 1)
}

func (c *Chain) mineLocked(included []Inclusion) uint64 {
	number := uint64(len(c.blocks))
	header := &types.Header{
		Number:     new(big.Int).SetUint64(number),
		ParentHash: c.blocks[number-1].Hash(),
		Time:       number,
	}
	txs := make([]*types.Transaction, 0, len(included))
	for _, inc := range included {
		txs = append(txs, inc.Tx)
	}
	block := types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})

	var logIndex uint
	for i, inc := range included {
		tx := inc.Tx
		receipt := &types.Receipt{
			Status:           types.ReceiptStatusSuccessful,
			TxHash:           tx.Hash(),
			BlockHash:        block.Hash(),
			BlockNumber:      new(big.Int).SetUint64(number),
			TransactionIndex: uint(i),
			GasUsed:          tx.Gas(),
		}
		if inc.Reverted {
			receipt.Status = types.ReceiptStatusFailed
		}

		from, err := types.Sender(c.signer, tx)
		if err == nil {
			if tx.Nonce()+1 > c.nonces[from] {
				c.nonces[from] = tx.Nonce() + 1
			}
			if !inc.Reverted && tx.To() != nil {
				c.applyLocked(from, tx, receipt)
			}
		}
		for _, l := range inc.Logs {
			l.TxHash = tx.Hash()
			l.BlockNumber = number
			l.TxIndex = uint(i)
			receipt.Logs = append(receipt.Logs, l)
		}

		for _, l := range receipt.Logs {
			l.BlockHash = block.Hash()
			l.Index = logIndex
			logIndex++
		}
		c.receipts[tx.Hash()] = receipt
		c.mined[tx.Hash()] = tx
		c.dropFromPoolLocked(tx.Hash())
	}

	c.blocks = append(c.blocks, block)
	return number
}

func (c *Chain) applyLocked(from ethcommon.Address, tx *types.Transaction, receipt *types.Receipt) {
	if v := tx.Value(); v.Sign() > 0 {
		c.balanceLocked(from).Sub(c.balanceLocked(from), v)
		c.balanceLocked(*tx.To()).Add(c.balanceLocked(*tx.To()), v)
	}
	call, ok := evm.ParseTokenCall(tx.Data())
	if !ok {
		return
	}
	token := *tx.To()
	switch call.Method {
	case "approve":
		c.allowances[allowanceKey{token, from, call.To}] = new(big.Int).Set(call.Amount)
		return
	case "transferFrom":
		k := allowanceKey{token, call.From, from}
		c.allowances[k] = new(big.Int).Sub(c.allowanceLocked(k), call.Amount)
		from = call.From
	}
	debit, credit := tokenKey{token, from}, tokenKey{token, call.To}
	c.tokens[debit] = new(big.Int).Sub(c.tokenLocked(debit), call.Amount)
	c.tokens[credit] = new(big.Int).Add(c.tokenLocked(credit), call.Amount)

	receipt.Logs = append(receipt.Logs, &types.Log{
		Address: token,
		Topics: []ethcommon.Hash{
			evm.TransferTopic,
			ethcommon.BytesToHash(from.Bytes()),
			ethcommon.BytesToHash(call.To.Bytes()),
		},
		Data:        ethcommon.LeftPadBytes(call.Amount.Bytes(), 32),
		TxHash:      tx.Hash(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxIndex:     receipt.TransactionIndex,
	})
}

func (c *Chain) tokenLocked(k tokenKey) *big.Int {
	if v, ok := c.tokens[k]; ok {
		return v
	}
	return new(big.Int)
}

func (c *Chain) allowanceLocked(k allowanceKey) *big.Int {
	if v, ok := c.allowances[k]; ok {
		return v
	}
	return new(big.Int)
}

func (c *Chain) balanceLocked(a ethcommon.Address) *big.Int {
	b, ok := c.balances[a]
	if !ok {
		b = new(big.Int)
		c.balances[a] = b
	}
	return b
}

func (c *Chain) dropFromPoolLocked(hash ethcommon.Hash) {
	for i, tx := range c.pool {
		if tx.Hash() == hash {
			c.pool = append(c.pool[:i], c.pool[i+1:]...)
			return
		}
	}
}

func (c *Chain) unreachable() error {
	if c.down {
		return lerrors.Transient(errors.New("connection refused"))
	}
	return nil
}

func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.id), nil
}

func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return 0, err
	}
	return uint64(len(c.blocks) - 1), nil
}

func (c *Chain) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	if number >= uint64(len(c.blocks)) {
		return nil, ethereum.NotFound
	}
	return c.blocks[number], nil
}

func (c *Chain) TransactionReceipt(ctx context.Context, hash ethcommon.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (c *Chain) TransactionByHash(ctx context.Context, hash ethcommon.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, false, err
	}
	if tx, ok := c.mined[hash]; ok {
		return tx, false, nil
	}
	for _, tx := range c.pool {
		if tx.Hash() == hash {
			return tx, true, nil
		}
	}
	return nil, false, ethereum.NotFound
}

func (c *Chain) BalanceAt(ctx context.Context, address ethcommon.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.balanceLocked(address)), nil
}

func (c *Chain) NonceAt(ctx context.Context, address ethcommon.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return 0, err
	}
	return c.nonces[address], nil
}

func (c *Chain) PendingNonceAt(ctx context.Context, address ethcommon.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return 0, err
	}
	nonce := c.nonces[address]
	for _, tx := range c.pool {
		from, err := types.Sender(c.signer, tx)
		if err == nil && from == address && tx.Nonce() >= nonce {
			nonce = tx.Nonce() + 1
		}
	}
	return nonce, nil
}

func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	return new(big.Int).Set(c.gasPrice), nil
}

// CallContract answers balanceOf and allowance calls on any token
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return nil, err
	}
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, RPCError{Code: -32000, Message: "execution reverted"}
	}
	token := *msg.To
	for name, method := range evm.ERC20.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, RPCError{Code: -32000, Message: "execution reverted"}
		}
		var v *big.Int
		switch name {
		case "balanceOf":
			v = c.tokenLocked(tokenKey{token, args[0].(ethcommon.Address)})
		case "allowance":
			v = c.allowanceLocked(allowanceKey{token, args[0].(ethcommon.Address), args[1].(ethcommon.Address)})
		default:
			return nil, RPCError{Code: -32000, Message: "execution reverted"}
		}
		return method.Outputs.Pack(v)
	}
	return nil, RPCError{Code: -32000, Message: "execution reverted"}
}

// SendTransaction accepts tx into the mempool. A transaction that is already
// known is refused the way geth refuses it.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.unreachable(); err != nil {
		return err
	}
	if c.sendErr != nil {
		if err := c.sendErr(tx); err != nil {
			return err
		}
	}
	if _, ok := c.mined[tx.Hash()]; ok {
		return RPCError{Code: -32000, Message: "already known"}
	}
	for _, p := range c.pool {
		if p.Hash() == tx.Hash() {
			return RPCError{Code: -32000, Message: "already known"}
		}
	}
	c.pool = append(c.pool, tx)
	c.sent = append(c.sent, tx)
	return nil
}

// RPCError is a JSON-RPC error answer
type RPCError struct {
	Code    int
	Message string
}

func (e RPCError) Error() string  { return e.Message }
func (e RPCError) ErrorCode() int { return e.Code }
