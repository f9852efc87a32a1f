package evm

import (
	"bytes"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/common"
)

// NativeGasLimit is the gas of a plain value transfer
const NativeGasLimit = 21000

const erc20ABIJSON = `[
{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]},
{"type":"event","name":"Approval","inputs":[{"name":"owner","type":"address","indexed":true},{"name":"spender","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

// ERC20 is the parsed token ABI
var ERC20 = mustParseABI(erc20ABIJSON)

// TransferTopic is the topic of the ERC-20 Transfer event
var TransferTopic = ERC20.Events["Transfer"].ID

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Signed is a signed transaction ready to be queued
type Signed struct {
	Tx   *types.Transaction
	From ethcommon.Address
	// Raw is the 0x-prefixed RLP encoding
	Raw  string
	Hash string
}

// TxBuilder builds and signs legacy EIP-155 transactions
type TxBuilder struct {
	chain    *common.Context
	gasLimit uint64
}

// NewTxBuilder creates a builder. gasLimit applies to contract calls.
func NewTxBuilder(chain *common.Context, gasLimit uint64) *TxBuilder {
	return &TxBuilder{chain: chain, gasLimit: gasLimit}
}

// Native builds a value transfer
func (b *TxBuilder) Native(from, to ethcommon.Address, value *big.Int, nonce uint64, gasPrice *big.Int) (*Signed, error) {
	tx := types.NewTransaction(nonce, to, value, NativeGasLimit, gasPrice, nil)
	return b.sign(from, tx)
}

// Transfer builds an ERC-20 transfer(to, amount) call on token
func (b *TxBuilder) Transfer(from, token, to ethcommon.Address, amount *big.Int, nonce uint64, gasPrice *big.Int) (*Signed, error) {
	data, err := ERC20.Pack("transfer", to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode transfer")
	}
	tx := types.NewTransaction(nonce, token, big.NewInt(0), b.gasLimit, gasPrice, data)
	return b.sign(from, tx)
}

// Approve builds an ERC-20 approve(spender, amount) call on token
func (b *TxBuilder) Approve(from, token, spender ethcommon.Address, amount *big.Int, nonce uint64, gasPrice *big.Int) (*Signed, error) {
	data, err := ERC20.Pack("approve", spender, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode approve")
	}
	tx := types.NewTransaction(nonce, token, big.NewInt(0), b.gasLimit, gasPrice, data)
	return b.sign(from, tx)
}

// TransferFrom builds an ERC-20 transferFrom(owner, to, amount) call on token,
// signed by the approved spender
func (b *TxBuilder) TransferFrom(spender, token, owner, to ethcommon.Address, amount *big.Int, nonce uint64, gasPrice *big.Int) (*Signed, error) {
	data, err := ERC20.Pack("transferFrom", owner, to, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode transferFrom")
	}
	tx := types.NewTransaction(nonce, token, big.NewInt(0), b.gasLimit, gasPrice, data)
	return b.sign(spender, tx)
}

// Resign re-signs old with the same nonce, recipient, value and data at a
// new gas price
func (b *TxBuilder) Resign(old *types.Transaction, gasPrice *big.Int) (*Signed, error) {
	return b.Reissue(old, old.Nonce(), gasPrice)
}

// Reissue re-signs the payload of old under another nonce and gas price
func (b *TxBuilder) Reissue(old *types.Transaction, nonce uint64, gasPrice *big.Int) (*Signed, error) {
	from, err := b.Sender(old)
	if err != nil {
		return nil, err
	}
	if old.To() == nil {
		return nil, errors.New("cannot resign a contract creation")
	}
	tx := types.NewTransaction(nonce, *old.To(), old.Value(), old.Gas(), gasPrice, old.Data())
	return b.sign(from, tx)
}

// Sender recovers the signer of tx
func (b *TxBuilder) Sender(tx *types.Transaction) (ethcommon.Address, error) {
	from, err := types.Sender(types.NewEIP155Signer(b.chain.ChainID), tx)
	if err != nil {
		return ethcommon.Address{}, errors.Wrap(err, "failed to recover sender")
	}
	return from, nil
}

func (b *TxBuilder) sign(from ethcommon.Address, tx *types.Transaction) (*Signed, error) {
	signed, err := b.chain.Signer.SignTx(from, tx, b.chain.ChainID)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode signed transaction")
	}
	return &Signed{
		Tx:   signed,
		From: from,
		Raw:  hexutil.Encode(raw),
		Hash: signed.Hash().Hex(),
	}, nil
}

// DecodeSigned parses a 0x-prefixed signed transaction
func DecodeSigned(raw string) (*types.Transaction, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid signed transaction hex")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(b); err != nil {
		return nil, errors.Wrap(err, "failed to decode signed transaction")
	}
	return tx, nil
}

// TokenCall is a decoded ERC-20 transfer, approve or transferFrom
type TokenCall struct {
	Method string
	// From is the debited owner of a transferFrom, zero otherwise
	From ethcommon.Address
	// To is the transfer recipient or the approved spender
	To     ethcommon.Address
	Amount *big.Int
}

// ParseTokenCall decodes transfer, approve and transferFrom calldata. ok is
// false for any other payload.
func ParseTokenCall(data []byte) (call TokenCall, ok bool) {
	if len(data) < 4 {
		return call, false
	}
	for _, name := range []string{"transfer", "approve", "transferFrom"} {
		method := ERC20.Methods[name]
		if !bytes.Equal(data[:4], method.ID) {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil || len(args) != len(method.Inputs) {
			return call, false
		}
		call.Method = name
		if name == "transferFrom" {
			from, isAddr := args[0].(ethcommon.Address)
			if !isAddr {
				return TokenCall{}, false
			}
			call.From, args = from, args[1:]
		}
		to, ok1 := args[0].(ethcommon.Address)
		amount, ok2 := args[1].(*big.Int)
		if !ok1 || !ok2 {
			return TokenCall{}, false
		}
		call.To, call.Amount = to, amount
		return call, true
	}
	return call, false
}

// TransferLog is a decoded ERC-20 Transfer event
type TransferLog struct {
	Token ethcommon.Address
	From  ethcommon.Address
	To    ethcommon.Address
	Value *big.Int
}

// ParseTransferLog decodes an ERC-20 Transfer log
func ParseTransferLog(l *types.Log) (TransferLog, bool) {
	if len(l.Topics) != 3 || l.Topics[0] != TransferTopic {
		return TransferLog{}, false
	}
	return TransferLog{
		Token: l.Address,
		From:  ethcommon.BytesToAddress(l.Topics[1].Bytes()),
		To:    ethcommon.BytesToAddress(l.Topics[2].Bytes()),
		Value: new(big.Int).SetBytes(l.Data),
	}, true
}
