package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/common"
)

// TokenBalance reads balanceOf(holder) on token
func TokenBalance(ctx context.Context, client common.ChainClient, token, holder ethcommon.Address) (*big.Int, error) {
	return callUint(ctx, client, token, "balanceOf", holder)
}

// Allowance reads allowance(owner, spender) on token
func Allowance(ctx context.Context, client common.ChainClient, token, owner, spender ethcommon.Address) (*big.Int, error) {
	return callUint(ctx, client, token, "allowance", owner, spender)
}

func callUint(ctx context.Context, client common.ChainClient, token ethcommon.Address, method string, args ...any) (*big.Int, error) {
	data, err := ERC20.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s", method)
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, errors.Wrapf(err, "%s on %s", method, token.Hex())
	}
	values, err := ERC20.Unpack(method, out)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s answer", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.Errorf("unexpected %s answer", method)
	}
	return v, nil
}
