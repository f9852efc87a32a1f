package testutils

import (
	"math/big"
)

// ChainID is the EVM chain id of the fake chain
const ChainID int64 = 8996

// ChainName is the chain identifier used in locks and cursors
const ChainName = "eip155:8996"

// Wei amounts used across tests
var (
	OneGwei = big.NewInt(1_000_000_000)
	// MinBalance matches the default gas safety threshold
	MinBalance, _ = new(big.Int).SetString("360000000000000", 10)
	// RefillAmount matches the default refill amount
	RefillAmount, _ = new(big.Int).SetString("1800000000000000", 10)
)
