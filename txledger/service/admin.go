package service

import (
	"context"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/pushchain/txledger/txledger/chains/evm"
	lerrors "github.com/pushchain/txledger/txledger/errors"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/task"
)

// NonceReport compares the nonce views of one address
type NonceReport struct {
	Address string
	// Network is the pending nonce reported by the node
	Network uint64
	// Highest is the largest nonce recorded in the ledger, nil without rows
	Highest *uint64
	// Next is what the allocator issues next, nil before the first issue
	Next *uint64
	// Blocking is the row holding back later nonces, empty when none
	Blocking      string
	BlockingNonce *uint64
}

// Gap reports whether a failed transaction holds back the sequence
func (r *NonceReport) Gap() bool { return r.Blocking != "" }

// Shifted is the outcome of a nonce repair
type Shifted struct {
	*task.Future
	TxHashes []string
}

// CheckNonce reports the nonce state of address as seen by the node, the
// ledger and the allocator
func (s *Service) CheckNonce(ctx context.Context, addr string) (*NonceReport, error) {
	a, err := address("address", addr)
	if err != nil {
		return nil, err
	}
	report := &NonceReport{Address: a.Hex()}

	if report.Network, err = s.chain.Client.PendingNonceAt(ctx, a); err != nil {
		return nil, errors.Wrap(err, "failed to read pending nonce")
	}
	highest, ok, err := s.queue.HighestNonce(a.Hex())
	if err != nil {
		return nil, err
	}
	if ok {
		report.Highest = &highest
	}
	next, ok, err := s.reservations.Allocator().Peek(ctx, a.Hex())
	if err != nil {
		return nil, err
	}
	if ok {
		report.Next = &next
	}
	blocking, err := s.queue.Blocking(a.Hex())
	if err != nil {
		return nil, err
	}
	if blocking != nil {
		report.Blocking = blocking.TxHash
		report.BlockingNonce = &blocking.Nonce
	}
	return report, nil
}

// FixNonce closes the gap at nonce of address: the latest attempt for that
// nonce is voided and every later live transaction moves down by one
func (s *Service) FixNonce(ctx context.Context, addr string, nonce uint64) (*Shifted, error) {
	a, err := s.custodial("address", addr)
	if err != nil {
		return nil, err
	}
	group, err := s.queue.Group(a.Hex(), nonce)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return nil, lerrors.Integrity("no transaction of %s with nonce %d", a.Hex(), nonce)
	}
	hashes, fut, err := s.sender.Shift(ctx, group[len(group)-1].TxHash)
	if err != nil {
		return nil, err
	}
	return &Shifted{Future: fut, TxHashes: hashes}, nil
}

// RefillGas sends the configured refill from the gas provider to address.
// The provider itself cannot be refilled.
func (s *Service) RefillGas(ctx context.Context, addr string) (string, error) {
	a, err := address("address", addr)
	if err != nil {
		return "", err
	}
	if a == s.chain.GasProvider {
		return "", errors.Wrap(ErrInvalidRequest, "the gas provider cannot be refilled")
	}
	if err := s.locks.Check(ctx, a.Hex(), lock.Queue); err != nil {
		return "", err
	}
	return s.sender.Refill(ctx, a)
}

// Balance is the token balance of an address. Incoming and Outgoing are the
// values of live ledger rows not yet mined; both are zero unless requested.
type Balance struct {
	Address  string
	Token    string
	Network  *big.Int
	Incoming *big.Int
	Outgoing *big.Int
}

// Available is the network balance adjusted by the pending queue
func (b *Balance) Available() *big.Int {
	v := new(big.Int).Add(b.Network, b.Incoming)
	return v.Sub(v, b.Outgoing)
}

// Balance reads the balance of address in token, the native coin when token
// is empty or the zero address
func (s *Service) Balance(ctx context.Context, addr, token string, includePending bool) (*Balance, error) {
	a, err := address("address", addr)
	if err != nil {
		return nil, err
	}
	t := ethcommon.HexToAddress(queue.NativeToken)
	native := token == "" || strings.EqualFold(token, queue.NativeToken)
	if !native {
		if t, err = address("token", token); err != nil {
			return nil, err
		}
	}

	b := &Balance{Address: a.Hex(), Token: t.Hex(), Incoming: new(big.Int), Outgoing: new(big.Int)}
	if native {
		b.Network, err = s.chain.Client.BalanceAt(ctx, a)
	} else {
		b.Network, err = evm.TokenBalance(ctx, s.chain.Client, t, a)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read balance")
	}
	if !includePending {
		return b, nil
	}
	if b.Incoming, err = s.queue.PendingIncoming(a.Hex(), t.Hex()); err != nil {
		return nil, err
	}
	if b.Outgoing, err = s.queue.PendingOutgoing(a.Hex(), t.Hex()); err != nil {
		return nil, err
	}
	return b, nil
}
