// Package service exposes the ledger operations used by the HTTP API and the
// CLI. Submissions follow one composition: admission check, nonce
// reservation, signing, recording, reservation release, then the gas and send
// pipeline on the task pool.
package service

import (
	"context"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/pushchain/txledger/txledger/chains/common"
	"github.com/pushchain/txledger/txledger/chains/evm"
	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/nonce"
	"github.com/pushchain/txledger/txledger/queue"
	"github.com/pushchain/txledger/txledger/sender"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
	"github.com/pushchain/txledger/txledger/task"
)

// ErrInvalidRequest marks malformed input
var ErrInvalidRequest = errors.New("invalid request")

// StatusEntry is the combined view of a ledger row
type StatusEntry = queue.Entry

// ListQuery selects rows touching an address
type ListQuery = queue.ListQuery

// TransferRequest moves Amount of Token from a custodial address. An empty
// Token or the zero address transfers native value.
type TransferRequest struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
}

// ApproveRequest sets the ERC-20 allowance of Spender
type ApproveRequest struct {
	From    string   `json:"from"`
	Token   string   `json:"token"`
	Spender string   `json:"spender"`
	Amount  *big.Int `json:"amount"`
}

// TransferFromRequest moves Amount of Token from From to To using the
// allowance From granted to the custodial Spender
type TransferFromRequest struct {
	Spender string   `json:"spender"`
	From    string   `json:"from"`
	To      string   `json:"to"`
	Token   string   `json:"token"`
	Amount  *big.Int `json:"amount"`
}

// Submission is the handle of a transaction handed to the pipeline
type Submission struct {
	*task.Future
	TxHash string
	Nonce  uint64
}

// Service implements the ledger operations of one chain
type Service struct {
	chain        *common.Context
	queue        *queue.Queue
	sender       *sender.Sender
	reservations *nonce.Reservations
	locks        *lock.Locker
	logger       zerolog.Logger
}

// New creates a Service
func New(
	chain *common.Context,
	q *queue.Queue,
	s *sender.Sender,
	reservations *nonce.Reservations,
	locks *lock.Locker,
	logger zerolog.Logger,
) *Service {
	return &Service{
		chain:        chain,
		queue:        q,
		sender:       s,
		reservations: reservations,
		locks:        locks,
		logger:       logger.With().Str("component", "service").Logger(),
	}
}

func (s *Service) custodial(field, addr string) (ethcommon.Address, error) {
	a, err := address(field, addr)
	if err != nil {
		return a, err
	}
	if !s.chain.Signer.HasKey(a) {
		return a, errors.Wrapf(ErrInvalidRequest, "%s %s is not a custodial address", field, a.Hex())
	}
	return a, nil
}

func address(field, addr string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(addr) {
		return ethcommon.Address{}, errors.Wrapf(ErrInvalidRequest, "%s %q is not an address", field, addr)
	}
	return ethcommon.HexToAddress(addr), nil
}

func amount(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return errors.Wrap(ErrInvalidRequest, "amount must be a non-negative integer")
	}
	return nil
}

// SubmitTransfer queues a token or native transfer
func (s *Service) SubmitTransfer(ctx context.Context, req TransferRequest) (*Submission, error) {
	from, err := s.custodial("from", req.From)
	if err != nil {
		return nil, err
	}
	to, err := address("to", req.To)
	if err != nil {
		return nil, err
	}
	if err := amount(req.Amount); err != nil {
		return nil, err
	}

	native := req.Token == "" || strings.EqualFold(req.Token, queue.NativeToken)
	token := ethcommon.HexToAddress(queue.NativeToken)
	if !native {
		if token, err = address("token", req.Token); err != nil {
			return nil, err
		}
	}

	return s.submit(ctx, "transfer", from, func(b *evm.TxBuilder, n uint64, price *big.Int) (*evm.Signed, error) {
		if native {
			return b.Native(from, to, req.Amount, n, price)
		}
		return b.Transfer(from, token, to, req.Amount, n, price)
	}, queue.CacheEntry{
		Sender:           from.Hex(),
		Recipient:        to.Hex(),
		SourceToken:      token.Hex(),
		DestinationToken: token.Hex(),
		FromValue:        req.Amount,
		ToValue:          req.Amount,
	})
}

// SubmitApprove queues an ERC-20 approve
func (s *Service) SubmitApprove(ctx context.Context, req ApproveRequest) (*Submission, error) {
	from, err := s.custodial("from", req.From)
	if err != nil {
		return nil, err
	}
	token, err := address("token", req.Token)
	if err != nil {
		return nil, err
	}
	spender, err := address("spender", req.Spender)
	if err != nil {
		return nil, err
	}
	if err := amount(req.Amount); err != nil {
		return nil, err
	}

	return s.submit(ctx, "approve", from, func(b *evm.TxBuilder, n uint64, price *big.Int) (*evm.Signed, error) {
		return b.Approve(from, token, spender, req.Amount, n, price)
	}, queue.CacheEntry{
		Sender:           from.Hex(),
		Recipient:        spender.Hex(),
		SourceToken:      token.Hex(),
		DestinationToken: token.Hex(),
		FromValue:        req.Amount,
		ToValue:          req.Amount,
	})
}

// SubmitTransferFrom queues an ERC-20 transferFrom signed by the spender. The
// allowance is read from the token first and an insufficient one is refused.
func (s *Service) SubmitTransferFrom(ctx context.Context, req TransferFromRequest) (*Submission, error) {
	spender, err := s.custodial("spender", req.Spender)
	if err != nil {
		return nil, err
	}
	owner, err := address("from", req.From)
	if err != nil {
		return nil, err
	}
	to, err := address("to", req.To)
	if err != nil {
		return nil, err
	}
	token, err := address("token", req.Token)
	if err != nil {
		return nil, err
	}
	if err := amount(req.Amount); err != nil {
		return nil, err
	}

	allowance, err := evm.Allowance(ctx, s.chain.Client, token, owner, spender)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read allowance")
	}
	if allowance.Cmp(req.Amount) < 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "allowance %s of %s for %s is below %s", allowance, owner.Hex(), spender.Hex(), req.Amount)
	}

	return s.submit(ctx, "transfer_from", spender, func(b *evm.TxBuilder, n uint64, price *big.Int) (*evm.Signed, error) {
		return b.TransferFrom(spender, token, owner, to, req.Amount, n, price)
	}, queue.CacheEntry{
		Sender:           spender.Hex(),
		Recipient:        to.Hex(),
		SourceToken:      token.Hex(),
		DestinationToken: token.Hex(),
		FromValue:        req.Amount,
		ToValue:          req.Amount,
	})
}

type buildFunc func(b *evm.TxBuilder, nonce uint64, gasPrice *big.Int) (*evm.Signed, error)

func (s *Service) submit(ctx context.Context, kind string, from ethcommon.Address, build buildFunc, entry queue.CacheEntry) (*Submission, error) {
	if err := s.locks.Check(ctx, from.Hex(), lock.Queue); err != nil {
		return nil, err
	}
	price, err := s.chain.Client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read gas price")
	}

	key := kind + ":" + uuid.NewString()
	n, err := s.reservations.Next(ctx, from.Hex(), key)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("kind", kind).Str("sender", from.Hex()).Uint64("nonce", n).Str("reservation", key).Logger()

	signed, err := build(s.sender.Builder(), n, price)
	if err != nil {
		log.Error().Err(err).Msg("signing failed, reservation kept for review")
		return nil, err
	}
	entry.GasPrice = price
	if _, err := s.sender.Enqueue(signed, entry); err != nil {
		log.Error().Err(err).Msg("recording failed, reservation kept for review")
		return nil, err
	}
	if _, err := s.reservations.Release(ctx, key); err != nil {
		return nil, err
	}

	log.Info().Str("tx_hash", signed.Hash).Msg("transaction queued")
	return &Submission{
		Future: s.sender.Submit(kind, []string{signed.Hash}),
		TxHash: signed.Hash,
		Nonce:  n,
	}, nil
}

// QueryStatus returns the combined view of hash
func (s *Service) QueryStatus(_ context.Context, hash string) (*StatusEntry, error) {
	return s.queue.Entry(hash)
}

// Resend replaces hash with a copy at a higher gas price. A nil gasPrice
// derives the price from gasRatio, or the configured factor when zero.
func (s *Service) Resend(ctx context.Context, hash string, gasPrice *big.Int, gasRatio float64, force bool) (*Submission, error) {
	if gasPrice != nil && gasPrice.Sign() <= 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "gas price must be positive")
	}
	if gasRatio < 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "gas ratio must be positive")
	}
	newHash, fut, err := s.sender.ResendWithHigherGas(ctx, hash, sender.ResendOptions{
		GasPrice: gasPrice,
		Factor:   gasRatio,
		Force:    force,
		Trigger:  sender.TriggerManual,
	})
	if err != nil {
		return nil, err
	}
	row, err := s.queue.Get(newHash)
	if err != nil {
		return nil, err
	}
	return &Submission{Future: fut, TxHash: newHash, Nonce: row.Nonce}, nil
}

// ListForAddress returns rows where address is sender and/or recipient
func (s *Service) ListForAddress(_ context.Context, query ListQuery) ([]StatusEntry, error) {
	if _, err := address("address", query.Address); err != nil {
		return nil, err
	}
	return s.queue.ListForAddress(query)
}

// Lock adds flags to address; an empty address is the global lock
func (s *Service) Lock(ctx context.Context, address string, flags lock.Flag) (lock.Flag, error) {
	return s.locks.Lock(ctx, address, flags, "")
}

// Unlock removes flags from address
func (s *Service) Unlock(ctx context.Context, address string, flags lock.Flag) (lock.Flag, error) {
	return s.locks.Unlock(ctx, address, flags)
}

// GetLocks lists locks, optionally of one address
func (s *Service) GetLocks(ctx context.Context, address *string) ([]store.AddressLock, error) {
	return s.locks.Get(ctx, address)
}

// StateLog returns the recorded transitions of hash
func (s *Service) StateLog(_ context.Context, hash string) ([]store.OtxStateLog, error) {
	return s.queue.StateLog(hash)
}

// SyncTx reconciles hash with the network
func (s *Service) SyncTx(ctx context.Context, hash string) (status.Status, error) {
	return s.sender.SyncTx(ctx, hash)
}
