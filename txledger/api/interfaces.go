package api

import (
	"context"
	"math/big"

	"github.com/pushchain/txledger/txledger/lock"
	"github.com/pushchain/txledger/txledger/service"
	"github.com/pushchain/txledger/txledger/status"
	"github.com/pushchain/txledger/txledger/store"
)

// Ledger defines the operations needed by the API server
type Ledger interface {
	SubmitTransfer(ctx context.Context, req service.TransferRequest) (*service.Submission, error)
	SubmitApprove(ctx context.Context, req service.ApproveRequest) (*service.Submission, error)
	QueryStatus(ctx context.Context, hash string) (*service.StatusEntry, error)
	Resend(ctx context.Context, hash string, gasPrice *big.Int, gasRatio float64, force bool) (*service.Submission, error)
	ListForAddress(ctx context.Context, query service.ListQuery) ([]service.StatusEntry, error)
	Lock(ctx context.Context, address string, flags lock.Flag) (lock.Flag, error)
	Unlock(ctx context.Context, address string, flags lock.Flag) (lock.Flag, error)
	GetLocks(ctx context.Context, address *string) ([]store.AddressLock, error)
	StateLog(ctx context.Context, hash string) ([]store.OtxStateLog, error)
	SyncTx(ctx context.Context, hash string) (status.Status, error)
	SubmitTransferFrom(ctx context.Context, req service.TransferFromRequest) (*service.Submission, error)
	CheckNonce(ctx context.Context, address string) (*service.NonceReport, error)
	FixNonce(ctx context.Context, address string, nonce uint64) (*service.Shifted, error)
	RefillGas(ctx context.Context, address string) (string, error)
	Balance(ctx context.Context, address, token string, includePending bool) (*service.Balance, error)
}

var _ Ledger = (*service.Service)(nil)
