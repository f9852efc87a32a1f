package evm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	lerrors "github.com/pushchain/txledger/txledger/errors"
)

// SendErrorClass is the outcome class of a failed submission
type SendErrorClass int

const (
	// SendOK means no error
	SendOK SendErrorClass = iota
	// SendTransient covers connectivity loss and timeouts
	SendTransient
	// SendResync means the node rejected the parameters; local state must be
	// re-read from the network
	SendResync
	// SendInvalid means the node could not decode the transaction
	SendInvalid
	// SendUnknown is anything else
	SendUnknown
)

func (c SendErrorClass) String() string {
	switch c {
	case SendOK:
		return "ok"
	case SendTransient:
		return "transient"
	case SendResync:
		return "resync"
	case SendInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// JSON-RPC error codes
const (
	codeInvalidRequest = -32600
	codeInvalidParams  = -32602
)

var resyncPatterns = []string{
	"nonce too low",
	"already known",
	"known transaction",
	"replacement transaction underpriced",
}

var invalidPatterns = []string{
	"rlp",
	"invalid sender",
	"transaction type not supported",
	"unsupported transaction type",
}

func matchAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ClassifySendError maps a SendTransaction error to its class
func ClassifySendError(err error) SendErrorClass {
	if err == nil {
		return SendOK
	}

	msg := strings.ToLower(err.Error())
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg = strings.ToLower(rpcErr.Error())
		switch {
		case matchAny(msg, resyncPatterns):
			return SendResync
		case matchAny(msg, invalidPatterns):
			return SendInvalid
		case rpcErr.ErrorCode() == codeInvalidParams:
			return SendResync
		case rpcErr.ErrorCode() == codeInvalidRequest:
			return SendInvalid
		}
		return SendUnknown
	}

	switch {
	case matchAny(msg, resyncPatterns):
		return SendResync
	case matchAny(msg, invalidPatterns):
		return SendInvalid
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || lerrors.IsTransient(err) {
		return SendTransient
	}
	return SendUnknown
}
