package errors

import (
	"fmt"
	"strings"
)

// Code names where an infrastructure failure came from
type Code string

const (
	// CodeNetwork means the endpoint could not be reached
	CodeNetwork Code = "network"
	// CodeRPC means every endpoint failed the call
	CodeRPC Code = "rpc"
	// CodeConfig means the client was built with unusable settings
	CodeConfig Code = "config"
	// CodeExhausted means RetryWithConfig ran out of attempts
	CodeExhausted Code = "exhausted"
)

// ChainError is a failure talking to a node or another endpoint outside the
// ledger. Network and RPC failures match ErrTransient under errors.Is.
type ChainError struct {
	Code     Code
	Chain    string
	Op       string
	Attempts int
	Cause    error
}

func (e *ChainError) Error() string {
	var b strings.Builder
	if e.Chain != "" {
		b.WriteString(e.Chain)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *ChainError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrTransient) see retryable chain errors
func (e *ChainError) Is(target error) bool {
	return target == ErrTransient && e.Retryable()
}

// Retryable reports whether another attempt may succeed
func (e *ChainError) Retryable() bool {
	return e.Code == CodeNetwork || e.Code == CodeRPC
}

// NewNetworkError reports an unreachable endpoint
func NewNetworkError(chain, op string, cause error) *ChainError {
	return &ChainError{Code: CodeNetwork, Chain: chain, Op: op, Cause: cause}
}

// NewRPCError reports a call every endpoint failed
func NewRPCError(chain, op string, cause error) *ChainError {
	return &ChainError{Code: CodeRPC, Chain: chain, Op: op, Cause: cause}
}

// NewConfigError reports unusable client settings
func NewConfigError(chain, op string) *ChainError {
	return &ChainError{Code: CodeConfig, Chain: chain, Op: op}
}
