package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds callers match on with errors.Is. Call sites wrap them with
// github.com/pkg/errors so the kind survives any amount of context.
var (
	// ErrTransient marks connectivity loss and node timeouts. Retried by the
	// pipeline or syncer, never surfaced to the submitter.
	ErrTransient = errors.New("transient failure")

	// ErrRejected marks a node rejection for invalid parameters or encoding.
	ErrRejected = errors.New("rejected by node")

	// ErrStateViolation marks a transition requested on a row in an
	// incompatible state.
	ErrStateViolation = errors.New("state violation")

	// ErrIntegrity marks duplicate reservations and missing expected rows.
	ErrIntegrity = errors.New("integrity violation")

	// ErrUnclassified marks a send failure nothing else matched. The sender is
	// locked and an alert is recorded.
	ErrUnclassified = errors.New("unclassified failure")

	// ErrOutOfGas is returned by the gas check when the sender cannot pay.
	ErrOutOfGas = errors.New("out of gas")

	// ErrLocked means admission was refused by an address lock.
	ErrLocked = errors.New("address locked")
)

// Mark tags err with kind while keeping err in the chain.
func Mark(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Transient tags err as ErrTransient.
func Transient(err error) error {
	return Mark(ErrTransient, err)
}

// StateViolation builds an ErrStateViolation with a formatted reason.
func StateViolation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStateViolation, fmt.Sprintf(format, args...))
}

// Integrity builds an ErrIntegrity with a formatted reason.
func Integrity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// transientPatterns are connectivity failures recognised by message when
// the cause carries no kind
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"i/o timeout",
	"timeout",
	"deadline exceeded",
	"eof",
	"temporary failure",
	"too many requests",
	"rate limit",
}

// IsTransient reports whether err is worth retrying: tagged ErrTransient,
// a retryable ChainError, or a connectivity failure recognised by message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
